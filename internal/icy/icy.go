// Package icy implements the IcyDemuxer stage (§4.2): it strips the
// inline metadata blocks Shoutcast/Icecast servers interleave into the
// audio byte stream at a fixed interval, and publishes StreamTitle
// updates as they complete.
package icy

import "strings"

// Context is the demuxer's running state (§3 IcyContext). A zero Context
// with MetaInterval == 0 is transparent: Feed returns its input unchanged.
type Context struct {
	MetaInterval int // bytes of audio between metadata blocks; 0 = not ICY

	dataBytesRead      int
	metaBytesRemaining int
	metaAccumulator    strings.Builder
}

// NewContext builds a Context for a stream whose icy-metaint header was
// metaInterval. A metaInterval of 0 means the stream is not ICY.
func NewContext(metaInterval int) *Context {
	return &Context{MetaInterval: metaInterval}
}

// IsICY reports whether this context strips metadata at all.
func (c *Context) IsICY() bool { return c.MetaInterval > 0 }

// Feed consumes raw bytes from NetworkReader and returns the audio bytes
// with any metadata blocks stripped, plus zero or more completed
// StreamTitle values parsed out of those blocks (almost always zero or
// one, since MetaInterval is normally much larger than len(raw)).
func (c *Context) Feed(raw []byte) (audio []byte, titles []string) {
	if !c.IsICY() {
		return raw, nil
	}

	audio = make([]byte, 0, len(raw))

	for i := 0; i < len(raw); i++ {
		b := raw[i]

		if c.metaBytesRemaining > 0 {
			c.metaAccumulator.WriteByte(b)
			c.metaBytesRemaining--
			if c.metaBytesRemaining == 0 {
				if title, ok := parseStreamTitle(c.metaAccumulator.String()); ok {
					titles = append(titles, title)
				}
				c.metaAccumulator.Reset()
			}
			continue
		}

		if c.dataBytesRead == c.MetaInterval {
			length := int(b) * 16
			c.dataBytesRead = 0
			if length == 0 {
				// §8: an empty-length block produces no update, no error.
				continue
			}
			c.metaBytesRemaining = length
			continue
		}

		audio = append(audio, b)
		c.dataBytesRead++
	}

	return audio, titles
}

// parseStreamTitle extracts StreamTitle='...' from a metadata block,
// which is formatted as semicolon-terminated Key='Value' pairs,
// null-padded to a multiple of 16 bytes.
func parseStreamTitle(block string) (string, bool) {
	block = strings.TrimRight(block, "\x00")

	const key = "StreamTitle='"
	start := strings.Index(block, key)
	if start < 0 {
		return "", false
	}
	start += len(key)

	end := strings.Index(block[start:], "';")
	if end < 0 {
		// Tolerate a missing trailing semicolon (some encoders omit it).
		end = strings.LastIndex(block[start:], "'")
		if end < 0 {
			return "", false
		}
	}

	return block[start : start+end], true
}

// ParseHeaderBlock parses a raw in-body ICY header block (used when the
// initial response is a quasi-HTTP ICY/1.0 reply rather than real HTTP):
// lines are "Key: value" or "Key:value" until a blank line.
func ParseHeaderBlock(lines []string) map[string]string {
	result := make(map[string]string)
	for _, line := range lines {
		if line == "" {
			break
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:colon]))
		val := strings.TrimSpace(line[colon+1:])
		result[key] = val
	}
	return result
}
