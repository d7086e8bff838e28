// Package parser implements the PacketParser stage (§4.3). It wraps a
// platform-ish decoder (beep's mp3/wav streamers stand in for the
// AudioFileStream the spec assumes) behind a push interface: raw bytes
// go in via Feed, decoded PCM "packets" and container properties come
// out via callbacks.
//
// Bytes arrive faster than the decoder wants them, so Feed writes into
// an io.Pipe and a background goroutine runs the decoder's pull loop,
// translating each completed Stream() call into one packet event.
package parser

import (
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"

	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/errs"
)

// decodeChunkFrames is the number of PCM frames requested per Stream()
// call; each call's output becomes one "packet" handed to BufferRing.
const decodeChunkFrames = 4096

// PropertyID identifies one of the PacketParser's derived properties (§4.3).
type PropertyID int

const (
	PropStreamDescription PropertyID = iota
	PropPacketBufferSize
)

// StreamDescription mirrors the subset of AudioStreamBasicDescription the
// spec's bitrate/duration math needs.
type StreamDescription struct {
	SampleRate      float64
	NumChannels     int
	BitsPerChannel  int
	FramesPerPacket int
}

// PacketDesc locates one packet's frames within the slice delivered
// alongside it. Offset is always 0 in this implementation (one decode
// call produces exactly one packet) but the field is kept so BufferRing
// can pack more than one packet per buffer without a type change.
type PacketDesc struct {
	Offset int
	Length int
}

// Callbacks is the stage-callback sink the engine hands to a Parser at
// construction time.
type Callbacks struct {
	OnProperty func(id PropertyID, value any)
	// OnPackets delivers one decode call's output plus the cumulative
	// count of raw (encoded) bytes Feed has received so far, which the
	// engine uses for calculatedBitRate (§4.6).
	OnPackets func(samples [][2]float64, descs []PacketDesc, bytesFedSoFar int64)
	OnEOF     func()
	OnError   func(kind errs.Kind, detail string)
}

// Parser is the PacketParser of §4.3.
type Parser struct {
	cb Callbacks

	pr *io.PipeReader
	pw *io.PipeWriter

	bytesFed atomic.Int64

	wg     sync.WaitGroup
	opened bool
	mu     sync.Mutex
}

func NewParser(cb Callbacks) *Parser {
	return &Parser{cb: cb}
}

// InferFileType resolves the spec's fallback chain: explicit type, then
// MIME type, then URL extension, then MP3 (§3, §4.3).
func InferFileType(explicit config.FileType, mimeType string, rawURL string) config.FileType {
	if explicit != config.FileTypeUnspecified {
		return explicit
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if semi := strings.Index(mimeType, ";"); semi >= 0 {
		mimeType = mimeType[:semi]
	}
	switch mimeType {
	case "audio/mpeg", "audio/mp3", "audio/x-mpeg":
		return config.FileTypeMP3
	case "audio/aac", "audio/aacp", "audio/x-aac":
		return config.FileTypeAAC
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return config.FileTypeWAV
	}

	switch strings.ToLower(path.Ext(rawURL)) {
	case ".mp3":
		return config.FileTypeMP3
	case ".aac":
		return config.FileTypeAAC
	case ".wav":
		return config.FileTypeWAV
	}

	return config.FileTypeMP3
}

// Open starts the decoder for fileType. It returns once the background
// decode goroutine is launched; OnError(FileStreamOpenFailed) arrives
// asynchronously if the container header never parses.
func (p *Parser) Open(fileType config.FileType) error {
	p.mu.Lock()
	if p.opened {
		p.mu.Unlock()
		return fmt.Errorf("parser already open")
	}
	p.opened = true
	p.mu.Unlock()

	if fileType == config.FileTypeAAC {
		p.cb.OnError(errs.FileStreamOpenFailed, "AAC container parsing is not available in this build")
		return errs.New(errs.FileStreamOpenFailed, "aac unsupported")
	}

	p.pr, p.pw = io.Pipe()

	p.wg.Add(1)
	go p.decodeLoop(fileType)
	return nil
}

// Feed writes raw (post-ICY-strip) audio bytes into the decode pipe.
func (p *Parser) Feed(data []byte) error {
	if p.pw == nil {
		return fmt.Errorf("parser not open")
	}
	if _, err := p.pw.Write(data); err != nil {
		return err
	}
	p.bytesFed.Add(int64(len(data)))
	return nil
}

// Close tears down the pipe and waits for the decode goroutine to exit.
func (p *Parser) Close() {
	if p.pw != nil {
		p.pw.Close()
	}
	if p.pr != nil {
		p.pr.Close()
	}
	p.wg.Wait()
}

func (p *Parser) decodeLoop(fileType config.FileType) {
	defer p.wg.Done()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
		err      error
	)

	switch fileType {
	case config.FileTypeWAV:
		streamer, format, err = wav.Decode(p.pr)
	default:
		streamer, format, err = mp3.Decode(p.pr)
	}

	if err != nil {
		p.cb.OnError(errs.FileStreamOpenFailed, err.Error())
		return
	}
	defer streamer.Close()

	desc := StreamDescription{
		SampleRate:      float64(format.SampleRate),
		NumChannels:     format.NumChannels,
		BitsPerChannel:  format.Precision * 8,
		FramesPerPacket: decodeChunkFrames,
	}
	p.cb.OnProperty(PropStreamDescription, desc)
	p.cb.OnProperty(PropPacketBufferSize, decodeChunkFrames)

	for {
		samples := make([][2]float64, decodeChunkFrames)
		n, ok := streamer.Stream(samples)
		if !ok {
			if streamErr := streamer.Err(); streamErr != nil {
				p.cb.OnError(errs.FileStreamParseBytesFailed, streamErr.Error())
			} else {
				p.cb.OnEOF()
			}
			return
		}

		descs := []PacketDesc{{Offset: 0, Length: n}}
		p.cb.OnPackets(samples[:n], descs, p.bytesFed.Load())
	}
}
