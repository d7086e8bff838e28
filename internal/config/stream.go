// Package config defines the immutable per-stream attribute set (the
// "Stream" of the data model) along with the persisted engine-wide
// defaults that seed it.
package config

import "fmt"

// ProxyKind selects how NetworkReader should dial out.
type ProxyKind int

const (
	ProxyNone ProxyKind = iota
	ProxyHTTP
	ProxySOCKS
	ProxySystem
)

func (k ProxyKind) String() string {
	switch k {
	case ProxyHTTP:
		return "http"
	case ProxySOCKS:
		return "socks"
	case ProxySystem:
		return "system"
	default:
		return "none"
	}
}

// Proxy describes the egress path for NetworkReader. Host/Port are unused
// for ProxyNone and ProxySystem.
type Proxy struct {
	Kind ProxyKind
	Host string
	Port int
}

func (p Proxy) String() string {
	if p.Kind == ProxyNone || p.Kind == ProxySystem {
		return p.Kind.String()
	}
	return fmt.Sprintf("%s(%s:%d)", p.Kind, p.Host, p.Port)
}

// FileType is the explicit container/codec hint for PacketParser. Zero
// value means "infer from MIME, then extension, then fall back to MP3".
type FileType int

const (
	FileTypeUnspecified FileType = iota
	FileTypeMP3
	FileTypeAAC
	FileTypeWAV
)

func (t FileType) String() string {
	switch t {
	case FileTypeMP3:
		return "mp3"
	case FileTypeAAC:
		return "aac"
	case FileTypeWAV:
		return "wav"
	default:
		return "unspecified"
	}
}

// Bounds on the tunable pre-start attributes, enforced by Clamp.
const (
	MinPlaybackRate = 0.5
	MaxPlaybackRate = 2.0
	MinVolume       = 0.0
	MaxVolume       = 1.0

	DefaultBufferCount            = 256
	DefaultBufferSize             = 4096
	DefaultBufferFillCountToStart = 32
	DefaultTimeoutSeconds         = 10
	DefaultPlaybackRate           = 1.0
	DefaultVolume                 = 1.0
)

// StreamOptions is the full pre-start attribute set of one Stream (§3).
// Every field here is frozen the instant the owning engine leaves
// INITIALIZED; StreamEngine.start takes a copy and never looks at this
// struct again.
type StreamOptions struct {
	URL      string
	Proxy    Proxy
	FileType FileType

	BufferCount            int
	BufferSize             int
	BufferFillCountToStart int
	BufferInfinite         bool

	TimeoutSeconds int

	PlaybackRate float64
	Volume       float64
}

// DefaultStreamOptions returns the attribute set described in §3, for a
// single URL. Callers mutate the returned value before Start; the engine
// clamps it once more as a backstop.
func DefaultStreamOptions(url string) StreamOptions {
	return StreamOptions{
		URL:                    url,
		FileType:               FileTypeUnspecified,
		BufferCount:            DefaultBufferCount,
		BufferSize:             DefaultBufferSize,
		BufferFillCountToStart: DefaultBufferFillCountToStart,
		BufferInfinite:         false,
		TimeoutSeconds:         DefaultTimeoutSeconds,
		PlaybackRate:           DefaultPlaybackRate,
		Volume:                 DefaultVolume,
	}
}

// Clamp enforces the invariants from §3 and the boundary behavior in §8:
// a fill-count-to-start larger than the ring is not an error, it just
// saturates to the ring size.
func (o *StreamOptions) Clamp() {
	if o.BufferCount <= 0 {
		o.BufferCount = DefaultBufferCount
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.BufferFillCountToStart > o.BufferCount {
		o.BufferFillCountToStart = o.BufferCount
	}
	if o.BufferFillCountToStart <= 0 {
		o.BufferFillCountToStart = 1
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if o.PlaybackRate < MinPlaybackRate {
		o.PlaybackRate = MinPlaybackRate
	}
	if o.PlaybackRate > MaxPlaybackRate {
		o.PlaybackRate = MaxPlaybackRate
	}
	if o.Volume < MinVolume {
		o.Volume = MinVolume
	}
	if o.Volume > MaxVolume {
		o.Volume = MaxVolume
	}
}
