package config

import "testing"

func TestDefaultStreamOptions(t *testing.T) {
	opts := DefaultStreamOptions("https://example.com/stream.mp3")

	if opts.BufferCount != DefaultBufferCount {
		t.Errorf("BufferCount = %d, want %d", opts.BufferCount, DefaultBufferCount)
	}
	if opts.BufferFillCountToStart != DefaultBufferFillCountToStart {
		t.Errorf("BufferFillCountToStart = %d, want %d", opts.BufferFillCountToStart, DefaultBufferFillCountToStart)
	}
	if opts.FileType != FileTypeUnspecified {
		t.Errorf("FileType = %v, want FileTypeUnspecified", opts.FileType)
	}
}

func TestClampFillCountFallsBackToBufferCount(t *testing.T) {
	opts := DefaultStreamOptions("u")
	opts.BufferCount = 16
	opts.BufferFillCountToStart = 999

	opts.Clamp()

	if opts.BufferFillCountToStart != 16 {
		t.Errorf("BufferFillCountToStart = %d, want 16 (clamped to BufferCount)", opts.BufferFillCountToStart)
	}
}

func TestClampPlaybackRate(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.1, MinPlaybackRate},
		{3.0, MaxPlaybackRate},
		{1.5, 1.5},
	}

	for _, tt := range tests {
		opts := DefaultStreamOptions("u")
		opts.PlaybackRate = tt.in
		opts.Clamp()
		if opts.PlaybackRate != tt.want {
			t.Errorf("Clamp(%v) PlaybackRate = %v, want %v", tt.in, opts.PlaybackRate, tt.want)
		}
	}
}

func TestClampVolume(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-1, MinVolume},
		{2, MaxVolume},
		{0.5, 0.5},
	}

	for _, tt := range tests {
		opts := DefaultStreamOptions("u")
		opts.Volume = tt.in
		opts.Clamp()
		if opts.Volume != tt.want {
			t.Errorf("Clamp(%v) Volume = %v, want %v", tt.in, opts.Volume, tt.want)
		}
	}
}

func TestClampZeroBufferCount(t *testing.T) {
	opts := DefaultStreamOptions("u")
	opts.BufferCount = 0
	opts.Clamp()
	if opts.BufferCount != DefaultBufferCount {
		t.Errorf("BufferCount = %d, want %d", opts.BufferCount, DefaultBufferCount)
	}
}

func TestProxyString(t *testing.T) {
	p := Proxy{Kind: ProxyHTTP, Host: "proxy.local", Port: 3128}
	if got := p.String(); got != "http(proxy.local:3128)" {
		t.Errorf("Proxy.String() = %q", got)
	}

	none := Proxy{Kind: ProxyNone}
	if got := none.String(); got != "none" {
		t.Errorf("Proxy.String() = %q, want %q", got, "none")
	}
}
