package parser

import (
	"sync"
	"testing"
	"time"

	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/errs"
)

func TestInferFileTypeExplicitWins(t *testing.T) {
	got := InferFileType(config.FileTypeWAV, "audio/mpeg", "http://example.com/stream.mp3")
	if got != config.FileTypeWAV {
		t.Errorf("InferFileType() = %v, want WAV", got)
	}
}

func TestInferFileTypeFromMIME(t *testing.T) {
	got := InferFileType(config.FileTypeUnspecified, "audio/mpeg; charset=utf-8", "http://example.com/stream")
	if got != config.FileTypeMP3 {
		t.Errorf("InferFileType() = %v, want MP3", got)
	}
}

func TestInferFileTypeFromExtension(t *testing.T) {
	got := InferFileType(config.FileTypeUnspecified, "", "http://example.com/station.wav")
	if got != config.FileTypeWAV {
		t.Errorf("InferFileType() = %v, want WAV", got)
	}
}

func TestInferFileTypeDefaultsToMP3(t *testing.T) {
	got := InferFileType(config.FileTypeUnspecified, "", "http://example.com/stream")
	if got != config.FileTypeMP3 {
		t.Errorf("InferFileType() = %v, want MP3 fallback", got)
	}
}

func TestOpenAACIsUnsupported(t *testing.T) {
	errCh := make(chan *errs.Error, 1)
	cb := Callbacks{
		OnProperty: func(id PropertyID, value any) {},
		OnPackets:  func(samples [][2]float64, descs []PacketDesc, bytesFedSoFar int64) {},
		OnEOF:      func() {},
		OnError: func(kind errs.Kind, detail string) {
			errCh <- errs.New(kind, detail)
		},
	}
	p := NewParser(cb)

	err := p.Open(config.FileTypeAAC)
	if err == nil {
		t.Fatal("Open() with AAC should return an error")
	}

	select {
	case e := <-errCh:
		if e.Kind != errs.FileStreamOpenFailed {
			t.Errorf("error kind = %v, want FileStreamOpenFailed", e.Kind)
		}
	default:
		t.Fatal("OnError was not invoked for AAC")
	}
}

func TestFeedBeforeOpenFails(t *testing.T) {
	p := NewParser(Callbacks{
		OnProperty: func(id PropertyID, value any) {},
		OnPackets:  func(samples [][2]float64, descs []PacketDesc, bytesFedSoFar int64) {},
		OnEOF:      func() {},
		OnError:    func(kind errs.Kind, detail string) {},
	})

	if err := p.Feed([]byte{0x01}); err == nil {
		t.Fatal("Feed() before Open() should fail")
	}
}

func TestOpenMalformedMP3ReportsParseError(t *testing.T) {
	var (
		mu       sync.Mutex
		gotErr   *errs.Error
		errSeen  = make(chan struct{})
		closeErr sync.Once
	)

	cb := Callbacks{
		OnProperty: func(id PropertyID, value any) {},
		OnPackets:  func(samples [][2]float64, descs []PacketDesc, bytesFedSoFar int64) {},
		OnEOF:      func() {},
		OnError: func(kind errs.Kind, detail string) {
			mu.Lock()
			gotErr = errs.New(kind, detail)
			mu.Unlock()
			closeErr.Do(func() { close(errSeen) })
		},
	}

	p := NewParser(cb)
	if err := p.Open(config.FileTypeMP3); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer p.Close()

	if err := p.Feed([]byte("this is not a valid mp3 header at all, just garbage bytes")); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	p.pw.Close()

	select {
	case <-errSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnError on malformed mp3")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatal("expected an error to be reported")
	}
	if gotErr.Kind != errs.FileStreamOpenFailed && gotErr.Kind != errs.FileStreamParseBytesFailed {
		t.Errorf("error kind = %v, want FileStreamOpenFailed or FileStreamParseBytesFailed", gotErr.Kind)
	}
}

func TestCloseBeforeFeedIsSafe(t *testing.T) {
	p := NewParser(Callbacks{
		OnProperty: func(id PropertyID, value any) {},
		OnPackets:  func(samples [][2]float64, descs []PacketDesc, bytesFedSoFar int64) {},
		OnEOF:      func() {},
		OnError:    func(kind errs.Kind, detail string) {},
	})
	if err := p.Open(config.FileTypeMP3); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	p.Close()
}

func TestDoubleOpenFails(t *testing.T) {
	p := NewParser(Callbacks{
		OnProperty: func(id PropertyID, value any) {},
		OnPackets:  func(samples [][2]float64, descs []PacketDesc, bytesFedSoFar int64) {},
		OnEOF:      func() {},
		OnError:    func(kind errs.Kind, detail string) {},
	})
	if err := p.Open(config.FileTypeMP3); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	defer p.Close()

	if err := p.Open(config.FileTypeMP3); err == nil {
		t.Fatal("second Open() should fail")
	}
}
