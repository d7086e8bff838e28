package network

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/errs"
)

func TestHeadersToBitrate(t *testing.T) {
	h := http.Header{}
	h.Set("icy-br", "128")
	if got := HeadersToBitrate(h); got != 128 {
		t.Errorf("HeadersToBitrate() = %d, want 128", got)
	}

	if got := HeadersToBitrate(http.Header{}); got != 0 {
		t.Errorf("HeadersToBitrate() = %d, want 0 for missing header", got)
	}
}

func TestHeadersToMetaInt(t *testing.T) {
	h := http.Header{}
	h.Set("icy-metaint", "8192")
	if got := HeadersToMetaInt(h); got != 8192 {
		t.Errorf("HeadersToMetaInt() = %d, want 8192", got)
	}
}

func TestHeadersToContentLength(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Length", "1048576")
	if got := HeadersToContentLength(h); got != 1048576 {
		t.Errorf("HeadersToContentLength() = %d, want 1048576", got)
	}
	if got := HeadersToContentLength(http.Header{}); got != -1 {
		t.Errorf("HeadersToContentLength() = %d, want -1 for missing header", got)
	}
}

func TestParseContentRange(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Range", "bytes 160000-1048575/1048576")

	start, seekable := ParseContentRange(h)
	if !seekable {
		t.Fatal("ParseContentRange() seekable = false, want true")
	}
	if start != 160000 {
		t.Errorf("ParseContentRange() start = %d, want 160000", start)
	}

	if _, seekable := ParseContentRange(http.Header{}); seekable {
		t.Error("ParseContentRange() seekable = true for missing header")
	}
}

func newCollectingCallbacks() (Callbacks, *sync.Map) {
	var mu sync.Mutex
	var bytesSeen []byte
	eofCh := make(chan struct{}, 1)
	errCh := make(chan *errs.Error, 1)
	headersCh := make(chan http.Header, 1)

	store := &sync.Map{}
	store.Store("eof", eofCh)
	store.Store("err", errCh)
	store.Store("headers", headersCh)

	cb := Callbacks{
		OnHeaders: func(h http.Header, status int) {
			select {
			case headersCh <- h:
			default:
			}
		},
		OnBytes: func(data []byte) {
			mu.Lock()
			bytesSeen = append(bytesSeen, data...)
			store.Store("bytes", append([]byte(nil), bytesSeen...))
			mu.Unlock()
		},
		OnEOF: func() {
			select {
			case eofCh <- struct{}{}:
			default:
			}
		},
		OnError: func(kind errs.Kind, detail string) {
			select {
			case errCh <- errs.New(kind, detail):
			default:
			}
		},
	}
	return cb, store
}

func TestReaderOpenHappyPath(t *testing.T) {
	payload := make([]byte, 20000)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("icy-br", "128")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	cb, store := newCollectingCallbacks()
	r := NewReader(cb)
	defer r.Close()

	err := r.Open(context.Background(), srv.URL, 0, config.Proxy{Kind: config.ProxyNone}, 10)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	eofChVal, _ := store.Load("eof")
	eofCh := eofChVal.(chan struct{})

	select {
	case <-eofCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EOF")
	}

	bytesVal, ok := store.Load("bytes")
	if !ok {
		t.Fatal("no bytes observed")
	}
	got := bytesVal.([]byte)
	if len(got) != len(payload) {
		t.Fatalf("got %d bytes, want %d", len(got), len(payload))
	}
}

func TestReaderOpenNon2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cb, store := newCollectingCallbacks()
	r := NewReader(cb)
	defer r.Close()

	err := r.Open(context.Background(), srv.URL, 0, config.Proxy{Kind: config.ProxyNone}, 10)
	if err == nil {
		t.Fatal("expected error for 404 response")
	}

	errChVal, _ := store.Load("err")
	errCh := errChVal.(chan *errs.Error)
	select {
	case e := <-errCh:
		if e.Kind != errs.NetworkConnectionFailed {
			t.Errorf("error kind = %v, want NetworkConnectionFailed", e.Kind)
		}
	default:
		t.Fatal("OnError was not invoked")
	}
}

func TestReaderScheduleUnschedule(t *testing.T) {
	cb, _ := newCollectingCallbacks()
	r := NewReader(cb)

	if !r.scheduled {
		t.Fatal("new reader should start scheduled")
	}

	r.Unschedule()
	if r.scheduled {
		t.Error("Unschedule() did not clear scheduled")
	}

	done := make(chan struct{})
	go func() {
		r.waitUntilScheduled()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("waitUntilScheduled returned while unscheduled")
	case <-time.After(50 * time.Millisecond):
	}

	r.Schedule()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitUntilScheduled did not unblock after Schedule()")
	}

	r.Close()
}

func TestReaderDoubleCloseIsSafe(t *testing.T) {
	cb, _ := newCollectingCallbacks()
	r := NewReader(cb)
	r.closeCh = make(chan struct{})
	r.Close()
	r.Close()
}
