// Package network implements the NetworkReader stage (§4.1): it opens an
// HTTP(S) (or raw ICY) byte stream to a URL, surfaces response headers,
// and delivers raw bytes to the engine's control loop. Back-pressure is
// implemented by Schedule/Unschedule, which gate the read loop without
// closing the underlying socket.
package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/errs"
	"github.com/audiopipe/streamctl/internal/proxy"
)

const readChunkSize = 4096

// Callbacks is the stage-callback sink the engine hands to a Reader at
// construction time. The reader never holds a reference back to the
// engine; every event is delivered through these functions, which the
// engine implements by posting onto its own control loop (§5, §9
// "Cyclic callback graph").
type Callbacks struct {
	OnHeaders func(h http.Header, statusCode int)
	OnBytes   func(data []byte)
	OnEOF     func()
	OnError   func(kind errs.Kind, detail string)
}

// Reader is the NetworkReader of §4.1.
type Reader struct {
	cb Callbacks

	mu        sync.Mutex
	scheduled bool
	gate      chan struct{}

	timeoutSuspended atomic.Bool
	skipNextTimeout  atomic.Bool
	lastActivity     atomic.Int64 // unix nanos

	closeOnce sync.Once
	closeCh   chan struct{}
	cancel    context.CancelFunc

	body io.ReadCloser
	conn net.Conn // set only on the raw-ICY fallback path

	wg sync.WaitGroup
}

// NewReader constructs a Reader bound to cb. Nothing happens until Open.
func NewReader(cb Callbacks) *Reader {
	gate := make(chan struct{})
	close(gate) // start scheduled: reads proceed immediately

	return &Reader{
		cb:        cb,
		scheduled: true,
		gate:      gate,
		closeCh:   make(chan struct{}),
	}
}

// Open issues the GET (with Range: bytes=N- when byteOffset > 0), honors
// proxyCfg, and on success starts the background read loop and timeout
// ticker. OnHeaders/OnError is invoked synchronously before Open returns
// for the connect phase; OnBytes/OnEOF/OnError for read failures are
// delivered asynchronously from the read-loop goroutine.
func (r *Reader) Open(ctx context.Context, rawURL string, byteOffset int64, proxyCfg config.Proxy, timeoutSeconds int) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	transport, err := proxy.NewTransport(proxyCfg)
	if err != nil {
		cancel()
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return fmt.Errorf("build transport: %w", err)
	}

	client := resty.New().SetTransport(transport).SetTimeout(0)

	req := client.R().SetContext(ctx).SetDoNotParseResponse(true)
	req.Header.Set("Icy-Metadata", "1")
	if byteOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", byteOffset))
	}

	resp, err := req.Get(rawURL)
	if err != nil {
		if isMalformedStatusLine(err) {
			return r.openRawICY(ctx, rawURL, timeoutSeconds)
		}
		cancel()
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return err
	}

	status := resp.StatusCode()
	if status != http.StatusOK && status != http.StatusPartialContent {
		resp.RawBody().Close()
		cancel()
		detail := fmt.Sprintf("unexpected status %d", status)
		r.cb.OnError(errs.NetworkConnectionFailed, detail)
		return errs.New(errs.NetworkConnectionFailed, detail)
	}

	r.body = resp.RawBody()
	r.markActivity()
	r.cb.OnHeaders(resp.Header(), status)

	r.startLoops(timeoutSeconds)
	return nil
}

// isMalformedStatusLine detects the classic Shoutcast v1 "ICY 200 OK"
// status line, which net/http's response parser rejects outright.
func isMalformedStatusLine(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "malformed HTTP") || strings.Contains(msg, "malformed MIME")
}

// openRawICY falls back to a hand-rolled request/response for servers
// that speak quasi-HTTP ICY/1.0 instead of real HTTP (§4.2: "Header
// parsing also accepts in-body ICY headers when the initial response is
// a raw ICY (non-HTTP) reply"). Proxies are not supported on this path.
func (r *Reader) openRawICY(ctx context.Context, rawURL string, timeoutSeconds int) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return err
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		host += ":80"
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return err
	}

	path := u.RequestURI()
	if path == "" {
		path = "/"
	}
	request := fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %s\r\nIcy-MetaData: 1\r\nConnection: close\r\n\r\n", path, u.Host)
	if _, err := io.WriteString(conn, request); err != nil {
		conn.Close()
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return err
	}

	br := bufio.NewReader(conn)
	statusLine, err := br.ReadString('\n')
	if err != nil {
		conn.Close()
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return err
	}
	log.Debug().Str("status", strings.TrimSpace(statusLine)).Msg("raw ICY status line")

	headers, err := readRawHeaders(br)
	if err != nil {
		conn.Close()
		r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
		return err
	}

	r.conn = conn
	r.body = &bufferedConnReader{r: br, c: conn}
	r.markActivity()
	r.cb.OnHeaders(headers, http.StatusOK)

	r.startLoops(timeoutSeconds)
	return nil
}

// readRawHeaders reads "Key: value" lines until a blank line, as raw ICY
// servers emit instead of a real HTTP header block.
func readRawHeaders(br *bufio.Reader) (http.Header, error) {
	tp := textproto.NewReader(br)
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		// An error before any header line was parsed is treated as an
		// empty header block (the read loop surfaces a broken connection
		// later); an error after some headers were read is a failure.
		// io.EOF returns whatever headers were read.
		if len(mimeHeader) == 0 {
			return http.Header{}, nil
		}
		return nil, err
	}
	return http.Header(mimeHeader), nil
}

type bufferedConnReader struct {
	r *bufio.Reader
	c net.Conn
}

func (b *bufferedConnReader) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *bufferedConnReader) Close() error                 { return b.c.Close() }

func (r *Reader) startLoops(timeoutSeconds int) {
	r.wg.Add(2)
	go r.readLoop()
	go r.timeoutLoop(timeoutSeconds)
}

func (r *Reader) markActivity() {
	r.lastActivity.Store(time.Now().UnixNano())
}

func (r *Reader) readLoop() {
	defer r.wg.Done()
	defer r.body.Close()

	buf := make([]byte, readChunkSize)

	for {
		if !r.waitUntilScheduled() {
			return
		}

		n, err := r.body.Read(buf)
		if n > 0 {
			r.markActivity()
			data := make([]byte, n)
			copy(data, buf[:n])
			r.cb.OnBytes(data)
		}

		if err != nil {
			if err == io.EOF {
				r.cb.OnEOF()
			} else {
				select {
				case <-r.closeCh:
					// Stop() closed the body out from under us; not a real error.
				default:
					r.cb.OnError(errs.NetworkConnectionFailed, err.Error())
				}
			}
			return
		}
	}
}

// waitUntilScheduled blocks while the reader is unscheduled (back-pressure)
// and returns false if Close was called while waiting.
func (r *Reader) waitUntilScheduled() bool {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()

	select {
	case <-gate:
		return true
	case <-r.closeCh:
		return false
	}
}

// Schedule resumes byte delivery after a prior Unschedule. Per §4.1, the
// next timeout tick is skipped so a long back-pressure pause never reads
// as a spurious stall.
func (r *Reader) Schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.scheduled {
		return
	}
	r.scheduled = true
	r.skipNextTimeout.Store(true)
	close(r.gate)
}

// Unschedule pauses byte delivery without closing the socket: the TCP
// receive window fills and the remote paces down (§5).
func (r *Reader) Unschedule() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.scheduled {
		return
	}
	r.scheduled = false
	r.gate = make(chan struct{})
}

// SuspendTimeoutChecks stops the timeout ticker from firing, used while
// the engine is PAUSED.
func (r *Reader) SuspendTimeoutChecks() { r.timeoutSuspended.Store(true) }

// ResumeTimeoutChecks re-arms the timeout ticker after a PAUSED->PLAYING
// transition, skipping exactly one check first.
func (r *Reader) ResumeTimeoutChecks() {
	r.skipNextTimeout.Store(true)
	r.timeoutSuspended.Store(false)
}

func (r *Reader) timeoutLoop(timeoutSeconds int) {
	defer r.wg.Done()

	if timeoutSeconds <= 0 {
		timeoutSeconds = config.DefaultTimeoutSeconds
	}
	interval := time.Duration(timeoutSeconds) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.closeCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			scheduled := r.scheduled
			r.mu.Unlock()

			if r.timeoutSuspended.Load() || !scheduled {
				continue
			}
			if r.skipNextTimeout.Swap(false) {
				continue
			}

			last := time.Unix(0, r.lastActivity.Load())
			if time.Since(last) >= interval {
				r.cb.OnError(errs.TimedOut, fmt.Sprintf("no data for %s", interval))
				return
			}
		}
	}
}

// Close tears down the reader. Safe to call more than once and safe to
// call concurrently with the read loop.
func (r *Reader) Close() {
	r.closeOnce.Do(func() {
		close(r.closeCh)
		if r.cancel != nil {
			r.cancel()
		}
		if r.body != nil {
			r.body.Close()
		}
	})
	r.wg.Wait()
}

// HeadersToBitrate extracts icy-br (kbps) if present, 0 otherwise.
func HeadersToBitrate(h http.Header) int {
	v := h.Get("icy-br")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// HeadersToMetaInt extracts icy-metaint if present, 0 otherwise.
func HeadersToMetaInt(h http.Header) int {
	v := h.Get("icy-metaint")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0
	}
	return n
}

// HeadersToContentLength extracts Content-Length if present, -1 otherwise.
func HeadersToContentLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// ParseContentRange extracts the start offset from a "Content-Range:
// bytes start-end/total" header, used to confirm a seek's byte offset
// and mark the stream seekable.
func ParseContentRange(h http.Header) (start int64, seekable bool) {
	v := h.Get("Content-Range")
	if v == "" {
		return 0, false
	}
	v = strings.TrimPrefix(v, "bytes ")
	dash := strings.Index(v, "-")
	if dash < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(v[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
