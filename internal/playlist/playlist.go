// Package playlist implements PlaylistCoordinator (§4.7): an ordered URL
// queue that owns at most one StreamEngine at a time, advancing
// automatically on EOF, retrying bounded network drops from the last
// known seek position, and reporting high-level events to a Listener.
// Like Engine, every public method posts a closure onto a single control
// loop so the queue, retry counters, and current engine are only ever
// touched from one goroutine (§5).
package playlist

import (
	"bufio"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/engine"
	"github.com/audiopipe/streamctl/internal/errs"
	"github.com/audiopipe/streamctl/internal/resumecache"
)

// DefaultMaxRetries is the bounded auto-retry attempt count for a
// Network*/TimedOut DONE(Error) (§4.7: "up to a bounded attempt count
// (e.g., 3)").
const DefaultMaxRetries = 3

// DefaultLowWaterMark is the remaining-queue-length threshold below which
// play()/next() emit RunningOutOfSongs.
const DefaultLowWaterMark = 2

// baseRetryDelay/maxRetryDelay bound the auto-retry back-off. The teacher
// uses a single fixed RetryDelay; we grow it exponentially per attempt
// since the spec explicitly allows either.
const (
	baseRetryDelay = 2 * time.Second
	maxRetryDelay  = 16 * time.Second
)

// Listener receives the high-level events enumerated in §4.7.
type Listener interface {
	NewSongPlaying(url string)
	NoSongsLeft()
	RunningOutOfSongs()
	CreatedNewStream(url string)
	StreamError(err *errs.Error)
	AttemptingNewSong(attempt, maxAttempts int)
}

type pubSnapshot struct {
	currentURL string
	engine     *engine.Engine
	paused     bool
	queueLen   int
}

// Coordinator is the PlaylistCoordinator of §4.7.
type Coordinator struct {
	listener   Listener
	opts       config.StreamOptions // template; URL is replaced per song
	cache      *resumecache.Cache
	maxRetries int
	lowWater   int
	retryBase  time.Duration // base of the retry back-off; defaults to baseRetryDelay

	events chan func()

	mu  sync.RWMutex
	pub pubSnapshot

	// loop-owned only below; never touched outside a posted closure.
	queue             []string
	current           string
	engineInst        *engine.Engine
	paused            bool
	stopping          bool
	nexting           bool
	retrying          bool
	tries             int
	announcedPlaying  bool
	lastKnownSeekTime float64
	pendingSeek       float64
	pendingSeekActive bool
	volume            float64
	volumeSet         bool
}

// New constructs a Coordinator. opts supplies the per-stream defaults
// (buffer sizing, proxy, playback rate, ...) applied to every engine the
// coordinator creates; its URL field is ignored and overwritten per song.
func New(opts config.StreamOptions, listener Listener) *Coordinator {
	cache, err := resumecache.New()
	if err != nil {
		log.Debug().Err(err).Msg("resume cache unavailable, auto-retry will not preserve seek position across restarts")
		cache = nil
	}

	c := &Coordinator{
		listener:   listener,
		opts:       opts,
		cache:      cache,
		maxRetries: DefaultMaxRetries,
		lowWater:   DefaultLowWaterMark,
		retryBase:  baseRetryDelay,
		events:     make(chan func(), 32),
		volume:     opts.Volume,
	}
	c.publish()
	go c.run()
	return c
}

func (c *Coordinator) run() {
	for fn := range c.events {
		fn()
	}
}

func (c *Coordinator) post(fn func()) {
	c.events <- fn
}

func (c *Coordinator) notify(fn func(Listener)) {
	if c.listener != nil {
		fn(c.listener)
	}
}

func (c *Coordinator) publish() {
	c.mu.Lock()
	c.pub = pubSnapshot{
		currentURL: c.current,
		engine:     c.engineInst,
		paused:     c.paused,
		queueLen:   len(c.queue),
	}
	c.mu.Unlock()
}

func (c *Coordinator) snapshot() pubSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pub
}

// AddSong appends url to the queue. If play is true and nothing is
// currently playing, playback of this url begins immediately (§4.7).
func (c *Coordinator) AddSong(url string, play bool) {
	c.post(func() { c.handleAddSong(url, play) })
}

func (c *Coordinator) handleAddSong(url string, play bool) {
	c.queue = append(c.queue, url)
	c.publish()
	if play && c.engineInst == nil {
		c.handlePlay()
	}
}

// RemoveAt removes the queued entry at index i, a no-op if out of range.
func (c *Coordinator) RemoveAt(i int) {
	c.post(func() { c.handleRemoveAt(i) })
}

func (c *Coordinator) handleRemoveAt(i int) {
	if i < 0 || i >= len(c.queue) {
		return
	}
	c.queue = append(c.queue[:i], c.queue[i+1:]...)
	c.publish()
}

// Clear empties the queue without touching whatever is currently playing.
func (c *Coordinator) Clear() {
	c.post(func() {
		c.queue = nil
		c.publish()
	})
}

// Play resumes a paused engine, starts the head of the queue, or emits
// NoSongsLeft if both are unavailable (§4.7).
func (c *Coordinator) Play() {
	c.post(func() { c.handlePlay() })
}

func (c *Coordinator) handlePlay() {
	if c.engineInst != nil && c.paused {
		c.engineInst.Play()
		c.paused = false
		c.publish()
		return
	}
	if len(c.queue) == 0 {
		c.notify(func(l Listener) { l.NoSongsLeft() })
		return
	}

	url := c.queue[0]
	c.queue = c.queue[1:]
	c.startEngineFor(url, 0)

	if len(c.queue) < c.lowWater {
		c.notify(func(l Listener) { l.RunningOutOfSongs() })
	}
}

// Pause forwards to the current engine if it is playing; otherwise a
// no-op (§4.7).
func (c *Coordinator) Pause() {
	c.post(func() {
		if c.engineInst != nil && c.engineInst.Playing() {
			c.engineInst.Pause()
			c.paused = true
			c.publish()
		}
	})
}

// Stop tears down the current engine. Re-entrant Stop calls while
// teardown is in flight are absorbed by the stopping guard (§4.7).
func (c *Coordinator) Stop() {
	c.post(func() { c.handleStop() })
}

func (c *Coordinator) handleStop() {
	if c.stopping {
		return
	}
	c.stopping = true
	defer func() { c.stopping = false }()

	c.teardownCurrent()
	c.current = ""
	c.publish()
}

// Next advances to the next queued song, or emits NoSongsLeft if the
// queue is empty. Re-entrant calls while a previous Next is still
// tearing down its engine are idempotent (the nexting guard).
func (c *Coordinator) Next() {
	c.post(func() { c.handleNext() })
}

func (c *Coordinator) handleNext() {
	if c.nexting {
		return
	}
	c.nexting = true
	defer func() { c.nexting = false }()

	if len(c.queue) == 0 {
		c.teardownCurrent()
		c.current = ""
		c.publish()
		c.notify(func(l Listener) { l.NoSongsLeft() })
		return
	}

	url := c.queue[0]
	c.queue = c.queue[1:]
	c.startEngineFor(url, 0)

	if len(c.queue) < c.lowWater {
		c.notify(func(l Listener) { l.RunningOutOfSongs() })
	}
}

// Retry is only meaningful while the current engine is DONE(Error) with a
// retryable kind; it reopens the same URL at lastKnownSeekTime.
func (c *Coordinator) Retry() {
	c.post(func() { c.handleRetry() })
}

func (c *Coordinator) handleRetry() {
	if c.engineInst == nil || !c.engineInst.IsDone() {
		return
	}
	reason := c.engineInst.DoneReason()
	if reason.Kind != engine.DoneError || reason.Err == nil || !reason.Err.Kind.Retryable() {
		return
	}
	url := c.current
	c.startEngineFor(url, c.lastKnownSeekTime)
}

// SetVolume clamps v and applies it to the current engine, also caching
// it for every subsequently created engine (§4.7: "deferred volume").
func (c *Coordinator) SetVolume(v float64) {
	c.post(func() { c.handleSetVolume(v) })
}

func (c *Coordinator) handleSetVolume(v float64) {
	if v < config.MinVolume {
		v = config.MinVolume
	}
	if v > config.MaxVolume {
		v = config.MaxVolume
	}
	c.volume = v
	c.volumeSet = true
	c.opts.Volume = v
	if c.engineInst != nil {
		c.engineInst.SetVolume(v)
	}
}

// IsPlaying, IsPaused, IsIdle, IsError, Duration, and Progress form the
// read-only half of the Playlist public surface (§4.7). They read the
// published snapshot, never the loop-owned fields directly.
func (c *Coordinator) IsPlaying() bool {
	s := c.snapshot()
	return s.engine != nil && s.engine.Playing()
}

func (c *Coordinator) IsPaused() bool {
	return c.snapshot().paused
}

func (c *Coordinator) IsIdle() bool {
	return c.snapshot().engine == nil
}

func (c *Coordinator) IsError() bool {
	s := c.snapshot()
	return s.engine != nil && s.engine.IsDone() && s.engine.DoneReason().Kind == engine.DoneError
}

func (c *Coordinator) Duration() (float64, bool) {
	s := c.snapshot()
	if s.engine == nil {
		return 0, false
	}
	return s.engine.Duration()
}

func (c *Coordinator) Progress() (float64, bool) {
	s := c.snapshot()
	if s.engine == nil {
		return 0, false
	}
	return s.engine.Progress()
}

func (c *Coordinator) QueueLen() int { return c.snapshot().queueLen }

func (c *Coordinator) CurrentURL() string { return c.snapshot().currentURL }

// startEngineFor tears down whatever engine is current, builds a fresh
// one for url seeded at seekTime (0 for "from the start"), and starts it.
// Resource ownership (§5): the coordinator holds at most one engine at a
// time; the prior one is sent Stop before the new one is created. That
// Stop runs on the prior engine's own loop and is not awaited, so its
// teardown may still be in progress when the new engine starts.
func (c *Coordinator) startEngineFor(url string, seekTime float64) {
	c.teardownCurrent()

	opts := c.opts
	opts.URL = url
	opts.Clamp()

	if seekTime == 0 && c.cache != nil {
		if saved, ok := c.cache.Get(url); ok {
			seekTime = saved
		}
	}

	e := engine.New(opts, c)
	c.engineInst = e
	c.current = url
	c.tries = 0
	c.retrying = false
	c.announcedPlaying = false
	c.paused = false
	c.lastKnownSeekTime = seekTime
	c.pendingSeek = seekTime
	c.pendingSeekActive = seekTime > 0
	c.publish()

	e.Start()
	if c.volumeSet {
		e.SetVolume(c.volume)
	}

	c.notify(func(l Listener) { l.CreatedNewStream(url) })
}

func (c *Coordinator) teardownCurrent() {
	if c.engineInst == nil {
		return
	}
	c.engineInst.Stop()
	c.engineInst = nil
	c.paused = false
	c.announcedPlaying = false
	c.pendingSeekActive = false
}

func (c *Coordinator) scheduleRetry(url string, seekTime float64, attempt int) {
	delay := c.retryBase << uint(attempt-1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	go func() {
		time.Sleep(delay)
		c.post(func() { c.handleRetryAttempt(url, seekTime, attempt) })
	}()
}

func (c *Coordinator) handleRetryAttempt(url string, seekTime float64, attempt int) {
	// A Next()/Stop()/addSong() may have already moved on while the
	// back-off was sleeping; don't resurrect a stale retry.
	if c.current != url || c.tries != attempt {
		return
	}
	// startEngineFor zeroes the counter for a new song; a retry keeps the
	// attempts already spent so the maxRetries bound holds.
	c.startEngineFor(url, seekTime)
	c.tries = attempt
	c.retrying = true
}

// StatusDidChange implements engine.Delegate. It runs on the engine's own
// control-loop goroutine, so it immediately re-posts onto the
// coordinator's loop rather than touching loop-owned fields directly.
func (c *Coordinator) StatusDidChange(e *engine.Engine) {
	c.post(func() { c.handleEngineStatusChange(e) })
}

// BitrateIsReady implements engine.Delegate.
func (c *Coordinator) BitrateIsReady(e *engine.Engine) {
	c.post(func() { c.handleBitrateReady(e) })
}

func (c *Coordinator) handleEngineStatusChange(e *engine.Engine) {
	if e != c.engineInst {
		return // stale callback from an engine already replaced/torn down
	}

	if e.Playing() {
		c.paused = false
		if t, ok := e.Progress(); ok {
			c.lastKnownSeekTime = t
		}
		if !c.announcedPlaying {
			c.announcedPlaying = true
			c.tries = 0
			c.retrying = false
			url := c.current
			c.notify(func(l Listener) { l.NewSongPlaying(url) })
		}
		c.publish()
	}

	if e.IsDone() {
		c.handleStreamDone(e)
	}
}

func (c *Coordinator) handleBitrateReady(e *engine.Engine) {
	if e != c.engineInst || !c.pendingSeekActive {
		return
	}
	c.pendingSeekActive = false
	e.SeekToTime(c.pendingSeek)
}

func (c *Coordinator) handleStreamDone(e *engine.Engine) {
	reason := e.DoneReason()
	url := c.current

	switch reason.Kind {
	case engine.DoneEOF:
		if c.cache != nil {
			c.cache.Forget(url)
		}
		c.handleNext()

	case engine.DoneStopped:
		// explicit Stop()/teardownCurrent already handled the transition

	case engine.DoneError:
		if t, ok := e.Progress(); ok {
			c.lastKnownSeekTime = t
		}
		if reason.Err != nil && reason.Err.Kind.Retryable() && c.tries < c.maxRetries {
			c.tries++
			c.retrying = true
			if c.cache != nil {
				c.cache.Save(url, c.lastKnownSeekTime)
			}
			attempt, maxAttempts := c.tries, c.maxRetries
			c.notify(func(l Listener) { l.AttemptingNewSong(attempt, maxAttempts) })
			c.scheduleRetry(url, c.lastKnownSeekTime, c.tries)
			return
		}
		c.retrying = false
		c.notify(func(l Listener) { l.StreamError(reason.Err) })
		c.handleNext()
	}
}

// ResolvePlaylistURL fetches rawURL and, if it names a .pls or .m3u(8)
// playlist file rather than a direct stream, extracts the stream URLs it
// lists. Direct stream URLs are returned unchanged as a single-element
// slice. Callers typically resolve a URL before AddSong when the caller
// can't tell in advance whether it points at a playlist file or a
// stream.
func ResolvePlaylistURL(ctx context.Context, rawURL string) ([]string, error) {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasSuffix(lower, ".pls"):
		return fetchAndParsePLS(ctx, rawURL)
	case strings.HasSuffix(lower, ".m3u"), strings.HasSuffix(lower, ".m3u8"):
		return fetchAndParseM3U(ctx, rawURL)
	default:
		return []string{rawURL}, nil
	}
}

// fetchAndParsePLS is adapted from the teacher's player.fetchAndParsePLS,
// ported onto resty (the client every other stage in this module uses)
// instead of a dedicated http.Client.
func fetchAndParsePLS(ctx context.Context, plsURL string) ([]string, error) {
	resp, err := resty.New().R().SetContext(ctx).SetDoNotParseResponse(true).Get(plsURL)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkConnectionFailed, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return nil, errs.New(errs.NetworkConnectionFailed, "playlist file returned status "+resp.Status())
	}

	var urls []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "File") && strings.Contains(line, "=") {
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 {
				if u := strings.TrimSpace(parts[1]); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.NetworkConnectionFailed, err)
	}
	if len(urls) == 0 {
		return nil, errs.New(errs.NetworkConnectionFailed, "no stream URL found in PLS file")
	}
	return urls, nil
}

// fetchAndParseM3U applies the same line-oriented extraction as
// fetchAndParsePLS to the M3U format: every non-blank line that isn't a
// "#" directive names a stream URL.
func fetchAndParseM3U(ctx context.Context, m3uURL string) ([]string, error) {
	resp, err := resty.New().R().SetContext(ctx).SetDoNotParseResponse(true).Get(m3uURL)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkConnectionFailed, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != 200 {
		return nil, errs.New(errs.NetworkConnectionFailed, "playlist file returned status "+resp.Status())
	}

	var urls []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.NetworkConnectionFailed, err)
	}
	if len(urls) == 0 {
		return nil, errs.New(errs.NetworkConnectionFailed, "no stream URL found in M3U file")
	}
	return urls, nil
}
