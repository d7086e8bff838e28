// Package engine implements the StreamEngine (§4.6): the state machine that
// owns one NetworkReader, one IcyDemuxer context, one PacketParser, one
// BufferRing, and one PlaybackSink for a single stream URL, and serializes
// every event the four stages deliver onto a single control loop (§5,
// §9 "Coroutines / async").
package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog/log"

	"github.com/audiopipe/streamctl/internal/bufring"
	"github.com/audiopipe/streamctl/internal/config"
	"github.com/audiopipe/streamctl/internal/errs"
	"github.com/audiopipe/streamctl/internal/icy"
	"github.com/audiopipe/streamctl/internal/network"
	"github.com/audiopipe/streamctl/internal/parser"
	"github.com/audiopipe/streamctl/internal/sink"
)

// feedChannelCapacity buffers raw audio bytes between the engine's control
// loop (producer, on network bytes) and the dedicated feeder goroutine
// (consumer, which may block inside Parser.Feed's pipe write). Ring
// saturation unschedules NetworkReader long before this fills in practice;
// it exists so the control loop's send never has to block.
const feedChannelCapacity = 64

// minPacketsForBitrateEstimate is the processedPackets threshold below
// which calculatedBitRate refuses to derive an estimate (§4.6).
const minPacketsForBitrateEstimate = 50

// State is one node of the StreamEngine state machine (§4.6).
type State int

const (
	StateInitialized State = iota
	StateWaitingForData
	StateWaitingForQueueToStart
	StatePlaying
	StatePaused
	StateDone
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateWaitingForData:
		return "waiting_for_data"
	case StateWaitingForQueueToStart:
		return "waiting_for_queue_to_start"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DoneReasonKind classifies why the engine reached DONE.
type DoneReasonKind int

const (
	DoneNone DoneReasonKind = iota
	DoneEOF
	DoneStopped
	DoneError
)

// DoneReason is the engine's terminal-state detail (§4.6, §7).
type DoneReason struct {
	Kind DoneReasonKind
	Err  *errs.Error // set only when Kind == DoneError
}

func (d DoneReason) String() string {
	switch d.Kind {
	case DoneEOF:
		return "eof"
	case DoneStopped:
		return "stopped"
	case DoneError:
		if d.Err != nil {
			return "error: " + d.Err.Error()
		}
		return "error"
	default:
		return "none"
	}
}

// Delegate receives the engine's two external events (§6). Both callbacks
// are invoked from the engine's control loop, never concurrently, and
// never after Stop/DONE (§8: "after stop(), no further delegate events").
type Delegate interface {
	StatusDidChange(e *Engine)
	BitrateIsReady(e *Engine)
}

// publishedState is the external-read snapshot, updated by publish() at
// the end of every control-loop handler and read under mu by the Engine's
// query/property methods, which may be called from any goroutine.
type publishedState struct {
	state      State
	doneReason DoneReason

	httpHeaders http.Header
	fileType    config.FileType
	fileLength  int64
	dataOffset  int64

	streamDesc *parser.StreamDescription
	currentSong string

	bitrateReady      bool
	calculatedBitrate float64

	seekTimeBase float64
	lastProgress float64

	sink *sink.Sink
}

// Engine is the StreamEngine of §4.6.
type Engine struct {
	opts     config.StreamOptions
	delegate Delegate

	events chan func()

	mu  sync.RWMutex
	pub publishedState

	// Everything below is touched only from the goroutine draining events;
	// it needs no lock.
	state      State
	doneReason DoneReason

	reader     *network.Reader
	icyCtx     *icy.Context
	parserInst *parser.Parser
	ring       *bufring.Ring
	sinkInst   *sink.Sink

	feedCh        chan []byte
	feedWG        sync.WaitGroup
	closeFeedOnce sync.Once

	httpHeaders http.Header
	fileType    config.FileType
	dataOffset  int64
	fileLength  int64
	seekable    bool

	icyBitrate        int
	streamDesc        *parser.StreamDescription
	processedPackets  int64
	processedBytes    int64
	bitrateReadyFired bool
	calculatedBitrate float64

	seekTimeBase  float64
	discontinuous bool
	networkEOF    bool
	parserEOF     bool

	currentSong string
}

// New builds an Engine bound to opts (clamped defensively) and delegate.
// Nothing happens until Start.
func New(opts config.StreamOptions, delegate Delegate) *Engine {
	opts.Clamp()

	e := &Engine{
		opts:       opts,
		delegate:   delegate,
		events:     make(chan func(), 256),
		state:      StateInitialized,
		fileLength: -1,
	}
	e.pub.state = StateInitialized
	e.pub.fileLength = -1
	e.pub.fileType = opts.FileType

	go e.run()
	return e
}

func (e *Engine) run() {
	for fn := range e.events {
		fn()
	}
}

// post submits fn to run on the control loop. It never blocks the caller
// beyond a channel send (§5: "suspension points: none").
func (e *Engine) post(fn func()) {
	e.events <- fn
}

func (e *Engine) isTerminal() bool {
	return e.state == StateDone || e.state == StateStopped
}

func (e *Engine) transition(next State) {
	log.Debug().Str("from", e.state.String()).Str("to", next.String()).Msg("engine state transition")
	e.state = next
}

func (e *Engine) notifyStatus() {
	if e.delegate != nil {
		e.delegate.StatusDidChange(e)
	}
}

// publish copies loop-owned state into the externally-readable snapshot.
// Call at the end of any handler that changed observable state.
func (e *Engine) publish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pub.state = e.state
	e.pub.doneReason = e.doneReason
	e.pub.httpHeaders = e.httpHeaders
	e.pub.fileType = e.fileType
	e.pub.fileLength = e.fileLength
	e.pub.dataOffset = e.dataOffset
	e.pub.streamDesc = e.streamDesc
	e.pub.currentSong = e.currentSong
	e.pub.bitrateReady = e.bitrateReadyFired
	e.pub.calculatedBitrate = e.calculatedBitrate
	e.pub.seekTimeBase = e.seekTimeBase
	e.pub.sink = e.sinkInst
}

// Start transitions INITIALIZED -> WAITING_FOR_DATA and opens NetworkReader.
func (e *Engine) Start() {
	e.post(e.handleStart)
}

func (e *Engine) handleStart() {
	if e.state != StateInitialized {
		return
	}

	e.ring = bufring.New(e.opts.BufferCount, e.opts.BufferSize, e.opts.BufferFillCountToStart, e.ringCallbacks())
	e.parserInst = parser.NewParser(e.parserCallbacks())
	e.sinkInst = sink.New(e.sinkCallbacks())

	e.feedCh = make(chan []byte, feedChannelCapacity)
	e.feedWG.Add(1)
	go e.feedLoop(e.feedCh, e.parserInst)

	e.transition(StateWaitingForData)
	e.openNetwork(0)
	e.publish()
	e.notifyStatus()
}

func (e *Engine) openNetwork(byteOffset int64) {
	e.reader = network.NewReader(e.networkCallbacks())
	reader := e.reader
	opts := e.opts
	go reader.Open(context.Background(), opts.URL, byteOffset, opts.Proxy, opts.TimeoutSeconds)
}

// feedLoop is the single goroutine permitted to call Parser.Feed, so byte
// order into the decoder is preserved even though the control loop never
// blocks on the pipe write itself. feedCh and parserInst are passed in
// (rather than read from e) because they are captured on the control loop
// at the moment the goroutine is spawned, before a later seek can replace
// either field out from under it.
func (e *Engine) feedLoop(feedCh chan []byte, parserInst *parser.Parser) {
	defer e.feedWG.Done()

	for chunk := range feedCh {
		if err := parserInst.Feed(chunk); err != nil {
			e.post(func() { e.fail(errs.FileStreamParseBytesFailed, err.Error()) })
			for range feedCh {
				// drain so the control loop's sends never block after a feed failure
			}
			return
		}
	}
	parserInst.Close()
}

// Stop is the universal cancellation (§5).
func (e *Engine) Stop() {
	e.post(e.handleStop)
}

func (e *Engine) handleStop() {
	if e.isTerminal() {
		return
	}
	e.doneReason = DoneReason{Kind: DoneStopped}
	e.teardownStages()
	e.transition(StateStopped)
	e.publish()
	e.notifyStatus()
}

func (e *Engine) teardownStages() {
	if e.reader != nil {
		reader := e.reader
		go reader.Close()
	}
	e.closeFeedOnce.Do(func() {
		if e.feedCh != nil {
			close(e.feedCh)
		}
	})
	if e.sinkInst != nil {
		e.sinkInst.Stop()
	}
}

// fail tears the engine down and transitions to DONE(Error). Re-entrant
// error delivery during an already-terminal state is suppressed (§7).
func (e *Engine) fail(kind errs.Kind, detail string) {
	if e.isTerminal() {
		return
	}
	log.Error().Str("kind", string(kind)).Str("detail", detail).Msg("engine failing stream")
	e.doneReason = DoneReason{Kind: DoneError, Err: errs.New(kind, detail)}
	e.teardownStages()
	e.transition(StateDone)
	e.publish()
	e.notifyStatus()
}

// Pause suspends playback and the reader's timeout checks.
func (e *Engine) Pause() {
	e.post(func() {
		if e.state != StatePlaying {
			return
		}
		if e.reader != nil {
			e.reader.SuspendTimeoutChecks()
		}
		e.sinkInst.Pause()
		e.transition(StatePaused)
		e.publish()
		e.notifyStatus()
	})
}

// Play resumes from PAUSED.
func (e *Engine) Play() {
	e.post(func() {
		if e.state != StatePaused {
			return
		}
		if e.reader != nil {
			e.reader.ResumeTimeoutChecks()
		}
		e.sinkInst.Resume()
		e.transition(StatePlaying)
		e.publish()
		e.notifyStatus()
	})
}

// SetVolume applies gain immediately if the sink exists, and always updates
// the frozen default used by the next Create.
func (e *Engine) SetVolume(v float64) {
	if v < config.MinVolume {
		v = config.MinVolume
	}
	if v > config.MaxVolume {
		v = config.MaxVolume
	}
	e.post(func() {
		e.opts.Volume = v
		if e.sinkInst != nil {
			e.sinkInst.SetVolume(v)
		}
	})
}

// FadeInDuration animates gain from 0 to the configured volume.
func (e *Engine) FadeInDuration(d time.Duration) error {
	done := make(chan error, 1)
	e.post(func() {
		if e.sinkInst == nil {
			done <- fmt.Errorf("sink not created")
			return
		}
		done <- e.sinkInst.FadeIn(d, e.opts.Volume)
	})
	return <-done
}

// FadeOutDuration animates gain from its current value to 0.
func (e *Engine) FadeOutDuration(d time.Duration) error {
	done := make(chan error, 1)
	e.post(func() {
		if e.sinkInst == nil {
			done <- fmt.Errorf("sink not created")
			return
		}
		done <- e.sinkInst.FadeOut(d)
	})
	return <-done
}

// SetHTTPProxy is ignored once the engine has left INITIALIZED (§8).
func (e *Engine) SetHTTPProxy(host string, port int) {
	e.post(func() {
		if e.state != StateInitialized {
			return
		}
		e.opts.Proxy = config.Proxy{Kind: config.ProxyHTTP, Host: host, Port: port}
	})
}

// SetSOCKSProxy is ignored once the engine has left INITIALIZED (§8).
func (e *Engine) SetSOCKSProxy(host string, port int) {
	e.post(func() {
		if e.state != StateInitialized {
			return
		}
		e.opts.Proxy = config.Proxy{Kind: config.ProxySOCKS, Host: host, Port: port}
	})
}

// SeekToTime requires bitrate and file length to already be known (§4.6).
// It returns false immediately if they are not; otherwise it accepts the
// seek and performs the actual teardown/reopen asynchronously.
func (e *Engine) SeekToTime(t float64) bool {
	e.mu.RLock()
	bitrate := e.pub.calculatedBitrate
	ready := e.pub.bitrateReady
	fileLength := e.pub.fileLength
	dataOffset := e.pub.dataOffset
	e.mu.RUnlock()

	if !ready || bitrate <= 0 || fileLength < 0 {
		return false
	}

	byteOffset := dataOffset + int64(math.Round(t*bitrate/8))
	if byteOffset < dataOffset {
		byteOffset = dataOffset
	}
	if byteOffset >= fileLength {
		byteOffset = fileLength - 1
	}
	if byteOffset < 0 {
		byteOffset = 0
	}

	e.post(func() { e.handleSeek(t, byteOffset) })
	return true
}

// SeekByDelta is seekToTime(progress() + d) (§4.6).
func (e *Engine) SeekByDelta(d float64) bool {
	progress, ok := e.Progress()
	if !ok {
		return false
	}
	return e.SeekToTime(progress + d)
}

func (e *Engine) handleSeek(t float64, byteOffset int64) {
	if e.isTerminal() {
		return
	}

	if e.reader != nil {
		reader := e.reader
		go reader.Close()
	}
	e.closeFeedOnce.Do(func() {
		if e.feedCh != nil {
			close(e.feedCh)
		}
	})
	if e.sinkInst != nil {
		e.sinkInst.Flush()
	}

	e.seekTimeBase = t
	e.discontinuous = true
	e.networkEOF = false
	e.parserEOF = false
	e.processedPackets = 0
	e.processedBytes = 0

	e.mu.Lock()
	e.pub.lastProgress = t
	e.mu.Unlock()

	e.closeFeedOnce = sync.Once{}
	e.feedCh = make(chan []byte, feedChannelCapacity)
	e.parserInst = parser.NewParser(e.parserCallbacks())
	e.ring = bufring.New(e.opts.BufferCount, e.opts.BufferSize, e.opts.BufferFillCountToStart, e.ringCallbacks())
	e.feedWG.Add(1)
	go e.feedLoop(e.feedCh, e.parserInst)

	e.transition(StateWaitingForData)
	e.openNetwork(byteOffset)
	e.publish()
	e.notifyStatus()
}

// Progress is seekTimeBase + sink.currentTime(), ratcheted so it never
// regresses across a pause (§4.6, §8).
func (e *Engine) Progress() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snk := e.pub.sink
	if snk == nil {
		return e.pub.lastProgress, false
	}
	elapsed, ok := snk.CurrentTime()
	if !ok {
		return e.pub.lastProgress, false
	}
	candidate := e.pub.seekTimeBase + elapsed.Seconds()
	if candidate > e.pub.lastProgress {
		e.pub.lastProgress = candidate
	}
	return e.pub.lastProgress, true
}

// Duration is (audioDataByteCount * 8) / bitrate (§4.6); audioDataByteCount
// is approximated as fileLength - dataOffset.
func (e *Engine) Duration() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.pub.fileLength < 0 || e.pub.calculatedBitrate <= 0 {
		return 0, false
	}
	audioDataByteCount := e.pub.fileLength - e.pub.dataOffset
	if audioDataByteCount < 0 {
		audioDataByteCount = 0
	}
	return float64(audioDataByteCount) * 8 / e.pub.calculatedBitrate, true
}

// CalculatedBitRate reports the most recent bits-per-second estimate.
func (e *Engine) CalculatedBitRate() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.pub.bitrateReady {
		return 0, false
	}
	return e.pub.calculatedBitrate, true
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.state
}

// DoneReason is only meaningful once State() == StateDone.
func (e *Engine) DoneReason() DoneReason {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.doneReason
}

func (e *Engine) Playing() bool { return e.State() == StatePlaying }
func (e *Engine) Paused() bool  { return e.State() == StatePaused }
func (e *Engine) Waiting() bool {
	s := e.State()
	return s == StateWaitingForData || s == StateWaitingForQueueToStart
}
func (e *Engine) IsDone() bool { return e.State() == StateDone }

// URL is frozen at construction; safe to read without a lock.
func (e *Engine) URL() string { return e.opts.URL }

func (e *Engine) BufferCount() int            { return e.opts.BufferCount }
func (e *Engine) BufferSize() int             { return e.opts.BufferSize }
func (e *Engine) BufferFillCountToStart() int { return e.opts.BufferFillCountToStart }
func (e *Engine) BufferInfinite() bool        { return e.opts.BufferInfinite }
func (e *Engine) TimeoutInterval() int        { return e.opts.TimeoutSeconds }
func (e *Engine) PlaybackRate() float64       { return e.opts.PlaybackRate }

func (e *Engine) HTTPHeaders() http.Header {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.httpHeaders
}

func (e *Engine) FileType() config.FileType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.fileType
}

func (e *Engine) StreamDescription() (parser.StreamDescription, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pub.streamDesc == nil {
		return parser.StreamDescription{}, false
	}
	return *e.pub.streamDesc, true
}

func (e *Engine) CurrentSong() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pub.currentSong
}

// networkCallbacks wraps NetworkReader's events, which arrive on its own
// goroutines, onto the control loop (§5).
func (e *Engine) networkCallbacks() network.Callbacks {
	return network.Callbacks{
		OnHeaders: func(h http.Header, status int) {
			e.post(func() { e.handleHeaders(h, status) })
		},
		OnBytes: func(data []byte) {
			e.post(func() { e.handleBytes(data) })
		},
		OnEOF: func() {
			e.post(func() { e.handleNetworkEOF() })
		},
		OnError: func(kind errs.Kind, detail string) {
			e.post(func() { e.fail(kind, detail) })
		},
	}
}

func (e *Engine) handleHeaders(h http.Header, status int) {
	if e.isTerminal() {
		return
	}

	e.httpHeaders = h
	e.icyCtx = icy.NewContext(network.HeadersToMetaInt(h))
	if br := network.HeadersToBitrate(h); br > 0 {
		e.icyBitrate = br
	}

	if status == http.StatusPartialContent {
		if start, seekable := network.ParseContentRange(h); seekable {
			e.dataOffset = start
			e.seekable = true
			if remaining := network.HeadersToContentLength(h); remaining >= 0 {
				e.fileLength = start + remaining
			}
		}
	} else if cl := network.HeadersToContentLength(h); cl >= 0 {
		e.fileLength = cl
	}

	e.fileType = parser.InferFileType(e.opts.FileType, h.Get("Content-Type"), e.opts.URL)
	if err := e.parserInst.Open(e.fileType); err != nil {
		// Parser.Open already delivered OnError(FileStreamOpenFailed) itself;
		// that posted closure is already queued behind this one.
		return
	}

	e.maybeFireBitrateReady()
	e.publish()
	e.notifyStatus()
}

func (e *Engine) handleBytes(data []byte) {
	if e.isTerminal() {
		return
	}

	audio := data
	if e.icyCtx != nil && e.icyCtx.IsICY() {
		var titles []string
		audio, titles = e.icyCtx.Feed(data)
		if len(titles) > 0 {
			e.currentSong = titles[len(titles)-1]
			e.publish()
			e.notifyStatus()
		}
	}

	if len(audio) == 0 {
		return
	}
	e.feedCh <- audio
}

func (e *Engine) handleNetworkEOF() {
	if e.isTerminal() {
		return
	}
	e.networkEOF = true
	e.closeFeedOnce.Do(func() {
		if e.feedCh != nil {
			close(e.feedCh)
		}
	})
}

func (e *Engine) parserCallbacks() parser.Callbacks {
	return parser.Callbacks{
		OnProperty: func(id parser.PropertyID, value any) {
			e.post(func() { e.handleParserProperty(id, value) })
		},
		OnPackets: func(samples [][2]float64, descs []parser.PacketDesc, bytesFedSoFar int64) {
			e.post(func() { e.handlePackets(samples, bytesFedSoFar) })
		},
		OnEOF: func() {
			e.post(func() { e.handleParserEOF() })
		},
		OnError: func(kind errs.Kind, detail string) {
			e.post(func() { e.fail(kind, detail) })
		},
	}
}

func (e *Engine) handleParserProperty(id parser.PropertyID, value any) {
	if e.isTerminal() {
		return
	}

	switch id {
	case parser.PropStreamDescription:
		desc, ok := value.(parser.StreamDescription)
		if !ok {
			return
		}
		e.streamDesc = &desc

		rate := beep.SampleRate(int(desc.SampleRate))
		if err := e.sinkInst.Create(rate, e.opts.Volume); err != nil {
			e.fail(errs.AudioQueueCreationFailed, err.Error())
			return
		}
		e.sinkInst.SetSampleRate(rate)
		e.sinkInst.SetPlaybackRate(e.opts.PlaybackRate)
	}

	e.publish()
}

func (e *Engine) handlePackets(samples [][2]float64, bytesFedSoFar int64) {
	if e.isTerminal() {
		return
	}

	if err := e.ring.AppendPacket(samples); err != nil {
		se, ok := err.(*errs.Error)
		if ok {
			e.fail(se.Kind, se.Detail)
		} else {
			e.fail(errs.AudioBufferTooSmall, err.Error())
		}
		return
	}

	e.processedPackets++
	e.processedBytes = bytesFedSoFar
	e.maybeFireBitrateReady()
	e.publish()
}

func (e *Engine) handleParserEOF() {
	if e.isTerminal() {
		return
	}
	e.parserEOF = true
	e.ring.FlushEOF()
	e.publish()
}

func (e *Engine) maybeFireBitrateReady() {
	if e.bitrateReadyFired {
		return
	}

	if e.icyBitrate > 0 {
		e.calculatedBitrate = float64(e.icyBitrate) * 1000
		e.fireBitrateReady()
		return
	}

	if e.streamDesc == nil || e.processedPackets < minPacketsForBitrateEstimate || e.processedBytes <= 0 {
		return
	}
	avgBytesPerPacket := float64(e.processedBytes) / float64(e.processedPackets)
	if avgBytesPerPacket <= 0 {
		return
	}
	e.calculatedBitrate = float64(e.streamDesc.FramesPerPacket) * e.streamDesc.SampleRate / avgBytesPerPacket
	e.fireBitrateReady()
}

func (e *Engine) fireBitrateReady() {
	e.bitrateReadyFired = true
	e.publish()
	if e.delegate != nil {
		e.delegate.BitrateIsReady(e)
	}
}

// ringCallbacks run synchronously on the control loop already (AppendPacket
// and FlushEOF are only ever called from there), so no post is needed.
func (e *Engine) ringCallbacks() bufring.Callbacks {
	return bufring.Callbacks{
		OnBufferFilled: func(buf bufring.FilledBuffer) {
			if err := e.sinkInst.Enqueue(buf); err != nil {
				e.fail(errs.AudioQueueEnqueueFailed, err.Error())
			}
		},
		OnSaturated: func() {
			if e.reader != nil && !e.opts.BufferInfinite {
				e.reader.Unschedule()
			}
		},
		OnDrained: func() {
			if e.reader != nil {
				e.reader.Schedule()
			}
		},
		OnThresholdReached: func() {
			if e.state != StateWaitingForData {
				return
			}
			e.transition(StateWaitingForQueueToStart)
			e.sinkInst.Start()
			e.publish()
			e.notifyStatus()
		},
	}
}

// sinkCallbacks wrap PlaybackSink's events, which arrive on beep's mixer
// goroutine, onto the control loop (§5's mandatory marshaling point).
func (e *Engine) sinkCallbacks() sink.Callbacks {
	return sink.Callbacks{
		OnBufferFree: func(i int) {
			e.post(func() { e.handleBufferFree(i) })
		},
		OnIsRunningChanged: func(running bool) {
			e.post(func() { e.handleRunningChanged(running) })
		},
	}
}

func (e *Engine) handleBufferFree(i int) {
	if e.isTerminal() {
		return
	}
	e.ring.MarkFree(i)
	e.publish()
}

func (e *Engine) handleRunningChanged(running bool) {
	if e.isTerminal() {
		return
	}

	if running {
		if e.state == StateWaitingForQueueToStart {
			e.transition(StatePlaying)
			e.publish()
			e.notifyStatus()
		}
		return
	}

	if e.state == StatePlaying && e.parserEOF && e.ring.OverflowLen() == 0 && e.ring.BuffersUsed() == 0 {
		e.doneReason = DoneReason{Kind: DoneEOF}
		e.teardownStages()
		e.transition(StateDone)
		e.publish()
		e.notifyStatus()
	}
	// Otherwise this is a transient starvation blip, not completion.
}
