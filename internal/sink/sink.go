// Package sink implements the PlaybackSink stage (§4.5): it wraps the
// platform audio output (here, gopxl/beep's global speaker plus an
// effects.Volume and a beep.Ctrl, the same stack the teacher used for
// direct playback) behind an enqueue/buffer-free interface driven by
// filled ring buffers rather than a live decode stream.
package sink

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"

	"github.com/audiopipe/streamctl/internal/bufring"
	"github.com/audiopipe/streamctl/internal/errs"
)

// fadeTickInterval is the sampling period for the fade-in/out animation
// (§4.5: "animate ... via short-interval updates").
const fadeTickInterval = 20 * time.Millisecond

// speakerLatency mirrors the teacher's SpeakerBufferSize: the amount of
// audio the platform output buffers internally before it reaches the
// device, independent of our own BufferRing.
const speakerLatency = 250 * time.Millisecond

var (
	speakerMu       sync.Mutex
	speakerInitRate beep.SampleRate
)

// Callbacks is the stage-callback sink the engine supplies at construction.
type Callbacks struct {
	OnBufferFree       func(index int)
	OnIsRunningChanged func(running bool)
}

// Sink is the PlaybackSink of §4.5.
type Sink struct {
	cb Callbacks

	mu      sync.Mutex
	created bool
	stopped bool

	volume *effects.Volume
	ctrl   *beep.Ctrl
	pull   *pullStreamer

	fadeCancel chan struct{}
	fadeWG     sync.WaitGroup
}

func New(cb Callbacks) *Sink {
	return &Sink{cb: cb}
}

// Create initializes (or reuses) the global speaker at sampleRate and
// wires a fresh volume/ctrl graph for this stream.
func (s *Sink) Create(sampleRate beep.SampleRate, initialVolume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.created {
		return fmt.Errorf("sink already created")
	}

	if err := ensureSpeaker(sampleRate); err != nil {
		return errs.Wrap(errs.AudioQueueCreationFailed, err)
	}

	s.pull = &pullStreamer{
		onBufferFree: func(i int) {
			if s.cb.OnBufferFree != nil {
				s.cb.OnBufferFree(i)
			}
		},
		onRunningChanged: func(running bool) {
			if s.cb.OnIsRunningChanged != nil {
				s.cb.OnIsRunningChanged(running)
			}
		},
	}

	gain, silent := gainToLogVolume(initialVolume)
	s.volume = &effects.Volume{
		Streamer: s.pull,
		Base:     2,
		Volume:   gain,
		Silent:   silent,
	}
	s.ctrl = &beep.Ctrl{Streamer: s.volume, Paused: true}
	s.created = true

	speaker.Play(s.ctrl)
	return nil
}

func ensureSpeaker(rate beep.SampleRate) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerInitRate == rate {
		return nil
	}
	if err := speaker.Init(rate, rate.N(speakerLatency)); err != nil {
		return err
	}
	speakerInitRate = rate
	return nil
}

// Enqueue hands a filled ring buffer to the sink for playback.
func (s *Sink) Enqueue(buf bufring.FilledBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return fmt.Errorf("sink not created")
	}
	speaker.Lock()
	s.pull.enqueue(buf)
	speaker.Unlock()
	return nil
}

// Start allows the pull streamer to begin draining queued buffers instead
// of emitting silence (§4.4 start policy: the engine calls this once the
// fill threshold or EOF-with-data is reached).
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull == nil {
		return
	}
	speaker.Lock()
	s.pull.started = true
	s.ctrl.Paused = false
	speaker.Unlock()
}

func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = true
	speaker.Unlock()
}

func (s *Sink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return
	}
	speaker.Lock()
	s.ctrl.Paused = false
	speaker.Unlock()
}

// Flush discards any buffers not yet played and restarts the CurrentTime
// count from zero, without stopping playback (used on seek: the old byte
// range is abandoned but the sink graph survives for the reopened stream).
func (s *Sink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull == nil {
		return
	}
	speaker.Lock()
	s.pull.flush()
	speaker.Unlock()
}

// Stop tears the sink down permanently; the Sink is not reusable afterward.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancelFadeLocked()
	if s.pull != nil {
		speaker.Lock()
		s.pull.stopped = true
		speaker.Unlock()
	}
}

// SetVolume applies gain immediately (used outside of a fade animation).
func (s *Sink) SetVolume(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.volume == nil {
		return
	}
	v, silent := gainToLogVolume(gain)
	speaker.Lock()
	s.volume.Volume = v
	s.volume.Silent = silent
	speaker.Unlock()
}

// SetPlaybackRate adjusts playback speed by resampling the pull streamer
// against itself; rate 1.0 is unmodified, in [0.5, 2.0] per spec §3.
func (s *Sink) SetPlaybackRate(rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull == nil {
		return
	}
	speaker.Lock()
	s.pull.rate = rate
	speaker.Unlock()
}

// CurrentTime reports how many seconds of audio the sink has emitted since
// Create or the last Flush, used by the engine's progress() query (§4.6).
func (s *Sink) CurrentTime() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull == nil {
		return 0, false
	}
	speaker.Lock()
	framesPlayed := s.pull.framesPlayed
	rate := s.pull.sampleRate
	speaker.Unlock()
	if rate == 0 {
		return 0, false
	}
	return time.Duration(float64(framesPlayed) / float64(rate) * float64(time.Second)), true
}

// SetSampleRate records the decoder's sample rate for CurrentTime's math;
// it must be called once before the first Enqueue.
func (s *Sink) SetSampleRate(rate beep.SampleRate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pull != nil {
		s.pull.sampleRate = rate
	}
}

// FadeIn animates gain from 0 to target linearly over duration.
func (s *Sink) FadeIn(duration time.Duration, target float64) error {
	return s.fade(0, target, duration)
}

// FadeOut animates gain from the current target down to 0 over duration.
func (s *Sink) FadeOut(duration time.Duration) error {
	s.mu.Lock()
	current := 0.0
	if s.volume != nil {
		speaker.Lock()
		current = math.Pow(2, s.volume.Volume)
		if s.volume.Silent {
			current = 0
		}
		speaker.Unlock()
	}
	s.mu.Unlock()
	return s.fade(current, 0, duration)
}

func (s *Sink) fade(from, to float64, duration time.Duration) error {
	s.mu.Lock()
	if !s.created {
		s.mu.Unlock()
		return fmt.Errorf("sink not created")
	}
	s.cancelFadeLocked()
	cancel := make(chan struct{})
	s.fadeCancel = cancel
	s.fadeWG.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.fadeWG.Done()
		start := time.Now()
		ticker := time.NewTicker(fadeTickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-cancel:
				return
			case <-ticker.C:
				elapsed := time.Since(start)
				frac := float64(elapsed) / float64(duration)
				if frac >= 1 {
					s.SetVolume(to)
					return
				}
				s.SetVolume(from + (to-from)*frac)
			}
		}
	}()
	return nil
}

func (s *Sink) cancelFadeLocked() {
	if s.fadeCancel != nil {
		close(s.fadeCancel)
		s.fadeCancel = nil
	}
	s.mu.Unlock()
	s.fadeWG.Wait()
	s.mu.Lock()
}

// gainToLogVolume converts a linear gain in [0,1] into effects.Volume's
// log2 scalar (adapted from the teacher's percentToExponent, simplified
// since our domain is already linear gain rather than a perceptual
// 0-100 slider).
func gainToLogVolume(gain float64) (volume float64, silent bool) {
	if gain <= 0 {
		return 0, true
	}
	return math.Log2(gain), false
}
