package sink

import (
	"github.com/gopxl/beep/v2"

	"github.com/audiopipe/streamctl/internal/bufring"
)

// pullStreamer is the beep.Streamer the sink hands to effects.Volume. It
// drains bufring.FilledBuffer values pushed by Enqueue, reporting
// BufferFree once each buffer is fully consumed and IsRunningChanged on
// the silence/audio transitions (§4.5). All state is touched only under
// speaker.Lock/Unlock, since beep's mixer goroutine calls Stream.
type pullStreamer struct {
	onBufferFree     func(index int)
	onRunningChanged func(running bool)

	started bool
	stopped bool

	queue []bufring.FilledBuffer

	curIdx int
	curBuf [][2]float64

	// fracPos is the read cursor into curBuf. It is a float so that a
	// playback rate other than 1.0 can advance it by a non-integer step
	// per output frame (nearest-neighbour resampling); the fractional
	// remainder carries over across a buffer boundary so the rate stays
	// accurate instead of resetting every buffer.
	fracPos float64

	running      bool
	framesPlayed int64
	sampleRate   beep.SampleRate

	rate float64 // playback rate; 1.0 = unmodified
}

func (p *pullStreamer) enqueue(buf bufring.FilledBuffer) {
	p.queue = append(p.queue, buf)
}

func (p *pullStreamer) flush() {
	p.queue = nil
	p.curBuf = nil
	p.curIdx = -1
	p.fracPos = 0
	p.framesPlayed = 0
	if p.running {
		p.running = false
		if p.onRunningChanged != nil {
			p.onRunningChanged(false)
		}
	}
}

// Stream implements beep.Streamer. It must never block: beep's mixer
// goroutine calls it on a tight schedule.
func (p *pullStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	if p.stopped {
		return 0, false
	}
	if !p.started {
		silence(samples)
		return len(samples), true
	}

	rate := p.rate
	if rate <= 0 {
		rate = 1.0
	}

	filled := 0
	for filled < len(samples) {
		if p.curBuf == nil || p.fracPos >= float64(len(p.curBuf)) {
			overshoot := 0.0
			if p.curBuf != nil {
				overshoot = p.fracPos - float64(len(p.curBuf))
			}
			if !p.advance() {
				break
			}
			if overshoot < 0 {
				overshoot = 0
			}
			p.fracPos = overshoot
		}

		idx := int(p.fracPos)
		if idx >= len(p.curBuf) {
			// Overshoot still exceeds the freshly advanced buffer (a very
			// short buffer combined with a high rate); let the top-of-loop
			// check advance again with the carried-over remainder.
			continue
		}

		samples[filled] = p.curBuf[idx]
		p.fracPos += rate
		filled++
		p.framesPlayed++
	}

	if filled < len(samples) {
		silence(samples[filled:])
		if p.running {
			p.running = false
			if p.onRunningChanged != nil {
				p.onRunningChanged(false)
			}
		}
	} else if !p.running {
		p.running = true
		if p.onRunningChanged != nil {
			p.onRunningChanged(true)
		}
	}

	return len(samples), true
}

// advance pulls the next queued buffer into curBuf, freeing the previous
// one. Returns false if the queue is empty.
func (p *pullStreamer) advance() bool {
	if p.curIdx >= 0 && p.curBuf != nil {
		freed := p.curIdx
		if p.onBufferFree != nil {
			p.onBufferFree(freed)
		}
	}

	if len(p.queue) == 0 {
		p.curBuf = nil
		p.curIdx = -1
		return false
	}

	next := p.queue[0]
	p.queue = p.queue[1:]
	p.curBuf = next.Samples
	p.curIdx = next.Index
	return len(p.curBuf) > 0
}

func (p *pullStreamer) Err() error { return nil }

func silence(samples [][2]float64) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
}
