// Package bufring implements the BufferRing stage (§4.4): a fixed-count
// ring of audio buffers that accumulates packets from PacketParser until
// a buffer fills, then hands it to PlaybackSink. When every buffer is in
// use, unprocessed packets queue on an overflow FIFO and the ring signals
// the engine to unschedule NetworkReader — the back-pressure primitive
// described in §5.
package bufring

import (
	"github.com/audiopipe/streamctl/internal/errs"
)

// maxDescriptorsPerBuffer mirrors the platform audio queue's limit on
// packet descriptors per buffer (§3).
const maxDescriptorsPerBuffer = 512

// PacketDesc locates one packet's frames within a filled buffer.
type PacketDesc struct {
	Offset int
	Length int
}

// FilledBuffer is handed to PlaybackSink once a ring slot is flushed.
type FilledBuffer struct {
	Index   int
	Samples [][2]float64
	Descs   []PacketDesc
}

// Callbacks is the stage-callback sink the engine supplies at construction.
type Callbacks struct {
	OnBufferFilled func(buf FilledBuffer)
	// OnSaturated fires the instant the ring has no free slot to advance
	// into; the engine should unschedule NetworkReader in response
	// (unless bufferInfinite is set).
	OnSaturated func()
	// OnDrained fires when a previously saturated ring regains room and
	// the overflow FIFO has been fully replayed; the engine should
	// reschedule NetworkReader.
	OnDrained func()
	// OnThresholdReached fires exactly once, the first time BuffersUsed
	// reaches min(fillCountToStart, bufferCount).
	OnThresholdReached func()
}

// queuedPacket is one overflow FIFO node (§3 QueuedPacket).
type queuedPacket struct {
	samples [][2]float64
}

// Ring is the BufferRing of §4.4.
type Ring struct {
	bufferCount int
	bufferSize  int // capacity in frames per buffer

	buffers [][][2]float64
	descs   [][]PacketDesc
	inUse   []bool

	fillIndex   int
	fillLen     int
	buffersUsed int

	fillCountToStart int
	thresholdFired   bool

	waitingOnBuffer bool
	overflow        []queuedPacket

	cb Callbacks
}

// New builds a Ring of bufferCount buffers, each able to hold bufferSize
// frames. fillCountToStart is clamped to bufferCount by the caller
// (config.StreamOptions.Clamp does this before the ring is constructed).
func New(bufferCount, bufferSize, fillCountToStart int, cb Callbacks) *Ring {
	r := &Ring{
		bufferCount:      bufferCount,
		bufferSize:       bufferSize,
		buffers:          make([][][2]float64, bufferCount),
		descs:            make([][]PacketDesc, bufferCount),
		inUse:            make([]bool, bufferCount),
		fillCountToStart: fillCountToStart,
		cb:               cb,
	}
	for i := range r.buffers {
		r.buffers[i] = make([][2]float64, bufferSize)
	}
	return r
}

// BuffersUsed returns the number of ring slots currently handed to the sink.
func (r *Ring) BuffersUsed() int { return r.buffersUsed }

// IsSaturated reports whether every buffer is in use.
func (r *Ring) IsSaturated() bool { return r.buffersUsed >= r.bufferCount }

// ActiveBuffers reports the indices currently in use, for diagnostics.
func (r *Ring) ActiveBuffers() []int {
	active := make([]int, 0, r.buffersUsed)
	for i, used := range r.inUse {
		if used {
			active = append(active, i)
		}
	}
	return active
}

// AppendPacket stages one PacketParser packet into the ring, flushing and
// advancing buffers as needed. It returns AudioBufferTooSmall if a single
// packet can never fit in an empty buffer.
func (r *Ring) AppendPacket(samples [][2]float64) error {
	if len(samples) > r.bufferSize {
		return errs.New(errs.AudioBufferTooSmall, "packet exceeds configured buffer size")
	}

	if r.waitingOnBuffer {
		r.overflow = append(r.overflow, queuedPacket{samples: samples})
		return nil
	}

	return r.place(samples)
}

// place attempts to fit samples into the buffer currently being filled,
// flushing and advancing first if there is no room.
func (r *Ring) place(samples [][2]float64) error {
	fits := r.fillLen+len(samples) <= r.bufferSize &&
		len(r.descs[r.fillIndex])+1 <= maxDescriptorsPerBuffer

	if !fits {
		r.flushCurrent()

		if r.inUse[r.fillIndex] {
			r.waitingOnBuffer = true
			r.overflow = append(r.overflow, queuedPacket{samples: samples})
			if r.cb.OnSaturated != nil {
				r.cb.OnSaturated()
			}
			return nil
		}
	}

	desc := PacketDesc{Offset: r.fillLen, Length: len(samples)}
	copy(r.buffers[r.fillIndex][r.fillLen:], samples)
	r.fillLen += len(samples)
	r.descs[r.fillIndex] = append(r.descs[r.fillIndex], desc)
	return nil
}

// flushCurrent hands the buffer being filled to the sink and advances
// fill_index, even if the buffer is only partially full (used at EOF and
// whenever the next packet doesn't fit).
func (r *Ring) flushCurrent() {
	if r.fillLen == 0 && len(r.descs[r.fillIndex]) == 0 {
		return
	}

	out := FilledBuffer{
		Index:   r.fillIndex,
		Samples: append([][2]float64(nil), r.buffers[r.fillIndex][:r.fillLen]...),
		Descs:   append([]PacketDesc(nil), r.descs[r.fillIndex]...),
	}

	r.inUse[r.fillIndex] = true
	r.buffersUsed++

	if r.cb.OnBufferFilled != nil {
		r.cb.OnBufferFilled(out)
	}

	if !r.thresholdFired {
		threshold := r.fillCountToStart
		if threshold > r.bufferCount {
			threshold = r.bufferCount
		}
		if r.buffersUsed >= threshold {
			r.thresholdFired = true
			if r.cb.OnThresholdReached != nil {
				r.cb.OnThresholdReached()
			}
		}
	}

	r.fillIndex = (r.fillIndex + 1) % r.bufferCount
	r.fillLen = 0
	r.descs[r.fillIndex] = r.descs[r.fillIndex][:0]
}

// FlushEOF hands over whatever is staged in the current buffer even
// though it never reached bufferSize — used when NetworkReader reports
// end of stream with a partial buffer pending (§4.4 start policy, §8).
func (r *Ring) FlushEOF() {
	if r.fillLen > 0 && !r.thresholdFired {
		// EOF-with-any-bytes also satisfies the start policy even if the
		// configured fill count was never reached.
		r.thresholdFired = true
		if r.cb.OnThresholdReached != nil {
			defer r.cb.OnThresholdReached()
		}
	}
	r.flushCurrent()
}

// MarkFree clears in_use[i], and if the ring was waiting on a buffer,
// drains the overflow FIFO into the newly freed slot (§4.4).
func (r *Ring) MarkFree(i int) {
	if i < 0 || i >= r.bufferCount || !r.inUse[i] {
		return
	}
	r.inUse[i] = false
	r.buffersUsed--

	if !r.waitingOnBuffer {
		return
	}

	r.drain()
}

// drain replays the overflow FIFO strictly in order until it empties or
// the ring saturates again.
func (r *Ring) drain() {
	for len(r.overflow) > 0 {
		if r.inUse[r.fillIndex] {
			return
		}

		next := r.overflow[0]
		r.overflow = r.overflow[1:]

		r.waitingOnBuffer = false
		if err := r.place(next.samples); err != nil {
			// AudioBufferTooSmall cannot occur here: it was already
			// checked in AppendPacket before the packet was queued.
			continue
		}
		if r.waitingOnBuffer {
			// place() re-saturated immediately; stop draining.
			return
		}
	}

	r.waitingOnBuffer = false
	if r.cb.OnDrained != nil {
		r.cb.OnDrained()
	}
}

// OverflowLen reports the number of packets queued on the overflow FIFO,
// for tests and diagnostics.
func (r *Ring) OverflowLen() int { return len(r.overflow) }
