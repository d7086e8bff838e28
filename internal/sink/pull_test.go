package sink

import (
	"testing"

	"github.com/audiopipe/streamctl/internal/bufring"
)

func bufOf(index int, n int) bufring.FilledBuffer {
	samples := make([][2]float64, n)
	for i := range samples {
		samples[i] = [2]float64{float64(i + 1), float64(i + 1)}
	}
	return bufring.FilledBuffer{Index: index, Samples: samples}
}

func TestPullStreamerSilentBeforeStart(t *testing.T) {
	p := &pullStreamer{}
	p.enqueue(bufOf(0, 10))

	out := make([][2]float64, 5)
	n, ok := p.Stream(out)
	if !ok || n != 5 {
		t.Fatalf("Stream() = (%d, %v), want (5, true)", n, ok)
	}
	for _, s := range out {
		if s != [2]float64{} {
			t.Fatalf("Stream() before start produced non-silent sample %v", s)
		}
	}
}

func TestPullStreamerDrainsInOrder(t *testing.T) {
	var freed []int
	p := &pullStreamer{
		started: true,
		rate:    1.0,
		onBufferFree: func(i int) {
			freed = append(freed, i)
		},
	}
	p.enqueue(bufOf(0, 4))
	p.enqueue(bufOf(1, 4))

	out := make([][2]float64, 4)
	n, ok := p.Stream(out)
	if !ok || n != 4 {
		t.Fatalf("Stream() = (%d, %v)", n, ok)
	}
	if out[0][0] != 1 || out[3][0] != 4 {
		t.Errorf("Stream() first buffer samples = %v", out)
	}
	if len(freed) != 0 {
		t.Fatalf("buffer 0 freed too early: %v", freed)
	}

	n, ok = p.Stream(out)
	if !ok || n != 4 {
		t.Fatalf("second Stream() = (%d, %v)", n, ok)
	}
	if len(freed) != 1 || freed[0] != 0 {
		t.Fatalf("freed = %v, want [0] after buffer 0 fully drained", freed)
	}
	if out[0][0] != 1 {
		t.Errorf("second Stream() samples = %v, want buffer 1's content", out)
	}
}

func TestPullStreamerRunningChangedOnStarve(t *testing.T) {
	var transitions []bool
	p := &pullStreamer{
		started: true,
		rate:    1.0,
		onRunningChanged: func(running bool) {
			transitions = append(transitions, running)
		},
	}
	p.enqueue(bufOf(0, 2))

	out := make([][2]float64, 4)
	p.Stream(out) // 2 real frames then starved -> silence for the rest

	// It never successfully reported "running" in the first place, so
	// starving produces no spurious false transition.
	if len(transitions) != 0 {
		t.Fatalf("transitions = %v, want none", transitions)
	}
}

func TestPullStreamerReportsRunningOnFullBuffer(t *testing.T) {
	var transitions []bool
	p := &pullStreamer{
		started: true,
		rate:    1.0,
		onRunningChanged: func(running bool) {
			transitions = append(transitions, running)
		},
	}
	p.enqueue(bufOf(0, 10))

	out := make([][2]float64, 4)
	p.Stream(out)

	if len(transitions) != 1 || transitions[0] != true {
		t.Fatalf("transitions = %v, want [true]", transitions)
	}
}

func TestPullStreamerFlushDropsQueue(t *testing.T) {
	p := &pullStreamer{started: true, rate: 1.0}
	p.enqueue(bufOf(0, 10))
	p.enqueue(bufOf(1, 10))

	p.flush()

	out := make([][2]float64, 4)
	n, ok := p.Stream(out)
	if !ok || n != 4 {
		t.Fatalf("Stream() after flush = (%d, %v)", n, ok)
	}
	for _, s := range out {
		if s != [2]float64{} {
			t.Fatalf("Stream() after flush produced non-silent sample %v", s)
		}
	}
}

func TestPullStreamerStoppedReturnsNotOK(t *testing.T) {
	p := &pullStreamer{started: true, stopped: true}
	n, ok := p.Stream(make([][2]float64, 4))
	if ok || n != 0 {
		t.Fatalf("Stream() on stopped = (%d, %v), want (0, false)", n, ok)
	}
}

func TestPullStreamerPlaybackRateDoubleSpeedConsumesBufferFaster(t *testing.T) {
	var freed []int
	p := &pullStreamer{
		started: true,
		rate:    2.0,
		onBufferFree: func(i int) {
			freed = append(freed, i)
		},
	}
	p.enqueue(bufOf(0, 8))
	p.enqueue(bufOf(1, 8))

	out := make([][2]float64, 5)
	p.Stream(out) // at rate 2.0, 4 output frames exactly drain buffer 0's 8 input frames;
	// the 5th output frame forces the advance into buffer 1, freeing buffer 0.

	if len(freed) != 1 || freed[0] != 0 {
		t.Fatalf("freed = %v, want [0] after consuming buffer 0 at 2x rate", freed)
	}
}
