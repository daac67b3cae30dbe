package sim

import (
	"sync/atomic"
	"time"
)

// TickSource drives the simulated mcycle and minstret. Both values must be
// monotonic.
type TickSource interface {
	Cycles() uint64
	Instructions() uint64
}

// Synthetic advances by a fixed step on every read, so two consecutive
// reads of the cycle counter always differ.
type Synthetic struct {
	step   uint64
	cycles atomic.Uint64
	instrs atomic.Uint64
}

// NewSynthetic returns a source advancing by step per read (minimum 1).
func NewSynthetic(step uint64) *Synthetic {
	if step == 0 {
		step = 1
	}
	return &Synthetic{step: step}
}

// Cycles implements TickSource.
func (s *Synthetic) Cycles() uint64 {
	return s.cycles.Add(s.step)
}

// Instructions implements TickSource. A simulated hart retires one
// instruction every other cycle.
func (s *Synthetic) Instructions() uint64 {
	return s.instrs.Add((s.step + 1) / 2)
}

// Advance moves both counters forward by n cycles.
func (s *Synthetic) Advance(n uint64) {
	s.cycles.Add(n)
	s.instrs.Add(n / 2)
}

// WallClock derives ticks from elapsed wall time at a nominal frequency.
type WallClock struct {
	start time.Time
	hz    uint64
	ipc   uint64
	last  atomic.Uint64
}

// NewWallClock returns a source running at hz cycles per second.
func NewWallClock(hz uint64) *WallClock {
	return &WallClock{start: time.Now(), hz: hz, ipc: 2}
}

// Cycles implements TickSource.
func (w *WallClock) Cycles() uint64 {
	elapsed := uint64(time.Since(w.start))
	v := elapsed / uint64(time.Second) * w.hz
	v += elapsed % uint64(time.Second) * w.hz / uint64(time.Second)
	for {
		last := w.last.Load()
		if v <= last {
			v = last + 1
		}
		if w.last.CompareAndSwap(last, v) {
			return v
		}
	}
}

// Instructions implements TickSource.
func (w *WallClock) Instructions() uint64 {
	return w.last.Load() / w.ipc
}

// Frequency returns the nominal cycle frequency.
func (w *WallClock) Frequency() uint64 {
	return w.hz
}
