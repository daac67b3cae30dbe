package hpm

import "sync/atomic"

// Gate values. A transition holds the gate at gateBusy while it touches
// registers so that a concurrent disable cannot release an enable that has
// not finished probing.
const (
	gateFree uint32 = 0
	gateHeld uint32 = 1
	gateBusy uint32 = 2
)

// Gate arbitrates which execution context may move the monitor between
// enabled and disabled. It does not serialise per-counter operations.
type Gate struct {
	flag      atomic.Uint32
	noAtomics bool
}

// NewGate returns a free gate. When atomics is false the gate never grants
// a transition.
func NewGate(atomics bool) *Gate {
	return &Gate{noAtomics: !atomics}
}

// Supported reports whether the gate can ever be acquired.
func (g *Gate) Supported() bool {
	return !g.noAtomics
}

// Acquire atomically swaps the flag from expected to desired and reports
// whether it succeeded.
func (g *Gate) Acquire(expected, desired uint32) bool {
	if g.noAtomics {
		return false
	}
	return g.flag.CompareAndSwap(expected, desired)
}

// Held reports whether an enable transition has completed and not yet been
// undone.
func (g *Gate) Held() bool {
	return g.flag.Load() == gateHeld
}

// Busy reports whether a transition is in progress.
func (g *Gate) Busy() bool {
	return g.flag.Load() == gateBusy
}

func (g *Gate) release(v uint32) {
	g.flag.Store(v)
}
