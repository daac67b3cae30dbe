// Package sim provides a simulated RISC-V hart for exercising hpm.Monitor
// off-target. It models the parts of the privileged architecture the
// monitor touches: a WARL counter-enable register, per-counter event
// selectors, 32- or 64-bit counter access, and the trap a core raises when
// the counter-enable register does not exist.
package sim

import (
	"sync"

	"hpmon/hpm"
)

const causeIllegalInstruction = 2

// Hart is a simulated hart implementing hpm.Driver. Its registers are
// guarded by a mutex so the race detector sees the same serialisation a
// single physical register file provides.
type Hart struct {
	mu sync.Mutex

	xlen          int
	atomics       bool
	implemented   int
	trapOnEnable  bool
	noCounteren   bool
	ticks         TickSource
	cause         uintptr
	counterEnable uint32
	events        [hpm.NumCounters]uintptr
	values        [hpm.NumCounters]uint64
	cycleBase     uint64
	instretBase   uint64
	probeCount    int
	table         hpm.Table
	cycleRegs     hpm.CounterRegs
	instretRegs   hpm.CounterRegs
}

// Option configures a Hart.
type Option func(*Hart)

// WithCounters sets how many counters (starting from 0) the hart
// implements. Values are clamped to [0, 32].
func WithCounters(n int) Option {
	return func(h *Hart) {
		if n < 0 {
			n = 0
		}
		if n > hpm.NumCounters {
			n = hpm.NumCounters
		}
		h.implemented = n
	}
}

// WithXLEN selects a 32- or 64-bit hart.
func WithXLEN(xlen int) Option {
	return func(h *Hart) {
		if xlen == 32 || xlen == 64 {
			h.xlen = xlen
		}
	}
}

// WithoutAtomics models a core lacking the A extension.
func WithoutAtomics() Option {
	return func(h *Hart) {
		h.atomics = false
	}
}

// WithTrappingCounterEnable models an older core where touching the
// counter-enable register raises an illegal-instruction trap.
func WithTrappingCounterEnable() Option {
	return func(h *Hart) {
		h.trapOnEnable = true
		h.noCounteren = true
	}
}

// WithTicks replaces the synthetic source driving mcycle and minstret.
func WithTicks(src TickSource) Option {
	return func(h *Hart) {
		if src != nil {
			h.ticks = src
		}
	}
}

// NewHart returns a 32-bit hart with atomics and eight counters.
func NewHart(opts ...Option) *Hart {
	h := &Hart{
		xlen:        32,
		atomics:     true,
		implemented: 8,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.ticks == nil {
		h.ticks = NewSynthetic(1)
	}
	h.buildTable()
	return h
}

func (h *Hart) wordMask() uintptr {
	if h.xlen == 32 {
		return 0xFFFFFFFF
	}
	return ^uintptr(0)
}

func (h *Hart) implementedMask() uint32 {
	if h.implemented >= 32 {
		return 0xFFFFFFFF
	}
	return uint32(1)<<h.implemented - 1
}

// XLEN implements hpm.Driver.
func (h *Hart) XLEN() int {
	return h.xlen
}

// HasAtomics implements hpm.Driver.
func (h *Hart) HasAtomics() bool {
	return h.atomics
}

// Cause implements hpm.Driver.
func (h *Hart) Cause() hpm.Reg {
	return hpm.Reg{
		Get: func() uintptr {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.cause
		},
		Set: func(v uintptr) {
			h.mu.Lock()
			h.cause = v & h.wordMask()
			h.mu.Unlock()
		},
	}
}

// CounterEnable implements hpm.Driver. The register only retains bits of
// implemented counters.
func (h *Hart) CounterEnable() hpm.Reg {
	return hpm.Reg{
		Get: func() uintptr {
			h.mu.Lock()
			defer h.mu.Unlock()
			return uintptr(h.counterEnable)
		},
		Set: func(v uintptr) {
			h.mu.Lock()
			if !h.noCounteren {
				h.counterEnable = uint32(v) & h.implementedMask()
			}
			h.mu.Unlock()
		},
	}
}

// ProbeCounterEnable implements hpm.Driver.
func (h *Hart) ProbeCounterEnable(v uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probeCount++
	if h.trapOnEnable {
		h.cause = causeIllegalInstruction
		return
	}
	h.counterEnable = uint32(v) & h.implementedMask()
}

// Cycle implements hpm.Driver.
func (h *Hart) Cycle() hpm.CounterRegs {
	return h.cycleRegs
}

// Instret implements hpm.Driver.
func (h *Hart) Instret() hpm.CounterRegs {
	return h.instretRegs
}

// HPM implements hpm.Driver.
func (h *Hart) HPM() *hpm.Table {
	return &h.table
}

// Probes returns how many times the counter-enable probe ran.
func (h *Hart) Probes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.probeCount
}

// Advance adds n to every implemented general-purpose counter that has at
// least one event selected, standing in for the hart doing work.
func (h *Hart) Advance(n uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := int(hpm.HPM3); c < h.implemented; c++ {
		_, sel := hpm.SplitEventMask(uint32(h.events[c]))
		if sel != 0 {
			h.values[c] += n
		}
	}
}

// CycleCount returns the free-running cycle counter without going through
// a Monitor, the way a timer facility reads it.
func (h *Hart) CycleCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks.Cycles() - h.cycleBase
}
