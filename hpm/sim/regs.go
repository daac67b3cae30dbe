package sim

import "hpmon/hpm"

// buildTable wires every counter slot to its simulated storage. Slots at or
// above the implemented count read as zero and ignore writes.
func (h *Hart) buildTable() {
	for c := int(hpm.HPM3); c < hpm.NumCounters; c++ {
		h.table[c] = h.hpmRegs(c)
	}
	h.cycleRegs = h.valueRegs(
		func() uint64 { return h.ticks.Cycles() - h.cycleBase },
		func(v uint64) { h.cycleBase = h.ticks.Cycles() - v },
	)
	h.instretRegs = h.valueRegs(
		func() uint64 { return h.ticks.Instructions() - h.instretBase },
		func(v uint64) { h.instretBase = h.ticks.Instructions() - v },
	)
}

func (h *Hart) hpmRegs(c int) hpm.CounterRegs {
	regs := h.valueRegs(
		func() uint64 {
			if c >= h.implemented {
				return 0
			}
			return h.values[c]
		},
		func(v uint64) {
			if c < h.implemented {
				h.values[c] = v
			}
		},
	)
	regs.Event = hpm.Reg{
		Get: func() uintptr {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c >= h.implemented {
				return 0
			}
			return h.events[c]
		},
		Set: func(v uintptr) {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c < h.implemented {
				h.events[c] = v & h.wordMask()
			}
		},
	}
	return regs
}

// valueRegs exposes a 64-bit value as one register on RV64 or as a low/high
// pair on RV32. get and set run with the hart lock held.
func (h *Hart) valueRegs(get func() uint64, set func(uint64)) hpm.CounterRegs {
	if h.xlen == 64 {
		return hpm.CounterRegs{
			Low: hpm.Reg{
				Get: func() uintptr {
					h.mu.Lock()
					defer h.mu.Unlock()
					return uintptr(get())
				},
				Set: func(v uintptr) {
					h.mu.Lock()
					defer h.mu.Unlock()
					set(uint64(v))
				},
			},
		}
	}
	return hpm.CounterRegs{
		Low: hpm.Reg{
			Get: func() uintptr {
				h.mu.Lock()
				defer h.mu.Unlock()
				return uintptr(uint32(get()))
			},
			Set: func(v uintptr) {
				h.mu.Lock()
				defer h.mu.Unlock()
				cur := get()
				set(cur&^0xFFFFFFFF | uint64(uint32(v)))
			},
		},
		High: hpm.Reg{
			Get: func() uintptr {
				h.mu.Lock()
				defer h.mu.Unlock()
				return uintptr(uint32(get() >> 32))
			},
			Set: func(v uintptr) {
				h.mu.Lock()
				defer h.mu.Unlock()
				cur := get()
				set(uint64(uint32(v))<<32 | cur&0xFFFFFFFF)
			},
		},
	}
}
