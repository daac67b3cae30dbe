package hpm

// resolve maps a counter to its registers. The fixed counters take their
// own hand-written paths; the memory-mapped time counter has no registers
// here at all.
func resolve(drv Driver, c Counter) (CounterRegs, bool) {
	switch c {
	case Cycle:
		return drv.Cycle(), true
	case Time:
		return CounterRegs{}, false
	case Instret:
		return drv.Instret(), true
	}
	if c >= NumCounters {
		return CounterRegs{}, false
	}
	return drv.HPM()[c], true
}

// readValue reads a counter. On RV32 the halves are two separate accesses,
// high first; a carry between them yields a torn value, which callers accept.
func readValue(r CounterRegs) uint64 {
	if !r.High.Present() {
		return uint64(r.Low.Get())
	}
	hi := r.High.Get()
	lo := r.Low.Get()
	return uint64(uint32(hi))<<32 | uint64(uint32(lo))
}

func clearValue(r CounterRegs) {
	if r.High.Present() {
		r.High.Set(0)
	}
	r.Low.Set(0)
}
