package hpm

import "math/bits"

// causeIllegalInstruction is the mcause exception code for an illegal
// instruction. Clearing bit 1 removes a stale indication of it.
const (
	causeIllegalInstruction uintptr = 2
	causeIllegalBit         uintptr = 1 << 1
)

// probe discovers how many counters the hart implements. The counter-enable
// register is WARL: writing all ones and reading it back leaves a contiguous
// run of set bits, one per implemented counter. On cores without the
// register the write itself traps, which the driver's landing pad absorbs.
//
// On success every discovered counter has a cleared event selector and a
// zero value, and lower-privilege access is closed.
func probe(drv Driver) (int, error) {
	cause := drv.Cause()
	cause.Set(cause.Get() &^ causeIllegalBit)

	drv.ProbeCounterEnable(^uintptr(0))

	if cause.Get() == causeIllegalInstruction {
		return 0, ErrProbeTrapped
	}

	en := drv.CounterEnable()
	n := bits.TrailingZeros32(^uint32(en.Get()))
	en.Set(0)

	for c := Counter(0); int(c) < n; c++ {
		regs, ok := resolve(drv, c)
		if !ok {
			continue
		}
		if regs.Event.Present() {
			regs.Event.Set(0)
		}
		clearValue(regs)
	}
	return n, nil
}
