//go:build tinygo.riscv

package main

import (
	"device"
	"runtime/interrupt"

	"hpmon/hpm"
)

// misaA is the A (atomics) extension bit of misa.
const misaA = 1 << 0

// csrDriver reaches the counters through machine-mode CSRs. The firmware
// runs in M-mode, so every register below is accessible.
type csrDriver struct{}

var _ hpm.Driver = csrDriver{}

func (csrDriver) XLEN() int { return xlen }

// HasAtomics reads misa. A core that leaves misa zero reports no
// extensions, and the monitor then stays disabled.
func (csrDriver) HasAtomics() bool {
	return device.AsmFull("csrr {}, misa", nil)&misaA != 0
}

func (csrDriver) Cause() hpm.Reg {
	return hpm.Reg{
		Get: func() uintptr { return device.AsmFull("csrr {}, mcause", nil) },
		Set: func(v uintptr) { device.AsmFull("csrw mcause, {v}", map[string]interface{}{"v": v}) },
	}
}

func (csrDriver) CounterEnable() hpm.Reg {
	return hpm.Reg{
		Get: func() uintptr { return device.AsmFull("csrr {}, mcounteren", nil) },
		Set: func(v uintptr) { device.AsmFull("csrw mcounteren, {v}", map[string]interface{}{"v": v}) },
	}
}

// ProbeCounterEnable runs the guarded write with interrupts masked, so
// nothing else observes the temporary trap vector.
func (csrDriver) ProbeCounterEnable(v uintptr) {
	state := interrupt.Disable()
	device.AsmFull(probeAsm, map[string]interface{}{"v": v})
	interrupt.Restore(state)
}

func (csrDriver) Cycle() hpm.CounterRegs   { return cycleRegs }
func (csrDriver) Instret() hpm.CounterRegs { return instretRegs }
func (csrDriver) HPM() *hpm.Table          { return &hpmTable }

// readCycles reads mcycle as a 64-bit value, retrying when the low half
// wraps between the reads of the high half.
func readCycles() uint64 {
	if !cycleRegs.High.Present() {
		return uint64(cycleRegs.Low.Get())
	}
	for {
		hi := cycleRegs.High.Get()
		lo := cycleRegs.Low.Get()
		if cycleRegs.High.Get() == hi {
			return uint64(uint32(hi))<<32 | uint64(uint32(lo))
		}
	}
}
