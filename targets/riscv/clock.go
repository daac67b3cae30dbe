//go:build tinygo.riscv

package main

import (
	"machine"

	"hpmon/core"
)

// The firmware clock is mcycle itself, so CLOCK_FREQ is the core clock.
var clockFreq = machine.CPUFrequency()

// cycleClock feeds the times shim straight from mcycle. It does not go
// through the monitor and keeps working while the counters are disabled.
type cycleClock struct{}

func (cycleClock) Cycles() uint64    { return readCycles() }
func (cycleClock) Frequency() uint64 { return uint64(clockFreq) }

// InitClock registers the clock constants and the times source.
func InitClock() {
	core.SetClockFreq(clockFreq)
	core.SetCycleClock(cycleClock{})
	core.RegisterConstant("MCU", "riscv")
	core.RegisterConstant("CLOCK_FREQ", clockFreq)
}

// UpdateSystemTime updates the core timer from mcycle.
func UpdateSystemTime() {
	core.SetTime(uint32(readCycles()))
}
