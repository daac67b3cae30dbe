package core

import "sync/atomic"

var (
	systemTicks atomic.Uint32
	uptimeHigh  atomic.Uint32
	clockFreq   atomic.Uint32
)

func init() {
	clockFreq.Store(1000000)
}

// GetTime returns the low 32 bits of the firmware clock.
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime publishes a new clock reading. A reading lower than the last one
// is taken as a wrap of the 32-bit clock and carries into the uptime.
func SetTime(ticks uint32) {
	if ticks < systemTicks.Swap(ticks) {
		uptimeHigh.Add(1)
	}
}

// GetUptime returns the 64-bit firmware clock.
func GetUptime() uint64 {
	for {
		hi := uptimeHigh.Load()
		lo := systemTicks.Load()
		if uptimeHigh.Load() == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// SetClockFreq sets the firmware clock frequency used for conversions.
func SetClockFreq(hz uint32) {
	if hz != 0 {
		clockFreq.Store(hz)
	}
}

// ClockFreq returns the firmware clock frequency.
func ClockFreq() uint32 {
	return clockFreq.Load()
}

// TimerFromUS converts microseconds to clock ticks.
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * uint64(ClockFreq()) / 1000000)
}

// TimerToUS converts clock ticks to microseconds.
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / uint64(ClockFreq()))
}

// TimerInit resets the clock to zero.
func TimerInit() {
	systemTicks.Store(0)
	uptimeHigh.Store(0)
}

// ProcessTimers latches the clock and dispatches due timers.
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
