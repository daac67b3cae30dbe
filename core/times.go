package core

import (
	"math/bits"

	"hpmon/protocol"
)

// ClocksPerSec is the resolution Times reports in.
const ClocksPerSec = 1000

// Clock is a time in units of 1/ClocksPerSec seconds.
type Clock uint64

// Tms mirrors the POSIX process-times record.
type Tms struct {
	Utime  Clock
	Stime  Clock
	Cutime Clock
	Cstime Clock
}

// CycleClock is the hart's free-running cycle counter and the frequency it
// counts at.
type CycleClock interface {
	Cycles() uint64
	Frequency() uint64
}

var cycleClock CycleClock

// SetCycleClock registers the clock Times reads.
func SetCycleClock(c CycleClock) {
	cycleClock = c
}

// Times reports the cycles elapsed since reset as user time. There are no
// processes, so system and child times are always zero. It reads the cycle
// counter directly and works whether or not the monitor is enabled. With
// no clock or a zero frequency it reports zero.
func Times(buf *Tms) Clock {
	var elapsed Clock
	if cycleClock != nil {
		elapsed = Clock(rescale(cycleClock.Cycles(), ClocksPerSec, cycleClock.Frequency()))
	}
	if buf != nil {
		*buf = Tms{Utime: elapsed}
	}
	return elapsed
}

// rescale returns v*num/den without intermediate overflow, saturating when
// the quotient does not fit.
func rescale(v, num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	hi, lo := bits.Mul64(v, num)
	if hi >= den {
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q
}

// InitTimesCommands registers get_times.
func InitTimesCommands() {
	RegisterCommand("get_times", "", handleGetTimes)
	RegisterResponse("times", "utime_high=%u utime_low=%u")
	RegisterConstant("TIMES_CLOCKS_PER_SEC", uint32(ClocksPerSec))
}

func handleGetTimes(data *[]byte) error {
	var tms Tms
	Times(&tms)
	SendResponse("times", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint64(output, uint64(tms.Utime))
	})
	return nil
}
