// Package hpm manages a RISC-V hart's hardware performance-monitor counters.
//
// A Monitor discovers how many counters the running core implements, gates
// lower-privilege access to them, programs their event selectors and reads
// or clears their values. All register traffic goes through a Driver so the
// same logic runs against real CSRs under TinyGo and against a simulated hart
// in host tests.
package hpm

import (
	"errors"
	"strconv"
	"strings"
)

// Counter identifies one of the 32 architectural counters.
type Counter uint8

// NumCounters is the number of counter identifiers the architecture defines.
const NumCounters = 32

// Fixed counters have a dedicated meaning; HPM3 and up are selected by
// event mask.
const (
	Cycle   Counter = 0 // mcycle
	Time    Counter = 1 // mtime, memory mapped in the CLINT
	Instret Counter = 2 // minstret
	HPM3    Counter = 3
	HPM4    Counter = 4
	HPM5    Counter = 5
	HPM6    Counter = 6
	HPM7    Counter = 7
	HPM8    Counter = 8
	HPM9    Counter = 9
	HPM10   Counter = 10
	HPM11   Counter = 11
	HPM12   Counter = 12
	HPM13   Counter = 13
	HPM14   Counter = 14
	HPM15   Counter = 15
	HPM16   Counter = 16
	HPM17   Counter = 17
	HPM18   Counter = 18
	HPM19   Counter = 19
	HPM20   Counter = 20
	HPM21   Counter = 21
	HPM22   Counter = 22
	HPM23   Counter = 23
	HPM24   Counter = 24
	HPM25   Counter = 25
	HPM26   Counter = 26
	HPM27   Counter = 27
	HPM28   Counter = 28
	HPM29   Counter = 29
	HPM30   Counter = 30
	HPM31   Counter = 31
)

// ErrUnknownCounter is returned by ParseCounter for names it cannot map.
var ErrUnknownCounter = errors.New("hpm: unknown counter")

// Fixed reports whether c is one of the three counters without an event
// selector.
func (c Counter) Fixed() bool {
	return c < HPM3
}

func (c Counter) String() string {
	switch c {
	case Cycle:
		return "cycle"
	case Time:
		return "time"
	case Instret:
		return "instret"
	}
	if c < NumCounters {
		return "hpm" + strconv.Itoa(int(c))
	}
	return "counter(" + strconv.Itoa(int(c)) + ")"
}

// ParseCounter accepts the names produced by String as well as a bare
// decimal index.
func ParseCounter(s string) (Counter, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "cycle", "mcycle":
		return Cycle, nil
	case "time", "mtime":
		return Time, nil
	case "instret", "minstret":
		return Instret, nil
	}
	name = strings.TrimPrefix(name, "mhpmcounter")
	name = strings.TrimPrefix(name, "hpm")
	n, err := strconv.Atoi(name)
	if err != nil || n < 0 || n >= NumCounters {
		return 0, ErrUnknownCounter
	}
	return Counter(n), nil
}
