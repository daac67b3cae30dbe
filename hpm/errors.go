package hpm

import "errors"

var (
	// ErrNotEnabled is returned by every operation other than Enable while
	// the monitor is disabled.
	ErrNotEnabled = errors.New("hpm: not enabled")
	// ErrAlreadyEnabled is returned by Enable on an enabled monitor.
	ErrAlreadyEnabled = errors.New("hpm: already enabled")
	// ErrOutOfRange is returned for counters at or above the discovered count.
	ErrOutOfRange = errors.New("hpm: counter not implemented")
	// ErrUnsupported is returned for operations a counter cannot perform:
	// reading the memory-mapped time counter, or event selection on a fixed
	// counter.
	ErrUnsupported = errors.New("hpm: operation not supported by counter")
	// ErrProbeTrapped means writing the counter-enable register raised an
	// illegal-instruction trap, so the core has no usable counters.
	ErrProbeTrapped = errors.New("hpm: counter-enable register is not implemented")
	// ErrBusy means another execution context holds the enable/disable gate.
	ErrBusy = errors.New("hpm: enable/disable transition in progress")
	// ErrNoAtomics means the platform has no atomic compare-and-swap, so
	// enable and disable always fail.
	ErrNoAtomics = errors.New("hpm: atomic compare-and-swap unavailable")
)

// Wire status values.
const (
	StatusOK    uint8 = 0
	StatusNotOK uint8 = 1
)

// CounterError records a failed per-counter operation.
type CounterError struct {
	Op      string
	Counter Counter
	Err     error
}

func (e *CounterError) Error() string {
	return e.Op + " " + e.Counter.String() + ": " + e.Err.Error()
}

func (e *CounterError) Unwrap() error {
	return e.Err
}

func counterErr(op string, c Counter, err error) error {
	return &CounterError{Op: op, Counter: c, Err: err}
}

// Status maps err onto the wire status byte.
func Status(err error) uint8 {
	if err != nil {
		return StatusNotOK
	}
	return StatusOK
}
