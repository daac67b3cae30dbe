//go:build !linux

package sim

import "errors"

// PerfTicks is only available on Linux.
type PerfTicks struct{}

// OpenPerfTicks always fails off Linux.
func OpenPerfTicks() (*PerfTicks, error) {
	return nil, errors.New("perf counters require linux")
}

// Cycles implements TickSource.
func (p *PerfTicks) Cycles() uint64 { return 0 }

// Instructions implements TickSource.
func (p *PerfTicks) Instructions() uint64 { return 0 }

// Close is a no-op.
func (p *PerfTicks) Close() error { return nil }
