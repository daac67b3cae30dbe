package core

import "hpmon/hpm"

// PerfMonitor is the counter-management interface the command layer
// drives. *hpm.Monitor implements it.
type PerfMonitor interface {
	Enable() error
	Disable() error
	Enabled() bool
	Available() int
	XLEN() int

	SetEvent(c hpm.Counter, mask uint32) error
	ClearEvent(c hpm.Counter, mask uint32) error
	Event(c hpm.Counter) (uint32, error)
	EnableAccess(c hpm.Counter) error
	DisableAccess(c hpm.Counter) error
	Read(c hpm.Counter) (uint64, error)
	Clear(c hpm.Counter) error
}

var perfMonitor PerfMonitor

// SetPerfMonitor is called by target code to register the hart's monitor.
func SetPerfMonitor(m PerfMonitor) {
	perfMonitor = m
}

// MustPerfMonitor returns the registered monitor or panics if missing.
func MustPerfMonitor() PerfMonitor {
	if perfMonitor == nil {
		panic("perf monitor not configured")
	}
	return perfMonitor
}
