//go:build linux

package sim

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PerfTicks drives a simulated hart from the host's own cycle and
// instruction counters, measured for the calling process with
// perf_event_open.
type PerfTicks struct {
	cycles int
	instrs int
}

// OpenPerfTicks opens user-space cycle and instruction counters for the
// current process. It fails when the kernel denies access
// (perf_event_paranoid) or the CPU has no PMU exposed.
func OpenPerfTicks() (*PerfTicks, error) {
	cycles, err := openHardwareCounter(unix.PERF_COUNT_HW_CPU_CYCLES)
	if err != nil {
		return nil, fmt.Errorf("open cycle counter: %w", err)
	}
	instrs, err := openHardwareCounter(unix.PERF_COUNT_HW_INSTRUCTIONS)
	if err != nil {
		unix.Close(cycles)
		return nil, fmt.Errorf("open instruction counter: %w", err)
	}
	return &PerfTicks{cycles: cycles, instrs: instrs}, nil
}

func openHardwareCounter(config uint64) (int, error) {
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Config: config,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits:   unix.PerfBitExcludeKernel | unix.PerfBitExcludeHv,
	}
	return unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
}

func readCounter(fd int) uint64 {
	var buf [8]byte
	if n, err := unix.Read(fd, buf[:]); err != nil || n != len(buf) {
		return 0
	}
	return binary.NativeEndian.Uint64(buf[:])
}

// Cycles implements TickSource.
func (p *PerfTicks) Cycles() uint64 {
	return readCounter(p.cycles)
}

// Instructions implements TickSource.
func (p *PerfTicks) Instructions() uint64 {
	return readCounter(p.instrs)
}

// Close releases both counters.
func (p *PerfTicks) Close() error {
	err := unix.Close(p.cycles)
	if cerr := unix.Close(p.instrs); err == nil {
		err = cerr
	}
	return err
}
