// Package emulator runs the counter firmware in-process on a simulated
// hart. The host side of the link is an ordinary io.ReadWriteCloser, so
// the client and the CLI work against it exactly as against a board.
package emulator

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"hpmon/core"
	"hpmon/hpm"
	"hpmon/hpm/sim"
	"hpmon/protocol"
)

const pollInterval = time.Millisecond

// ErrRunning is returned by Start while another emulator is running. The
// firmware command layer is process-global, so only one can exist.
var ErrRunning = errors.New("emulator: already running")

var active atomic.Bool

// Config describes the emulated hart.
type Config struct {
	// Counters is how many counters, starting at cycle, the hart
	// implements (0..32).
	Counters int
	// XLEN is the register width, 32 or 64.
	XLEN int
	// Trap models a core whose counter-enable register raises an
	// illegal-instruction trap.
	Trap bool
	// NoAtomics models a core without the A extension.
	NoAtomics bool
	// Perf drives mcycle and minstret from this process's own hardware
	// counters instead of wall time.
	Perf bool
	// ClockFreq is the firmware clock and nominal cycle frequency in Hz.
	ClockFreq uint32
	// Log receives the firmware's debug output. Nil discards it.
	Log *log.Logger
}

// DefaultConfig returns an eight-counter RV32 hart at 1 MHz.
func DefaultConfig() Config {
	return Config{
		Counters:  8,
		XLEN:      32,
		ClockFreq: 1000000,
	}
}

func (c *Config) validate() error {
	if c.Counters < 0 || c.Counters > hpm.NumCounters {
		return fmt.Errorf("emulator: counters %d out of range 0..%d", c.Counters, hpm.NumCounters)
	}
	if c.XLEN != 32 && c.XLEN != 64 {
		return fmt.Errorf("emulator: xlen %d, want 32 or 64", c.XLEN)
	}
	if c.ClockFreq == 0 {
		c.ClockFreq = DefaultConfig().ClockFreq
	}
	return nil
}

// cycleClock feeds the times shim from the hart's own cycle counter.
type cycleClock struct {
	hart *sim.Hart
	hz   uint64
}

func (c cycleClock) Cycles() uint64    { return c.hart.CycleCount() }
func (c cycleClock) Frequency() uint64 { return c.hz }

// Emulator is a running firmware instance.
type Emulator struct {
	cfg   Config
	hart  *sim.Hart
	mon   *hpm.Monitor
	clock *sim.WallClock
	ticks sim.TickSource
	perf  *sim.PerfTicks

	host net.Conn
	fw   net.Conn

	input     *protocol.FifoBuffer
	output    *protocol.ScratchOutput
	transport *protocol.Transport

	lastCycles uint64
	writeErr   error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Start boots the firmware on a fresh hart.
func Start(cfg Config) (*Emulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !active.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}

	e := &Emulator{
		cfg:    cfg,
		clock:  sim.NewWallClock(uint64(cfg.ClockFreq)),
		input:  protocol.NewFifoBuffer(1024),
		output: protocol.NewScratchOutput(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.ticks = e.clock
	if cfg.Perf {
		perf, err := sim.OpenPerfTicks()
		if err != nil {
			active.Store(false)
			return nil, fmt.Errorf("emulator: %w", err)
		}
		e.perf = perf
		e.ticks = perf
	}

	opts := []sim.Option{
		sim.WithCounters(cfg.Counters),
		sim.WithXLEN(cfg.XLEN),
		sim.WithTicks(e.ticks),
	}
	if cfg.Trap {
		opts = append(opts, sim.WithTrappingCounterEnable())
	}
	if cfg.NoAtomics {
		opts = append(opts, sim.WithoutAtomics())
	}
	e.hart = sim.NewHart(opts...)
	e.mon = hpm.New(e.hart)
	e.lastCycles = e.ticks.Cycles()

	e.boot()
	e.host, e.fw = net.Pipe()

	go e.run()
	return e, nil
}

// boot registers the firmware the way a target's main does.
func (e *Emulator) boot() {
	core.ResetCore()
	core.TimerInit()
	core.SetClockFreq(e.cfg.ClockFreq)

	core.SetPerfMonitor(e.mon)
	core.SetCycleClock(cycleClock{hart: e.hart, hz: uint64(e.cfg.ClockFreq)})

	core.InitCoreCommands()
	core.InitPerfCommands()
	core.InitTimesCommands()
	core.RegisterConstant("MCU", "emulator")
	core.RegisterConstant("CLOCK_FREQ", e.cfg.ClockFreq)
	core.RegisterConstant("HPM_ATOMICS", e.hart.HasAtomics())
	core.GetGlobalDictionary().SetBuildVersions(runtime.Version())
	core.GetGlobalDictionary().BuildDictionary()

	if e.cfg.Log != nil {
		core.SetDebugWriter(func(s string) { e.cfg.Log.Print(s) })
		core.SetDebugEnabled(true)
		core.InitAsyncDebug()
	}

	e.transport = protocol.NewTransport(e.output, core.DispatchCommand)
	e.transport.SetResetCallback(func() {
		e.input.Reset()
		e.output.Reset()
		core.ResetFirmwareState()
	})
	e.transport.SetFlushCallback(e.flush)
	core.SetGlobalTransport(e.transport)

	core.SetResetHandler(func() {
		core.TryShutdown("reset")
		core.ResetFirmwareState()
	})
}

// Port returns the host end of the link.
func (e *Emulator) Port() io.ReadWriteCloser {
	return e.host
}

// Hart exposes the simulated hart, e.g. to advance counters in tests.
func (e *Emulator) Hart() *sim.Hart {
	return e.hart
}

// Monitor exposes the firmware's counter monitor.
func (e *Emulator) Monitor() *hpm.Monitor {
	return e.mon
}

// Done is closed when the firmware loop exits.
func (e *Emulator) Done() <-chan struct{} {
	return e.done
}

// Err returns what stopped the firmware loop, or nil after a clean
// shutdown.
func (e *Emulator) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Close stops the firmware and releases the process-global state.
func (e *Emulator) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.fw.Close()
	})
	<-e.done
	return e.err
}

func (e *Emulator) run() {
	defer func() {
		e.fw.Close()
		if e.perf != nil {
			e.perf.Close()
		}
		core.SetGlobalTransport(nil)
		core.SetResetHandler(nil)
		core.SetCycleClock(nil)
		core.SetDebugEnabled(false)
		core.SetDebugWriter(nil)
		core.ResetCore()
		active.Store(false)
		close(e.done)
	}()

	buf := make([]byte, 256)
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		e.fw.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := e.fw.Read(buf)
		for chunk := buf[:n]; len(chunk) > 0; {
			w := e.input.Write(chunk)
			chunk = chunk[w:]
			e.step()
			if w == 0 {
				// A full buffer the transport cannot parse is noise.
				e.input.Reset()
			}
		}
		if err != nil && !isTimeout(err) {
			if !isClosed(err) {
				e.err = err
			}
			return
		}

		e.step()
		if e.writeErr != nil {
			if !isClosed(e.writeErr) {
				e.err = e.writeErr
			}
			return
		}
	}
}

// step is one pass of the firmware main loop.
func (e *Emulator) step() {
	e.tick()

	if e.input.Available() > 0 {
		data := e.input.Data()
		in := protocol.NewSliceInputBuffer(data)
		e.transport.Receive(in)
		e.input.Pop(len(data) - in.Available())
	}

	core.ProcessTimers()
	core.PerfQueryTask()
	e.flush()
	core.CheckPendingReset()
}

// tick advances the firmware clock and lets every counter with an event
// selected count the cycles that passed.
func (e *Emulator) tick() {
	core.SetTime(uint32(e.clock.Cycles()))

	cycles := e.ticks.Cycles()
	if cycles > e.lastCycles {
		e.hart.Advance(cycles - e.lastCycles)
	}
	e.lastCycles = cycles
}

func (e *Emulator) flush() {
	out := e.output.Result()
	if len(out) == 0 {
		return
	}
	if e.writeErr == nil {
		if _, err := e.fw.Write(out); err != nil {
			e.writeErr = err
		}
	}
	e.output.Reset()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
