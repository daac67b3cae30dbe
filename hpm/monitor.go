package hpm

import "sync/atomic"

// Monitor owns the counter registry for one hart: whether counters are
// enabled and how many the hart implements. Create one per core and share
// it between the contexts that profile on that core.
//
// Enable and Disable are serialised by a Gate. Per-counter operations are
// not: two contexts programming the same counter, or changing access bits
// of different counters, race at the register level and must be serialised
// by the caller.
type Monitor struct {
	drv       Driver
	gate      *Gate
	enabled   atomic.Bool
	available atomic.Uint32
}

// New returns a disabled monitor running on drv.
func New(drv Driver) *Monitor {
	return &Monitor{
		drv:  drv,
		gate: NewGate(drv.HasAtomics()),
	}
}

// Enable probes the hart and opens the counters for use. It fails if the
// monitor is already enabled, if another context is mid-transition, if the
// platform lacks atomics, or if the counter-enable register traps. A failed
// Enable leaves no state behind.
//
// A hart that implements no counters still enables; every per-counter
// operation then fails with ErrOutOfRange.
func (m *Monitor) Enable() error {
	if !m.gate.Supported() {
		return ErrNoAtomics
	}
	if !m.gate.Acquire(gateFree, gateBusy) {
		if m.gate.Held() {
			return ErrAlreadyEnabled
		}
		return ErrBusy
	}

	n, err := probe(m.drv)
	if err != nil {
		m.gate.release(gateFree)
		return err
	}

	m.available.Store(uint32(n))
	m.enabled.Store(true)
	m.gate.release(gateHeld)
	return nil
}

// Disable closes lower-privilege access to every counter and forgets the
// discovered count. It fails with ErrBusy while another context is part-way
// through Enable or Disable.
func (m *Monitor) Disable() error {
	if !m.gate.Supported() {
		return ErrNoAtomics
	}
	if !m.gate.Acquire(gateHeld, gateBusy) {
		if m.gate.Busy() {
			return ErrBusy
		}
		return ErrNotEnabled
	}

	m.enabled.Store(false)
	m.drv.CounterEnable().Set(0)
	m.available.Store(0)
	m.gate.release(gateFree)
	return nil
}

// Enabled reports whether the monitor is enabled.
func (m *Monitor) Enabled() bool {
	return m.enabled.Load()
}

// Available returns the number of counters discovered by the last Enable,
// or 0 while disabled.
func (m *Monitor) Available() int {
	return int(m.available.Load())
}

// XLEN returns the hart's native register width.
func (m *Monitor) XLEN() int {
	return m.drv.XLEN()
}

func (m *Monitor) check(op string, c Counter) error {
	if !m.enabled.Load() {
		return counterErr(op, c, ErrNotEnabled)
	}
	if uint32(c) >= m.available.Load() {
		return counterErr(op, c, ErrOutOfRange)
	}
	return nil
}

// eventReg validates c and returns its event selector.
func (m *Monitor) eventReg(op string, c Counter) (Reg, error) {
	if err := m.check(op, c); err != nil {
		return Reg{}, err
	}
	regs, ok := resolve(m.drv, c)
	if !ok || !regs.Event.Present() {
		return Reg{}, counterErr(op, c, ErrUnsupported)
	}
	return regs.Event, nil
}

// SetEvent ORs mask into the counter's event selector.
func (m *Monitor) SetEvent(c Counter, mask uint32) error {
	ev, err := m.eventReg("set event", c)
	if err != nil {
		return err
	}
	ev.Set(ev.Get() | uintptr(mask))
	return nil
}

// ClearEvent clears the bits of mask in the counter's event selector.
func (m *Monitor) ClearEvent(c Counter, mask uint32) error {
	ev, err := m.eventReg("clear event", c)
	if err != nil {
		return err
	}
	ev.Set(ev.Get() &^ uintptr(mask))
	return nil
}

// Event returns the counter's event selector.
func (m *Monitor) Event(c Counter) (uint32, error) {
	ev, err := m.eventReg("get event", c)
	if err != nil {
		return 0, err
	}
	return uint32(ev.Get()), nil
}

// EnableAccess lets the next lower privilege mode read c.
func (m *Monitor) EnableAccess(c Counter) error {
	if err := m.check("enable access", c); err != nil {
		return err
	}
	en := m.drv.CounterEnable()
	en.Set(en.Get() | 1<<c)
	return nil
}

// DisableAccess revokes lower-privilege read access to c.
func (m *Monitor) DisableAccess(c Counter) error {
	if err := m.check("disable access", c); err != nil {
		return err
	}
	en := m.drv.CounterEnable()
	en.Set(en.Get() &^ (1 << c))
	return nil
}

// Read returns the counter's current value. On failure it returns 0, which
// is indistinguishable from a real zero without looking at the error.
func (m *Monitor) Read(c Counter) (uint64, error) {
	if err := m.check("read", c); err != nil {
		return 0, err
	}
	regs, ok := resolve(m.drv, c)
	if !ok {
		return 0, counterErr("read", c, ErrUnsupported)
	}
	return readValue(regs), nil
}

// Clear resets the counter's value to zero.
func (m *Monitor) Clear(c Counter) error {
	if err := m.check("clear", c); err != nil {
		return err
	}
	regs, ok := resolve(m.drv, c)
	if !ok {
		return counterErr("clear", c, ErrUnsupported)
	}
	clearValue(regs)
	return nil
}
