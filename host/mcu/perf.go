package mcu

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"hpmon/hpm"
)

// ErrNotOK is wrapped by every StatusError.
var ErrNotOK = errors.New("firmware reported failure")

// StatusError is returned when the firmware answers with a not-ok status.
type StatusError struct {
	Op      string
	Counter int
	Status  uint8
}

func (e *StatusError) Error() string {
	if e.Counter == noCounter {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d", e.Op, hpm.Counter(e.Counter), e.Status)
}

func (e *StatusError) Unwrap() error {
	return ErrNotOK
}

func checkStatus(op string, counter int, r *Response) error {
	if s := uint8(r.Params["status"]); s != hpm.StatusOK {
		return &StatusError{Op: op, Counter: counter, Status: s}
	}
	return nil
}

// State is the monitor state reported by the firmware.
type State struct {
	Enabled  bool
	Counters int
}

// Config is the firmware's get_config reply.
type Config struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
}

func (m *MCU) state(ctx context.Context, cmd string) (State, error) {
	r, err := m.call(ctx, cmd, "hpm_state", noCounter)
	if err != nil {
		return State{}, err
	}
	st := State{
		Enabled:  r.Params["enabled"] != 0,
		Counters: int(r.Params["count"]),
	}
	return st, checkStatus(cmd, noCounter, r)
}

// Enable runs the capability probe and opens the counters.
func (m *MCU) Enable(ctx context.Context) (State, error) {
	return m.state(ctx, "hpm_enable")
}

// Disable closes the counters and stops every query.
func (m *MCU) Disable(ctx context.Context) (State, error) {
	return m.state(ctx, "hpm_disable")
}

// State reports whether the monitor is enabled and how many counters the
// hart implements.
func (m *MCU) State(ctx context.Context) (State, error) {
	return m.state(ctx, "hpm_get_state")
}

func (m *MCU) event(ctx context.Context, cmd string, c hpm.Counter, args ...uint32) (uint32, error) {
	r, err := m.call(ctx, cmd, "hpm_event", int(c), append([]uint32{uint32(c)}, args...)...)
	if err != nil {
		return 0, err
	}
	return r.Params["mask"], checkStatus(cmd, int(c), r)
}

// SetEvent ORs mask into c's event selector and returns the new selector.
func (m *MCU) SetEvent(ctx context.Context, c hpm.Counter, mask uint32) (uint32, error) {
	return m.event(ctx, "hpm_set_event", c, mask)
}

// ClearEvent clears mask from c's event selector and returns the new
// selector.
func (m *MCU) ClearEvent(ctx context.Context, c hpm.Counter, mask uint32) (uint32, error) {
	return m.event(ctx, "hpm_clear_event", c, mask)
}

// Event returns c's event selector.
func (m *MCU) Event(ctx context.Context, c hpm.Counter) (uint32, error) {
	return m.event(ctx, "hpm_get_event", c)
}

// SetAccess grants or revokes lower-privilege read access to c.
func (m *MCU) SetAccess(ctx context.Context, c hpm.Counter, enable bool) error {
	var en uint32
	if enable {
		en = 1
	}
	r, err := m.call(ctx, "hpm_set_access", "hpm_access", int(c), uint32(c), en)
	if err != nil {
		return err
	}
	return checkStatus("hpm_set_access", int(c), r)
}

func (m *MCU) value(ctx context.Context, cmd string, c hpm.Counter, args ...uint32) (uint64, error) {
	r, err := m.call(ctx, cmd, "hpm_value", int(c), append([]uint32{uint32(c)}, args...)...)
	if err != nil {
		return 0, err
	}
	return r.Uint64("high", "low"), checkStatus(cmd, int(c), r)
}

// Read returns c's current value.
func (m *MCU) Read(ctx context.Context, c hpm.Counter) (uint64, error) {
	return m.value(ctx, "hpm_read", c)
}

// Clear resets c to zero.
func (m *MCU) Clear(ctx context.Context, c hpm.Counter) error {
	_, err := m.value(ctx, "hpm_clear", c)
	return err
}

// Query samples c every restTicks firmware clock ticks starting at clock.
// restTicks of zero stops sampling. It returns c's value at the time of
// the request; samples arrive on Samples.
func (m *MCU) Query(ctx context.Context, c hpm.Counter, clock, restTicks uint32) (uint64, error) {
	return m.value(ctx, "hpm_query", c, clock, restTicks)
}

// Watch starts sampling c every interval, beginning shortly after the
// firmware's current clock.
func (m *MCU) Watch(ctx context.Context, c hpm.Counter, interval time.Duration) (uint64, error) {
	if interval <= 0 {
		return 0, fmt.Errorf("watch interval %v must be positive", interval)
	}
	freq, err := m.clockFreq()
	if err != nil {
		return 0, err
	}
	rest, ok := intervalTicks(interval, freq)
	if !ok {
		return 0, fmt.Errorf("watch interval %v too long for a %d Hz clock", interval, freq)
	}

	now, err := m.Clock(ctx)
	if err != nil {
		return 0, err
	}
	start := now + uint32(freq/100)
	return m.Query(ctx, c, start, rest)
}

// intervalTicks converts a positive interval to clock ticks, rounding up
// to one. It fails when the result does not fit the firmware's 31-bit
// rest_ticks window.
func intervalTicks(interval time.Duration, freq uint64) (uint32, bool) {
	hi, lo := bits.Mul64(uint64(interval), freq)
	if hi >= uint64(time.Second) {
		return 0, false
	}
	ticks, _ := bits.Div64(hi, lo, uint64(time.Second))
	if ticks > 1<<31 {
		return 0, false
	}
	return uint32(max(ticks, 1)), true
}

// StopWatch stops sampling c.
func (m *MCU) StopWatch(ctx context.Context, c hpm.Counter) error {
	_, err := m.Query(ctx, c, 0, 0)
	return err
}

func (m *MCU) clockFreq() (uint64, error) {
	freq, err := m.dict.Load().ConstantUint("CLOCK_FREQ")
	if err != nil {
		return 0, err
	}
	if freq == 0 {
		return 0, errors.New("CLOCK_FREQ is zero")
	}
	return freq, nil
}

// Times returns the processor time the firmware reports, at the
// resolution of its TIMES_CLOCKS_PER_SEC.
func (m *MCU) Times(ctx context.Context) (time.Duration, error) {
	r, err := m.call(ctx, "get_times", "times", noCounter)
	if err != nil {
		return 0, err
	}
	perSec, err := m.dict.Load().ConstantUint("TIMES_CLOCKS_PER_SEC")
	if err != nil || perSec == 0 {
		perSec = 1000
	}
	ticks := r.Uint64("utime_high", "utime_low")
	return time.Duration(ticks/perSec)*time.Second +
		time.Duration(ticks%perSec)*time.Second/time.Duration(perSec), nil
}

// Clock returns the low 32 bits of the firmware clock.
func (m *MCU) Clock(ctx context.Context) (uint32, error) {
	r, err := m.call(ctx, "get_clock", "clock", noCounter)
	if err != nil {
		return 0, err
	}
	return r.Params["clock"], nil
}

// Uptime returns the 64-bit firmware clock.
func (m *MCU) Uptime(ctx context.Context) (uint64, error) {
	r, err := m.call(ctx, "get_uptime", "uptime", noCounter)
	if err != nil {
		return 0, err
	}
	return r.Uint64("high", "clock"), nil
}

// GetConfig returns the firmware's configuration state.
func (m *MCU) GetConfig(ctx context.Context) (Config, error) {
	r, err := m.call(ctx, "get_config", "config", noCounter)
	if err != nil {
		return Config{}, err
	}
	return Config{
		IsConfig:   r.Params["is_config"] != 0,
		CRC:        r.Params["crc"],
		IsShutdown: r.Params["is_shutdown"] != 0,
	}, nil
}

// EmergencyStop shuts the firmware down: queries stop and the monitor is
// disabled until ClearShutdown.
func (m *MCU) EmergencyStop(ctx context.Context) error {
	return m.Send(ctx, "emergency_stop")
}

// ClearShutdown leaves the shutdown state.
func (m *MCU) ClearShutdown(ctx context.Context) error {
	return m.Send(ctx, "clear_shutdown")
}
