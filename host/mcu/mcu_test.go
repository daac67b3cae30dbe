package mcu_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hpmon/hpm"
	"hpmon/host/emulator"
	"hpmon/host/mcu"
)

func connect(t *testing.T, cfg emulator.Config) (*mcu.MCU, *emulator.Emulator) {
	t.Helper()

	e, err := emulator.Start(cfg)
	if err != nil {
		t.Fatalf("start emulator: %v", err)
	}
	m := mcu.NewMCU(mcu.WithResponseTimeout(2 * time.Second))
	t.Cleanup(func() {
		m.Close()
		e.Close()
	})

	if err := m.ConnectPort(e.Port()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := m.RetrieveDictionary(ctx(t)); err != nil {
		t.Fatalf("retrieve dictionary: %v", err)
	}
	return m, e
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

func TestRetrieveDictionary(t *testing.T) {
	m, _ := connect(t, emulator.DefaultConfig())

	if raw := m.GetDictionaryRaw(); len(raw) == 0 || raw[0] != 0x78 {
		t.Errorf("dictionary not served as zlib: % x", raw[:min(len(raw), 4)])
	}
	dict := m.GetDictionary()
	if dict == nil {
		t.Fatal("no dictionary")
	}
	for _, name := range []string{"hpm_enable", "hpm_query", "get_times", "emergency_stop"} {
		if !dict.HasCommand(name) {
			t.Errorf("dictionary lacks %s", name)
		}
	}
	if v, _ := dict.Constant("MCU"); v != "emulator" {
		t.Errorf("MCU = %q", v)
	}
	if f, err := dict.ConstantUint("CLOCK_FREQ"); err != nil || f != 1000000 {
		t.Errorf("CLOCK_FREQ = %d, %v", f, err)
	}
	if len(dict.Enumerations["counter"]) != hpm.NumCounters {
		t.Errorf("counter enumeration has %d names", len(dict.Enumerations["counter"]))
	}
}

func TestEnableDisable(t *testing.T) {
	cfg := emulator.DefaultConfig()
	cfg.Counters = 5
	m, _ := connect(t, cfg)
	c := ctx(t)

	st, err := m.State(c)
	if err != nil || st.Enabled {
		t.Fatalf("initial state = %+v, %v", st, err)
	}
	st, err = m.Enable(c)
	if err != nil || st != (mcu.State{Enabled: true, Counters: 5}) {
		t.Fatalf("Enable = %+v, %v", st, err)
	}

	_, err = m.Enable(c)
	var se *mcu.StatusError
	if !errors.As(err, &se) || se.Op != "hpm_enable" || !errors.Is(err, mcu.ErrNotOK) {
		t.Errorf("second Enable = %v", err)
	}

	if st, err = m.Disable(c); err != nil || st.Enabled {
		t.Errorf("Disable = %+v, %v", st, err)
	}
}

func TestCounterOperations(t *testing.T) {
	m, e := connect(t, emulator.DefaultConfig())
	c := ctx(t)

	if _, err := m.Read(c, hpm.HPM3); !errors.Is(err, mcu.ErrNotOK) {
		t.Errorf("Read before Enable = %v", err)
	}
	if _, err := m.Enable(c); err != nil {
		t.Fatal(err)
	}

	mask := hpm.EventMask(2, 8, 9)
	got, err := m.SetEvent(c, hpm.HPM3, mask)
	if err != nil || got != mask {
		t.Fatalf("SetEvent = %#x, %v", got, err)
	}
	if got, err = m.ClearEvent(c, hpm.HPM3, hpm.EventID9); err != nil || got != hpm.EventMask(2, 8) {
		t.Errorf("ClearEvent = %#x, %v", got, err)
	}
	if got, err = m.Event(c, hpm.HPM3); err != nil || got != hpm.EventMask(2, 8) {
		t.Errorf("Event = %#x, %v", got, err)
	}
	if _, err = m.Event(c, hpm.Cycle); !errors.Is(err, mcu.ErrNotOK) {
		t.Errorf("Event(cycle) = %v", err)
	}

	const big = 1 << 40
	e.Hart().Advance(big)
	v, err := m.Read(c, hpm.HPM3)
	if err != nil || v < big {
		t.Errorf("Read = %d, %v", v, err)
	}
	if err := m.Clear(c, hpm.HPM3); err != nil {
		t.Fatal(err)
	}
	if v, err = m.Read(c, hpm.HPM3); err != nil || v >= big {
		t.Errorf("Read after Clear = %d, %v", v, err)
	}

	if err := m.SetAccess(c, hpm.HPM3, true); err != nil {
		t.Errorf("SetAccess = %v", err)
	}
	if err := m.SetAccess(c, hpm.HPM20, true); !errors.Is(err, mcu.ErrNotOK) {
		t.Errorf("SetAccess out of range = %v", err)
	}

	c1, err := m.Read(c, hpm.Cycle)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := m.Read(c, hpm.Cycle)
	if err != nil || c2 <= c1 {
		t.Errorf("cycle went %d -> %d (%v)", c1, c2, err)
	}
}

func TestWatch(t *testing.T) {
	m, _ := connect(t, emulator.DefaultConfig())
	c := ctx(t)

	if _, err := m.Enable(c); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Watch(c, hpm.Cycle, 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	var samples []mcu.Sample
	timeout := time.After(3 * time.Second)
	for len(samples) < 3 {
		select {
		case s := <-m.Samples():
			samples = append(samples, s)
		case <-timeout:
			t.Fatalf("got %d samples", len(samples))
		}
	}
	for i, s := range samples {
		if s.Counter != hpm.Cycle {
			t.Errorf("sample %d from %s", i, s.Counter)
		}
		if i > 0 && (s.Value <= samples[i-1].Value || int32(s.Clock-samples[i-1].Clock) <= 0) {
			t.Errorf("samples not increasing: %+v", samples)
		}
	}

	if err := m.StopWatch(c, hpm.Cycle); err != nil {
		t.Fatal(err)
	}
}

func TestWatchIntervalBounds(t *testing.T) {
	m, _ := connect(t, emulator.DefaultConfig())
	c := ctx(t)

	if _, err := m.Enable(c); err != nil {
		t.Fatal(err)
	}
	for _, d := range []time.Duration{0, -time.Millisecond, 1 << 62, 1<<63 - 1} {
		if _, err := m.Watch(c, hpm.Cycle, d); err == nil {
			t.Errorf("Watch(%v) accepted", d)
		}
	}
	select {
	case s := <-m.Samples():
		t.Errorf("sample after rejected watch: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTrappingHart(t *testing.T) {
	cfg := emulator.DefaultConfig()
	cfg.Trap = true
	m, _ := connect(t, cfg)
	c := ctx(t)

	if _, err := m.Enable(c); !errors.Is(err, mcu.ErrNotOK) {
		t.Errorf("Enable = %v", err)
	}
	if st, err := m.State(c); err != nil || st.Enabled {
		t.Errorf("State = %+v, %v", st, err)
	}
}

func TestEmergencyStop(t *testing.T) {
	m, _ := connect(t, emulator.DefaultConfig())
	c := ctx(t)

	if _, err := m.Enable(c); err != nil {
		t.Fatal(err)
	}
	if err := m.EmergencyStop(c); err != nil {
		t.Fatal(err)
	}
	cfg, err := m.GetConfig(c)
	if err != nil || !cfg.IsShutdown {
		t.Fatalf("GetConfig = %+v, %v", cfg, err)
	}
	if st, _ := m.State(c); st.Enabled {
		t.Error("monitor still enabled after emergency stop")
	}
	if _, err := m.Enable(c); !errors.Is(err, mcu.ErrNotOK) {
		t.Errorf("Enable while shut down = %v", err)
	}

	if err := m.ClearShutdown(c); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Enable(c); err != nil {
		t.Errorf("Enable after clear_shutdown = %v", err)
	}
}

func TestClockAndTimes(t *testing.T) {
	m, _ := connect(t, emulator.DefaultConfig())
	c := ctx(t)

	c1, err := m.Clock(c)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	up, err := m.Uptime(c)
	if err != nil || uint32(up)-c1 < 5000 {
		t.Errorf("clock %d then uptime %d (%v)", c1, up, err)
	}

	d, err := m.Times(c)
	if err != nil || d < 10*time.Millisecond {
		t.Errorf("Times = %v, %v", d, err)
	}
}

func TestCommandErrors(t *testing.T) {
	m, _ := connect(t, emulator.DefaultConfig())
	c := ctx(t)

	if err := m.Send(c, "no_such_command"); !errors.Is(err, mcu.ErrUnknownCommand) {
		t.Errorf("unknown command = %v", err)
	}
	if err := m.Send(c, "hpm_read"); err == nil {
		t.Error("missing argument accepted")
	}
	r, err := m.Call(c, "hpm_read", "hpm_value", 300)
	if err != nil || r.Params["counter"] != 255 || r.Params["status"] != 1 {
		t.Errorf("hpm_read 300 = %v, %v", r, err)
	}
}

func TestNotConnected(t *testing.T) {
	m := mcu.NewMCU()
	if _, err := m.Enable(t.Context()); !errors.Is(err, mcu.ErrNotConnected) {
		t.Errorf("Enable = %v", err)
	}
	if m.GetDictionary() != nil {
		t.Error("dictionary before retrieval")
	}
}
