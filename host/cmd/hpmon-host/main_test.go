package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"hpmon/hpm"
	"hpmon/host/emulator"
	"hpmon/host/mcu"
)

func TestParseCounterList(t *testing.T) {
	got, err := parseCounterList("cycle, INSTRET,mhpmcounter5,,hpm31")
	if err != nil {
		t.Fatalf("parseCounterList: %v", err)
	}
	want := counterList{hpm.Cycle, hpm.Instret, hpm.HPM5, hpm.HPM31}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("counter %d = %s, want %s", i, got[i], want[i])
		}
	}

	if got, err := parseCounterList("  "); err != nil || len(got) != 0 {
		t.Errorf("blank list = %v, %v", got, err)
	}
}

func TestParseCounterListUnknown(t *testing.T) {
	for _, in := range []string{"hpm32", "cycles", "cycle,nope"} {
		_, err := parseCounterList(in)
		if err == nil || !strings.Contains(err.Error(), "unknown counter") {
			t.Errorf("parseCounterList(%q) err = %v", in, err)
		}
	}
}

func TestCounterListFlag(t *testing.T) {
	var l counterList
	if err := l.Set("cycle"); err != nil {
		t.Fatal(err)
	}
	if err := l.Set("hpm3,mtime"); err != nil {
		t.Fatal(err)
	}
	if got := l.String(); got != "cycle,hpm3,time" {
		t.Errorf("String() = %q", got)
	}
	if l.Type() != "counters" {
		t.Errorf("Type() = %q", l.Type())
	}

	v, err := decodeCounterList("instret")
	if err != nil {
		t.Fatal(err)
	}
	if l, ok := v.(counterList); !ok || len(l) != 1 || l[0] != hpm.Instret {
		t.Errorf("decodeCounterList = %#v", v)
	}
}

func TestParseMask(t *testing.T) {
	tests := []struct {
		in      string
		want    uint32
		wantErr bool
	}{
		{"0x105", 0x105, false},
		{"0b11", 3, false},
		{" 42 ", 42, false},
		{"0xffffffff", 0xffffffff, false},
		{"0x100000000", 0, true},
		{"-1", 0, true},
		{"mask", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMask(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMask(%q) err = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMask(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--emulate"}, args...))

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestProbeCommand(t *testing.T) {
	out, err := run(t, "probe", "--json")
	if err != nil {
		t.Fatalf("probe: %v\n%s", err, out)
	}
	var got struct {
		Counters int    `json:"counters"`
		XLEN     string `json:"xlen"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Counters != 8 || got.XLEN != "32" {
		t.Errorf("probe = %+v", got)
	}
}

func TestReadCommand(t *testing.T) {
	out, err := run(t, "read", "-c", "cycle,hpm3")
	if err != nil {
		t.Fatalf("read: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "cycle ") {
		t.Errorf("output does not start with cycle: %q", out)
	}
	if !strings.Contains(out, "hpm3     0\n") {
		t.Errorf("unprogrammed hpm3 not zero: %q", out)
	}
}

func TestEventCommand(t *testing.T) {
	out, err := run(t, "event", "-c", "hpm3", "--set", "0x105")
	if err != nil {
		t.Fatalf("event: %v\n%s", err, out)
	}
	if want := "hpm3     0x00000105 class=5 events=0x1\n"; out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestCommandErrors(t *testing.T) {
	if _, err := run(t, "read", "-c", "bogus"); err == nil {
		t.Error("unknown counter accepted")
	}
	if _, err := run(t, "event", "-c", "hpm3", "--set", "zz"); err == nil {
		t.Error("bad mask accepted")
	}
	if _, err := run(t, "event", "-c", "cycle", "--set", "1"); err == nil {
		t.Error("event on a fixed counter succeeded")
	}
}

func connect(t *testing.T) *mcu.MCU {
	t.Helper()
	e, err := emulator.Start(emulator.DefaultConfig())
	if err != nil {
		t.Fatalf("start emulator: %v", err)
	}
	m := mcu.NewMCU(mcu.WithResponseTimeout(2 * time.Second))
	t.Cleanup(func() {
		m.Close()
		e.Close()
	})
	if err := m.ConnectPort(e.Port()); err != nil {
		t.Fatal(err)
	}
	if err := m.RetrieveDictionary(t.Context()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestShell(t *testing.T) {
	m := connect(t)

	in := strings.NewReader(`enable
event hpm3 set 0x105
event hpm3 clear "0x100"
access hpm3 maybe
bogus
quit
state
`)
	var out bytes.Buffer
	if err := runShell(t.Context(), m, in, &out); err != nil {
		t.Fatalf("runShell: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"enabled=true counters=8\n",
		"hpm3 0x00000105\n",
		"hpm3 0x00000005\n",
		`Error: expected on or off, got "maybe"`,
		"Error: unknown command: bogus",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "> enabled=") != 1 {
		t.Error("shell kept running after quit")
	}
}

func TestShellSplitError(t *testing.T) {
	sh := &shell{out: &bytes.Buffer{}}
	if err := sh.execLine(t.Context(), `send "unterminated`); err == nil {
		t.Error("unterminated quote accepted")
	}
	if err := sh.execLine(t.Context(), "   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

func TestWatch(t *testing.T) {
	m := connect(t)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	if _, err := m.Enable(ctx); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := watch(ctx, m, &out, counterList{hpm.Cycle, hpm.Cycle}, 10*time.Millisecond, 3); err != nil {
		t.Fatalf("watch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines:\n%s", len(lines), out.String())
	}
	for _, l := range lines {
		if !strings.Contains(l, " cycle ") {
			t.Errorf("unexpected line %q", l)
		}
	}
}
