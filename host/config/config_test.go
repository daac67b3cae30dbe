package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hpmon/hpm"
)

func TestLoadProfile(t *testing.T) {
	p, err := LoadProfile([]byte(`{
		"name": "cache",
		"interval_ms": 20,
		"samples": 4,
		"counters": [
			{"counter": "cycle", "user_access": true},
			{"counter": "hpm4", "event_class": 1, "events": [8, 10]},
			{"counter": "5", "mask": 2147483650}
		]
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "cache" || p.Interval() != 20*time.Millisecond || p.Samples != 4 {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Counters) != 3 {
		t.Fatalf("counters = %+v", p.Counters)
	}

	want := []struct {
		id     hpm.Counter
		sel    uint32
		access bool
	}{
		{hpm.Cycle, 0, true},
		{hpm.HPM4, 0x501, false},
		{hpm.HPM5, 0x80000002, false},
	}
	for i, w := range want {
		c := p.Counters[i]
		if c.ID() != w.id || c.Selector() != w.sel || c.UserAccess != w.access {
			t.Errorf("counter %d = %s sel %#x access %v, want %+v", i, c.ID(), c.Selector(), c.UserAccess, w)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	p, err := LoadProfile([]byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "default" || p.IntervalMS != 100 || p.Samples != 10 {
		t.Errorf("defaults = %+v", p)
	}
	if len(p.Counters) != 3 || p.Counters[2].ID() != hpm.HPM3 {
		t.Errorf("default counters = %+v", p.Counters)
	}
}

func TestLoadProfileErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"syntax", `{"counters": [}`, "invalid character"},
		{"unknown counter", `{"counters": [{"counter": "hpm40"}]}`, "unknown counter"},
		{"duplicate", `{"counters": [{"counter": "hpm3"}, {"counter": "3"}]}`, "listed twice"},
		{"fixed with event", `{"counters": [{"counter": "instret", "events": [8]}]}`, "no event selector"},
		{"event bit", `{"counters": [{"counter": "hpm3", "events": [3]}]}`, "outside 8..31"},
		{"negative samples", `{"samples": -1}`, "negative sample count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadProfile([]byte(tt.json))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadProfileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte(`{"name": "file", "counters": [{"counter": "hpm7", "events": [31]}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadProfileFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.Counters[0].Selector() != 1<<31 {
		t.Errorf("selector = %#x", p.Counters[0].Selector())
	}

	if _, err := LoadProfileFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file loaded")
	}
}
