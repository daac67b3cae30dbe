// Package config loads counter profiles: which counters to program, with
// which events, and how to sample them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"hpmon/hpm"
)

// CounterConfig programs one counter.
type CounterConfig struct {
	// Counter is a name accepted by hpm.ParseCounter ("cycle", "hpm3", "7").
	Counter    string `json:"counter"`
	EventClass uint8  `json:"event_class,omitempty"`
	// Events are event bit positions within the class, 8..31.
	Events []uint `json:"events,omitempty"`
	// Mask is ORed into the selector as-is, for cores whose layout the
	// class/event helpers do not describe.
	Mask       uint32 `json:"mask,omitempty"`
	UserAccess bool   `json:"user_access,omitempty"`

	id hpm.Counter
}

// ID returns the resolved counter. Valid after LoadProfile.
func (c CounterConfig) ID() hpm.Counter {
	return c.id
}

// Selector returns the event selector value to program.
func (c CounterConfig) Selector() uint32 {
	return hpm.EventMask(c.EventClass, c.Events...) | c.Mask
}

// Profile is a set of counters sampled together.
type Profile struct {
	Name       string          `json:"name"`
	IntervalMS uint32          `json:"interval_ms"`
	Samples    int             `json:"samples"`
	Counters   []CounterConfig `json:"counters"`
}

// Interval returns the sampling period.
func (p *Profile) Interval() time.Duration {
	return time.Duration(p.IntervalMS) * time.Millisecond
}

// LoadProfile parses a JSON profile, applies defaults and validates it.
func LoadProfile(jsonData []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, err
	}

	applyDefaults(&p)

	if err := p.resolve(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadProfileFile reads and parses the profile at path.
func LoadProfileFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := LoadProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// applyDefaults fills in missing values.
func applyDefaults(p *Profile) {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.IntervalMS == 0 {
		p.IntervalMS = 100
	}
	if p.Samples == 0 {
		p.Samples = 10
	}
	if len(p.Counters) == 0 {
		p.Counters = DefaultProfile().Counters
	}
}

func (p *Profile) resolve() error {
	if p.Samples < 0 {
		return fmt.Errorf("profile %s: negative sample count", p.Name)
	}
	seen := make(map[hpm.Counter]bool, len(p.Counters))
	for i := range p.Counters {
		c := &p.Counters[i]
		id, err := hpm.ParseCounter(c.Counter)
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
		if seen[id] {
			return fmt.Errorf("profile %s: counter %s listed twice", p.Name, id)
		}
		seen[id] = true

		if id.Fixed() && c.Selector() != 0 {
			return fmt.Errorf("profile %s: %s has no event selector", p.Name, id)
		}
		for _, e := range c.Events {
			if e < hpm.EventShift || e > 31 {
				return fmt.Errorf("profile %s: %s event bit %d outside 8..31", p.Name, id, e)
			}
		}
		c.id = id
	}
	return nil
}

// DefaultProfile samples cycles, retired instructions and the first
// programmable counter on event class 0, event 8.
func DefaultProfile() *Profile {
	p := &Profile{
		Name:       "default",
		IntervalMS: 100,
		Samples:    10,
		Counters: []CounterConfig{
			{Counter: "cycle"},
			{Counter: "instret"},
			{Counter: "hpm3", EventClass: 0, Events: []uint{8}},
		},
	}
	if err := p.resolve(); err != nil {
		panic(err)
	}
	return p
}
