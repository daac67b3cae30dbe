package core

import "testing"

type fixedClock struct {
	cycles uint64
	hz     uint64
}

func (c fixedClock) Cycles() uint64    { return c.cycles }
func (c fixedClock) Frequency() uint64 { return c.hz }

func TestTimes(t *testing.T) {
	t.Cleanup(func() { SetCycleClock(nil) })

	tests := []struct {
		name  string
		clock CycleClock
		want  Clock
	}{
		{"no clock", nil, 0},
		{"zero frequency", fixedClock{cycles: 1000, hz: 0}, 0},
		{"five seconds", fixedClock{cycles: 5000000, hz: 1000000}, 5000},
		{"truncates", fixedClock{cycles: 1999, hz: 1000000}, 1},
		{"large", fixedClock{cycles: 1 << 62, hz: 1000000000}, 4611686018427},
		{"saturates", fixedClock{cycles: ^uint64(0), hz: 1}, Clock(^uint64(0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetCycleClock(tt.clock)
			buf := Tms{Stime: 9, Cutime: 9, Cstime: 9}
			got := Times(&buf)
			if got != tt.want {
				t.Errorf("Times = %d, want %d", got, tt.want)
			}
			if buf != (Tms{Utime: tt.want}) {
				t.Errorf("buf = %+v", buf)
			}
			if Times(nil) != tt.want {
				t.Error("Times(nil) disagrees")
			}
		})
	}
}

func TestGetTimesCommand(t *testing.T) {
	f := newFirmware(t)
	SetCycleClock(fixedClock{cycles: 5000000, hz: 1000000})

	expectArgs(t, f.callOne("get_times"), "times", 0, 5000)
}
