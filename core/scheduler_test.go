package core

import "testing"

func runTimers(now uint32) {
	SetTime(now)
	ProcessTimers()
}

func TestTimerOrdering(t *testing.T) {
	ResetTimers()
	TimerInit()
	t.Cleanup(ResetTimers)

	var order []int
	mk := func(id int, wake uint32) *Timer {
		return &Timer{WakeTime: wake, Handler: func(*Timer) uint8 {
			order = append(order, id)
			return SF_DONE
		}}
	}
	ScheduleTimer(mk(3, 300))
	ScheduleTimer(mk(1, 100))
	ScheduleTimer(mk(2, 200))
	ScheduleTimer(mk(4, 200))

	runTimers(150)
	runTimers(250)
	runTimers(1000)

	want := []int{1, 2, 4, 3}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTimerCancel(t *testing.T) {
	ResetTimers()
	TimerInit()
	t.Cleanup(ResetTimers)

	fired := 0
	a := &Timer{WakeTime: 10, Handler: func(*Timer) uint8 { fired++; return SF_DONE }}
	b := &Timer{WakeTime: 20, Handler: func(*Timer) uint8 { fired += 10; return SF_DONE }}
	ScheduleTimer(a)
	ScheduleTimer(b)
	CancelTimer(a)
	CancelTimer(a)

	runTimers(30)
	if fired != 10 {
		t.Errorf("fired = %d, want only b", fired)
	}
}

func TestTimerReschedule(t *testing.T) {
	ResetTimers()
	TimerInit()
	t.Cleanup(ResetTimers)

	var wakes []uint32
	tm := &Timer{WakeTime: 5}
	tm.Handler = func(timer *Timer) uint8 {
		wakes = append(wakes, timer.WakeTime)
		if len(wakes) == 3 {
			return SF_DONE
		}
		timer.WakeTime += 5
		return SF_RESCHEDULE
	}
	ScheduleTimer(tm)

	runTimers(12)
	if len(wakes) != 2 {
		t.Fatalf("wakes after 12 = %v", wakes)
	}
	runTimers(100)
	runTimers(200)
	if len(wakes) != 3 || wakes[2] != 15 {
		t.Errorf("wakes = %v", wakes)
	}
}

func TestTimerWraparound(t *testing.T) {
	ResetTimers()
	TimerInit()
	t.Cleanup(ResetTimers)

	if !timerBefore(0xFFFFFFF0, 0x10) {
		t.Error("0xFFFFFFF0 should precede 0x10")
	}
	if timerBefore(0x10, 0xFFFFFFF0) {
		t.Error("0x10 should follow 0xFFFFFFF0")
	}

	var order []uint32
	h := func(timer *Timer) uint8 {
		order = append(order, timer.WakeTime)
		return SF_DONE
	}
	ScheduleTimer(&Timer{WakeTime: 0x20, Handler: h})
	ScheduleTimer(&Timer{WakeTime: 0xFFFFFFF8, Handler: h})

	runTimers(0xFFFFFFF0)
	if len(order) != 0 {
		t.Fatalf("fired early: %v", order)
	}
	runTimers(0x30)
	if len(order) != 2 || order[0] != 0xFFFFFFF8 || order[1] != 0x20 {
		t.Errorf("order = %#x", order)
	}
	if GetUptime() != 1<<32|0x30 {
		t.Errorf("uptime = %#x", GetUptime())
	}
}

func TestTimerConversions(t *testing.T) {
	old := ClockFreq()
	t.Cleanup(func() { SetClockFreq(old) })

	SetClockFreq(12000000)
	if got := TimerFromUS(1000); got != 12000 {
		t.Errorf("TimerFromUS(1000) = %d", got)
	}
	if got := TimerToUS(24000); got != 2000 {
		t.Errorf("TimerToUS(24000) = %d", got)
	}
	SetClockFreq(0)
	if ClockFreq() != 12000000 {
		t.Error("zero frequency should be ignored")
	}
}
