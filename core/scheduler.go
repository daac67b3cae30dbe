package core

// Timer is a scheduled callback. The handler returns SF_DONE to drop the
// timer or SF_RESCHEDULE after updating WakeTime.
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList   *Timer
	currentTime uint32
)

// timerBefore compares clocks modulo 2^32.
func timerBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// ScheduleTimer adds t to the schedule. t must not already be scheduled.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	insertTimer(t)
}

// CancelTimer removes t from the schedule if it is queued.
func CancelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for p := &timerList; *p != nil; p = &(*p).Next {
		if *p == t {
			*p = t.Next
			t.Next = nil
			return
		}
	}
}

// ResetTimers drops every scheduled timer.
func ResetTimers() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for t := timerList; t != nil; {
		next := t.Next
		t.Next = nil
		t = next
	}
	timerList = nil
}

// insertTimer keeps the list ordered by WakeTime; equal times run in
// insertion order.
func insertTimer(t *Timer) {
	p := &timerList
	for *p != nil && !timerBefore(t.WakeTime, (*p).WakeTime) {
		p = &(*p).Next
	}
	t.Next = *p
	*p = t
}

// TimerDispatch runs every timer due at or before currentTime.
func TimerDispatch() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && !timerBefore(currentTime, timerList.WakeTime) {
		t := timerList
		timerList = t.Next
		t.Next = nil

		if t.Handler(t) == SF_RESCHEDULE {
			insertTimer(t)
		}
	}
}
