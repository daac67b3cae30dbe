package core

import (
	"errors"

	"hpmon/hpm"
	"hpmon/protocol"
)

var errShutdown = errors.New("firmware is shut down")

// perfQuery samples one counter every RestTicks. The timer takes the
// reading; PerfQueryTask sends it from task context.
type perfQuery struct {
	Counter   hpm.Counter
	Timer     Timer
	RestTicks uint32
	active    bool

	pending      bool
	pendingClock uint32
	pendingValue uint64
}

var (
	perfQueries  [hpm.NumCounters]perfQuery
	perfTaskWake bool
)

func resetPerfQueries() {
	cancelPerfQueries()
	for i := range perfQueries {
		q := &perfQueries[i]
		q.Counter = hpm.Counter(i)
		q.Timer.Handler = q.fire
	}
}

// cancelPerfQueries stops every query and drops unsent samples.
func cancelPerfQueries() {
	for i := range perfQueries {
		perfQueries[i].cancel()
	}
}

func (q *perfQuery) cancel() {
	CancelTimer(&q.Timer)
	state := disableInterrupts()
	q.active = false
	q.pending = false
	restoreInterrupts(state)
}

// handlePerfQuery starts, restarts or (rest_ticks=0) cancels sampling of a
// counter. The reply is an immediate hpm_value; a not-ok status means no
// sampling was scheduled.
func handlePerfQuery(data *[]byte) error {
	c, err := decodeCounter(data)
	if err != nil {
		return err
	}
	clock, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	rest, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	v, err := MustPerfMonitor().Read(c)
	if err == nil && IsShutdown() && rest != 0 {
		err = errShutdown
	}
	sendPerfValue(c, v, err)
	if int(c) >= len(perfQueries) {
		return nil
	}

	q := &perfQueries[c]
	q.cancel()
	if err != nil || rest == 0 {
		return nil
	}

	q.RestTicks = rest
	q.active = true
	q.Timer.WakeTime = clock
	ScheduleTimer(&q.Timer)
	return nil
}

// fire runs in timer context.
func (q *perfQuery) fire(t *Timer) uint8 {
	if !q.active {
		return SF_DONE
	}
	v, err := MustPerfMonitor().Read(q.Counter)
	if err != nil {
		// The monitor was disabled or the counter vanished under us.
		q.active = false
		DebugAsync("[hpm] query " + itoa(int(q.Counter)) + " stopped: " + err.Error())
		return SF_DONE
	}

	q.pendingValue = v
	q.pendingClock = t.WakeTime
	q.pending = true
	perfTaskWake = true

	t.WakeTime += q.RestTicks
	if timerBefore(t.WakeTime, currentTime) {
		DebugAsync("[hpm] query " + itoa(int(q.Counter)) + " fell behind")
		t.WakeTime = currentTime + q.RestTicks
	}
	return SF_RESCHEDULE
}

// PerfQueryTask sends samples taken since the last call. Call it from the
// main loop after ProcessTimers.
func PerfQueryTask() {
	state := disableInterrupts()
	if !perfTaskWake {
		restoreInterrupts(state)
		return
	}
	perfTaskWake = false
	restoreInterrupts(state)

	for i := range perfQueries {
		q := &perfQueries[i]

		state = disableInterrupts()
		if !q.pending {
			restoreInterrupts(state)
			continue
		}
		clock := q.pendingClock
		value := q.pendingValue
		q.pending = false
		restoreInterrupts(state)

		SendResponse("hpm_sample", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(q.Counter))
			protocol.EncodeVLQUint(output, clock)
			protocol.EncodeVLQUint64(output, value)
		})
	}
}
