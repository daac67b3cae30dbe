package core

import (
	"strings"
	"testing"

	"hpmon/hpm"
	"hpmon/hpm/sim"
	"hpmon/protocol"
)

// response is one decoded firmware-to-host message.
type response struct {
	name string
	args []uint32
}

// firmware is a core instance wired to a simulated hart, with responses
// captured in a scratch buffer.
type firmware struct {
	t    *testing.T
	out  *protocol.ScratchOutput
	hart *sim.Hart
	mon  *hpm.Monitor
}

func newFirmware(t *testing.T, opts ...sim.Option) *firmware {
	t.Helper()

	ResetCore()
	TimerInit()

	hart := sim.NewHart(opts...)
	mon := hpm.New(hart)
	SetPerfMonitor(mon)

	InitCoreCommands()
	InitPerfCommands()
	InitTimesCommands()
	GetGlobalDictionary().BuildDictionary()

	out := protocol.NewScratchOutput()
	SetGlobalTransport(protocol.NewTransport(out, DispatchCommand))

	t.Cleanup(func() {
		SetGlobalTransport(nil)
		SetPerfMonitor(nil)
		SetCycleClock(nil)
		ResetCore()
	})
	return &firmware{t: t, out: out, hart: hart, mon: mon}
}

// call runs a command by name and returns the responses it produced.
func (f *firmware) call(name string, args ...uint32) []response {
	f.t.Helper()

	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		f.t.Fatalf("command %q not registered", name)
	}
	scratch := protocol.NewScratchOutput()
	for _, a := range args {
		protocol.EncodeVLQUint(scratch, a)
	}
	data := scratch.Result()
	if err := DispatchCommand(cmd.ID, &data); err != nil {
		f.t.Fatalf("%s: %v", name, err)
	}
	if len(data) != 0 {
		f.t.Fatalf("%s left %d argument bytes undecoded", name, len(data))
	}
	return f.drain()
}

// callOne runs a command that must produce exactly one response.
func (f *firmware) callOne(name string, args ...uint32) response {
	f.t.Helper()
	resps := f.call(name, args...)
	if len(resps) != 1 {
		f.t.Fatalf("%s produced %d responses: %+v", name, len(resps), resps)
	}
	return resps[0]
}

// drain decodes and clears every frame written so far.
func (f *firmware) drain() []response {
	f.t.Helper()
	defer f.out.Reset()

	var resps []response
	data := f.out.Result()
	for len(data) > 0 {
		msgLen := int(data[protocol.MessagePositionLen])
		payload := data[protocol.MessageHeaderSize : msgLen-protocol.MessageTrailerSize]
		data = data[msgLen:]

		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			f.t.Fatalf("bad message id: %v", err)
		}
		cmd, ok := GetGlobalRegistry().GetCommand(uint16(id))
		if !ok || cmd.Handler != nil {
			f.t.Fatalf("message %d is not a response", id)
		}

		r := response{name: cmd.Name}
		for _, field := range strings.Fields(cmd.Format) {
			if strings.HasSuffix(field, "%*s") {
				if _, err := protocol.DecodeVLQBytes(&payload); err != nil {
					f.t.Fatalf("%s: %v", cmd.Name, err)
				}
				continue
			}
			v, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				f.t.Fatalf("%s: %v", cmd.Name, err)
			}
			r.args = append(r.args, v)
		}
		resps = append(resps, r)
	}
	return resps
}

// tick advances the firmware clock and runs the main-loop work.
func (f *firmware) tick(clock uint32) []response {
	SetTime(clock)
	ProcessTimers()
	PerfQueryTask()
	return f.drain()
}

func expectArgs(t *testing.T, r response, name string, want ...uint32) {
	t.Helper()
	if r.name != name {
		t.Fatalf("response %q, want %q", r.name, name)
	}
	if len(r.args) != len(want) {
		t.Fatalf("%s args = %v, want %v", name, r.args, want)
	}
	for i := range want {
		if r.args[i] != want[i] {
			t.Fatalf("%s args = %v, want %v", name, r.args, want)
		}
	}
}
