package core

import (
	"hpmon/hpm"
	"hpmon/protocol"
)

// InitPerfCommands registers the counter command set. The monitor must be
// registered with SetPerfMonitor first.
func InitPerfCommands() {
	mon := MustPerfMonitor()

	RegisterCommand("hpm_enable", "", handlePerfEnable)
	RegisterCommand("hpm_disable", "", handlePerfDisable)
	RegisterCommand("hpm_get_state", "", handlePerfGetState)
	RegisterCommand("hpm_set_event", "counter=%c mask=%u", handlePerfSetEvent)
	RegisterCommand("hpm_clear_event", "counter=%c mask=%u", handlePerfClearEvent)
	RegisterCommand("hpm_get_event", "counter=%c", handlePerfGetEvent)
	RegisterCommand("hpm_set_access", "counter=%c enable=%c", handlePerfSetAccess)
	RegisterCommand("hpm_read", "counter=%c", handlePerfRead)
	RegisterCommand("hpm_clear", "counter=%c", handlePerfClear)
	RegisterCommand("hpm_query", "counter=%c clock=%u rest_ticks=%u", handlePerfQuery)

	RegisterResponse("hpm_state", "enabled=%c count=%c status=%c")
	RegisterResponse("hpm_event", "counter=%c status=%c mask=%u")
	RegisterResponse("hpm_access", "counter=%c status=%c")
	RegisterResponse("hpm_value", "counter=%c status=%c high=%u low=%u")
	RegisterResponse("hpm_sample", "counter=%c clock=%u high=%u low=%u")

	RegisterConstant("HPM_XLEN", mon.XLEN())

	names := make([]string, hpm.NumCounters)
	for c := range names {
		names[c] = hpm.Counter(c).String()
	}
	RegisterEnumeration("counter", names)

	resetPerfQueries()
	OnShutdown(shutdownPerf)
}

// shutdownPerf stops sampling and closes the counters.
func shutdownPerf() {
	cancelPerfQueries()
	if perfMonitor != nil && perfMonitor.Enabled() {
		if err := perfMonitor.Disable(); err != nil {
			DebugPrintln("[hpm] disable on shutdown: " + err.Error())
		}
	}
}

// decodeCounter reads a counter=%c argument. Values that do not fit a
// counter identifier map to one no hart implements.
func decodeCounter(data *[]byte) (hpm.Counter, error) {
	v, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return 0, err
	}
	if v > 0xFF {
		v = 0xFF
	}
	return hpm.Counter(v), nil
}

func sendPerfState(err error) {
	mon := MustPerfMonitor()
	enabled := boolArg(mon.Enabled())
	count := uint32(mon.Available())
	status := uint32(hpm.Status(err))
	SendResponse("hpm_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, enabled)
		protocol.EncodeVLQUint(output, count)
		protocol.EncodeVLQUint(output, status)
	})
}

func handlePerfEnable(data *[]byte) error {
	var err error
	if IsShutdown() {
		err = errShutdown
	} else {
		err = MustPerfMonitor().Enable()
	}
	if err != nil {
		DebugPrintln("[hpm] enable: " + err.Error())
	}
	sendPerfState(err)
	return nil
}

func handlePerfDisable(data *[]byte) error {
	err := MustPerfMonitor().Disable()
	if err == nil {
		cancelPerfQueries()
	}
	sendPerfState(err)
	return nil
}

func handlePerfGetState(data *[]byte) error {
	sendPerfState(nil)
	return nil
}

func decodeEventArgs(data *[]byte) (hpm.Counter, uint32, error) {
	c, err := decodeCounter(data)
	if err != nil {
		return 0, 0, err
	}
	mask, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return 0, 0, err
	}
	return c, mask, nil
}

// sendPerfEvent replies with the selector as it stands after the command.
func sendPerfEvent(c hpm.Counter, err error) {
	var mask uint32
	if err == nil {
		mask, err = MustPerfMonitor().Event(c)
	}
	status := uint32(hpm.Status(err))
	SendResponse("hpm_event", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(c))
		protocol.EncodeVLQUint(output, status)
		protocol.EncodeVLQUint(output, mask)
	})
}

func handlePerfSetEvent(data *[]byte) error {
	c, mask, err := decodeEventArgs(data)
	if err != nil {
		return err
	}
	sendPerfEvent(c, MustPerfMonitor().SetEvent(c, mask))
	return nil
}

func handlePerfClearEvent(data *[]byte) error {
	c, mask, err := decodeEventArgs(data)
	if err != nil {
		return err
	}
	sendPerfEvent(c, MustPerfMonitor().ClearEvent(c, mask))
	return nil
}

func handlePerfGetEvent(data *[]byte) error {
	c, err := decodeCounter(data)
	if err != nil {
		return err
	}
	sendPerfEvent(c, nil)
	return nil
}

func handlePerfSetAccess(data *[]byte) error {
	c, err := decodeCounter(data)
	if err != nil {
		return err
	}
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	mon := MustPerfMonitor()
	if enable != 0 {
		err = mon.EnableAccess(c)
	} else {
		err = mon.DisableAccess(c)
	}
	status := uint32(hpm.Status(err))
	SendResponse("hpm_access", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(c))
		protocol.EncodeVLQUint(output, status)
	})
	return nil
}

func sendPerfValue(c hpm.Counter, v uint64, err error) {
	status := uint32(hpm.Status(err))
	SendResponse("hpm_value", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(c))
		protocol.EncodeVLQUint(output, status)
		protocol.EncodeVLQUint64(output, v)
	})
}

func handlePerfRead(data *[]byte) error {
	c, err := decodeCounter(data)
	if err != nil {
		return err
	}
	v, err := MustPerfMonitor().Read(c)
	sendPerfValue(c, v, err)
	return nil
}

func handlePerfClear(data *[]byte) error {
	c, err := decodeCounter(data)
	if err != nil {
		return err
	}
	sendPerfValue(c, 0, MustPerfMonitor().Clear(c))
	return nil
}
