package core

import (
	"sync/atomic"

	"hpmon/protocol"
)

// FirmwareState holds the global firmware state.
type FirmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
}

var globalState = &FirmwareState{}

var (
	globalTransport    *protocol.Transport
	globalResetHandler func()
	resetPending       atomic.Bool
	shutdownHooks      []func()
)

// InitCoreCommands registers the bootstrap and housekeeping commands.
// identify_response and identify must be IDs 0 and 1: the host knows them
// before it has a dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("clear_shutdown", "", handleClearShutdown)
	RegisterCommand("reset", "", handleReset)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c")
}

// ResetCore discards every registered command, response, constant,
// enumeration, shutdown hook and scheduled timer, and clears the firmware
// state. A firmware image never needs it; in-process firmware instances
// call it before registering their command set.
func ResetCore() {
	globalRegistry = NewCommandRegistry()
	globalDictionary = NewDictionary(globalRegistry)
	shutdownHooks = nil
	resetPending.Store(false)
	ResetFirmwareState()
	ResetTimers()
}

func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint64(output, uptime)
	})
	return nil
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	crc := globalState.configCRC.Load()
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolArg(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolArg(IsShutdown()))
	})
	return nil
}

func handleConfigReset(data *[]byte) error {
	globalState.configCRC.Store(0)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleClearShutdown(data *[]byte) error {
	globalState.isShutdown.Store(false)
	return nil
}

// handleReset defers the reset until the main loop has flushed the ACK.
func handleReset(_ *[]byte) error {
	resetPending.Store(true)
	return nil
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// OnShutdown registers fn to run on every transition into shutdown.
func OnShutdown(fn func()) {
	shutdownHooks = append(shutdownHooks, fn)
}

// TryShutdown enters the shutdown state and stops every activity that
// registered a hook. Repeated calls while already shut down do nothing.
func TryShutdown(reason string) {
	if globalState.isShutdown.Swap(true) {
		return
	}
	DebugPrintln("[core] shutdown: " + reason)
	for _, fn := range shutdownHooks {
		fn()
	}
}

// IsShutdown reports whether the firmware is shut down.
func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState clears the shutdown flag and configuration CRC after
// the host reconnects.
func ResetFirmwareState() {
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
}

// SendResponse encodes a registered response on the global transport.
// Sending an unregistered response is a programming error.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		panic("response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// SetGlobalTransport sets the transport responses are sent on.
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// SetResetHandler sets the platform reset routine.
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// CheckPendingReset runs the reset handler if a reset was requested. Call
// it from the main loop once pending output is flushed.
func CheckPendingReset() {
	if resetPending.Load() && globalResetHandler != nil {
		resetPending.Store(false)
		globalResetHandler()
	}
}
