//go:build tinygo.riscv

package main

import (
	"runtime"
	"time"

	"hpmon/core"
	"hpmon/hpm"
	"hpmon/protocol"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	// Debug counters
	messagesReceived uint32
	msgerrors        uint32
	writeFailures    uint32
)

func main() {
	InitSerial()

	InitClock()
	core.TimerInit()

	monitor := hpm.New(csrDriver{})
	core.SetPerfMonitor(monitor)

	core.InitCoreCommands()
	core.InitPerfCommands()
	core.InitTimesCommands()
	core.RegisterConstant("HPM_ATOMICS", csrDriver{}.HasAtomics())
	initDebug()

	// All commands must be registered before this point.
	core.GetGlobalDictionary().SetBuildVersions("tinygo " + runtime.Version())
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// Responses must reach the host ahead of the next ack.
	transport.SetFlushCallback(writeSerial)
	core.SetGlobalTransport(transport)

	// There is no portable system reset on RISC-V; a firmware restart drops
	// every query and closes the counters.
	core.SetResetHandler(func() {
		core.TryShutdown("reset")
		core.ResetFirmwareState()
	})

	go serialReaderLoop()

	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
				}
			}()

			UpdateSystemTime()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				in := protocol.NewSliceInputBuffer(data)
				transport.Receive(in)
				messagesReceived++
				if consumed := len(data) - in.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			core.ProcessTimers()
			core.PerfQueryTask()
			writeSerial()

			// After the flush, so the ack of the reset command is out.
			core.CheckPendingReset()
		}()

		time.Sleep(10 * time.Microsecond)
	}
}

func serialReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go serialReaderLoop()
		}
	}()

	for {
		if serialAvailable() > 0 {
			b, err := serialRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}
			if inputBuffer.Write([]byte{b}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeSerial drains the output buffer. After repeated failures the
// pending output is dropped rather than resent stale.
func writeSerial() {
	result := outputBuffer.Result()
	for written := 0; written < len(result); {
		n, err := serialWrite(result[written:])
		if err != nil || n == 0 {
			writeFailures++
			if writeFailures > 10 {
				writeFailures = 0
				outputBuffer.Reset()
			}
			return
		}
		written += n
	}
	writeFailures = 0
	outputBuffer.Reset()
}
