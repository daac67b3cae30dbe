//go:build tinygo.riscv

package main

import "machine"

// InitSerial configures the console UART the host talks to.
func InitSerial() {
	machine.Serial.Configure(machine.UARTConfig{BaudRate: 250000})
}

func serialAvailable() int {
	return machine.Serial.Buffered()
}

func serialRead() (byte, error) {
	return machine.Serial.ReadByte()
}

func serialWrite(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
