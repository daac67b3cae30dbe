// Package serial opens the link to counter firmware on a physical port.
package serial

import (
	"io"
	"time"
)

// Port is an open connection to the firmware.
type Port interface {
	io.ReadWriteCloser

	// Flush discards bytes received but not yet read, and bytes written
	// but not yet transmitted.
	Flush() error
}

// Config describes the port to open.
type Config struct {
	// Device path, e.g. /dev/ttyUSB0 or COM3.
	Device string

	// Baud rate. USB CDC ACM links ignore it.
	Baud int

	// ReadTimeout bounds a single Read. Zero blocks until data arrives,
	// which keeps Close from interrupting a pending Read on some systems.
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings the firmware UART uses.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
