//go:build !tinygo

package core

// State stands in for the saved interrupt state. Off-target the firmware
// runs on a single goroutine, so masking is a no-op.
type State uintptr

func disableInterrupts() State {
	return 0
}

func restoreInterrupts(State) {}
