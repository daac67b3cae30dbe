// Package protocol implements the Klipper serial protocol: VLQ argument
// encoding, CRC16 framing, and the firmware and host ends of the
// sequenced, acknowledged transport.
package protocol

// Version is the protocol implementation version reported by the tools.
const Version = "0.1.0"

const (
	// MessageMax bounds one pass of buffered output, which may hold
	// several frames.
	MessageMax = 512

	MessageSeqMask = 0x0F
)
