// Package tinycompress writes zlib streams made of stored (uncompressed)
// DEFLATE blocks. The output is accepted by any zlib reader and needs no
// compression tables, which keeps it small enough for the firmware image.
package tinycompress

import (
	"encoding/binary"
	"errors"
	"hash/adler32"
	"io"
)

const (
	// MaxBlock is the largest payload a stored DEFLATE block can carry.
	MaxBlock = 0xFFFF

	headerSize      = 2
	blockHeaderSize = 5
	trailerSize     = 4
)

// zlib header: 32K window, deflate, default level, FCHECK so that the
// 16-bit value is a multiple of 31.
var zlibHeader = [headerSize]byte{0x78, 0x9C}

var ErrClosed = errors.New("tinycompress: write after close")

// StoredSize returns the length of the stream Store produces for n input
// bytes.
func StoredSize(n int) int {
	blocks := (n + MaxBlock - 1) / MaxBlock
	if blocks == 0 {
		blocks = 1
	}
	return headerSize + blocks*blockHeaderSize + n + trailerSize
}

// Store appends the zlib encoding of src to dst and returns the extended
// slice.
func Store(dst, src []byte) []byte {
	if need := len(dst) + StoredSize(len(src)); cap(dst) < need {
		grown := make([]byte, len(dst), need)
		copy(grown, dst)
		dst = grown
	}

	dst = append(dst, zlibHeader[:]...)
	rest := src
	for {
		n := len(rest)
		final := byte(1)
		if n > MaxBlock {
			n = MaxBlock
			final = 0
		}
		dst = append(dst, final)
		dst = binary.LittleEndian.AppendUint16(dst, uint16(n))
		dst = binary.LittleEndian.AppendUint16(dst, ^uint16(n))
		dst = append(dst, rest[:n]...)
		rest = rest[n:]
		if final == 1 {
			break
		}
	}
	return binary.BigEndian.AppendUint32(dst, adler32.Checksum(src))
}

// Writer buffers everything written to it and emits the zlib stream on
// Close.
type Writer struct {
	output io.Writer
	input  []byte
	closed bool
}

// NewWriter returns a Writer with room for sizeHint bytes before it has to
// grow.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	return &Writer{
		output: w,
		input:  make([]byte, 0, sizeHint),
	}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.input = append(w.input, p...)
	return len(p), nil
}

// Close writes the stream. The underlying writer is not closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.output.Write(Store(nil, w.input))
	return err
}
