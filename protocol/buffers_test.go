package protocol

import (
	"bytes"
	"testing"
)

func TestSliceInputBufferPop(t *testing.T) {
	tests := []struct {
		name string
		pop  []int
		want []byte
	}{
		{"nothing", nil, []byte{1, 2, 3, 4, 5}},
		{"some", []int{2}, []byte{3, 4, 5}},
		{"in steps", []int{1, 1, 1}, []byte{4, 5}},
		{"past end", []int{4, 9}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewSliceInputBuffer([]byte{1, 2, 3, 4, 5})
			for _, n := range tt.pop {
				buf.Pop(n)
			}
			if buf.Available() != len(tt.want) {
				t.Errorf("Available() = %d, want %d", buf.Available(), len(tt.want))
			}
			if !bytes.Equal(buf.Data(), tt.want) {
				t.Errorf("Data() = %v, want %v", buf.Data(), tt.want)
			}
		})
	}
}

// A counter value goes out as a placeholder length byte, the high/low
// argument pair, then the patched length.
func TestScratchOutputPatchedFrame(t *testing.T) {
	out := NewScratchOutput()
	out.Output([]byte{0})
	start := out.CurPosition()
	EncodeVLQUint64(out, 1<<32|7)

	args := out.DataSince(start)
	out.Update(0, byte(len(args)))

	got := out.Result()
	if int(got[0]) != len(got)-1 {
		t.Fatalf("length byte %d, frame %v", got[0], got)
	}
	rest := append([]byte(nil), got[1:]...)
	v, err := DecodeVLQUint64(&rest)
	if err != nil || v != 1<<32|7 {
		t.Errorf("decoded %#x, %v", v, err)
	}

	out.Update(len(got), 0xff)
	if out.CurPosition() != len(got) {
		t.Error("Update past the end grew the buffer")
	}
	if out.DataSince(-1) != nil || out.DataSince(len(got)+1) != nil {
		t.Error("DataSince out of range should be nil")
	}

	out.Reset()
	if out.CurPosition() != 0 || len(out.Result()) != 0 {
		t.Errorf("Reset left %d bytes", out.CurPosition())
	}
}

func TestScratchOutputOverflow(t *testing.T) {
	out := NewScratchOutput()
	out.Output(make([]byte, MessageMax-1))
	out.Output([]byte{1, 2, 3})
	if out.CurPosition() != MessageMax {
		t.Errorf("position = %d, want %d", out.CurPosition(), MessageMax)
	}
	if out.DataSince(MessageMax+1) != nil {
		t.Error("DataSince past the end should be nil")
	}
}

func TestFifoBufferCapacity(t *testing.T) {
	fifo := NewFifoBuffer(8)
	if !fifo.IsEmpty() || fifo.Free() != 7 {
		t.Fatalf("new fifo: empty=%t free=%d", fifo.IsEmpty(), fifo.Free())
	}

	if n := fifo.Write(bytes.Repeat([]byte{0x7e}, 10)); n != 7 {
		t.Errorf("Write accepted %d bytes, want 7", n)
	}
	if fifo.Free() != 0 || fifo.Write([]byte{1}) != 0 {
		t.Error("full fifo accepted more data")
	}

	got := make([]byte, 3)
	if n := fifo.Read(got); n != 3 || fifo.Available() != 4 {
		t.Errorf("Read = %d, %d left", n, fifo.Available())
	}

	fifo.Reset()
	if !fifo.IsEmpty() || fifo.Available() != 0 {
		t.Error("Reset left data behind")
	}
}

// Bytes arrive one at a time from the serial reader while the main loop
// consumes whole frames, so the readable region regularly wraps.
func TestFifoBufferWrap(t *testing.T) {
	fifo := NewFifoBuffer(6)
	fifo.Write([]byte{1, 2, 3, 4})
	fifo.Pop(3)
	if n := fifo.Write([]byte{5, 6, 7}); n != 3 {
		t.Fatalf("Write across the end = %d", n)
	}

	if got, want := fifo.Data(), []byte{4, 5, 6, 7}; !bytes.Equal(got, want) {
		t.Fatalf("Data() = %v, want %v", got, want)
	}
	if fifo.Free() != 1 {
		t.Errorf("Free() = %d, want 1", fifo.Free())
	}

	got := make([]byte, 8)
	if n := fifo.Read(got); n != 4 || !bytes.Equal(got[:n], []byte{4, 5, 6, 7}) {
		t.Errorf("Read = %v", got[:n])
	}

	fifo.Write([]byte{8})
	fifo.Pop(10)
	if !fifo.IsEmpty() {
		t.Errorf("Pop past the end left %d bytes", fifo.Available())
	}
}
