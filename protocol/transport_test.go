package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

// frame builds a host-to-firmware frame carrying payload.
func frame(seq uint8, payload ...byte) []byte {
	msg := append([]byte{byte(len(payload) + MessageLengthMin), seq}, payload...)
	crc := CRC16(msg)
	return append(msg, byte(crc>>8), byte(crc), MessageValueSync)
}

type call struct {
	id   uint16
	args []uint32
}

// recorder decodes a fixed number of uint arguments per command.
func recorder(nargs int, calls *[]call) CommandHandler {
	return func(cmdID uint16, data *[]byte) error {
		c := call{id: cmdID}
		for i := 0; i < nargs; i++ {
			v, err := DecodeVLQUint(data)
			if err != nil {
				return err
			}
			c.args = append(c.args, v)
		}
		*calls = append(*calls, c)
		return nil
	}
}

func TestTransportReceive(t *testing.T) {
	out := NewScratchOutput()
	var calls []call
	tr := NewTransport(out, recorder(1, &calls))

	in := NewSliceInputBuffer(frame(MessageDest, 7, 42))
	tr.Receive(in)

	if len(calls) != 1 || calls[0].id != 7 || calls[0].args[0] != 42 {
		t.Fatalf("calls = %+v", calls)
	}
	if in.Available() != 0 {
		t.Errorf("%d bytes left unconsumed", in.Available())
	}
	ack := []byte{5, 0x11, 0, 0, MessageValueSync}
	crc := CRC16(ack[:2])
	ack[2], ack[3] = byte(crc>>8), byte(crc)
	if string(out.Result()) != string(ack) {
		t.Errorf("ack = %x, want %x", out.Result(), ack)
	}
}

func TestTransportPartialFrame(t *testing.T) {
	var calls []call
	tr := NewTransport(NewScratchOutput(), recorder(0, &calls))

	f := frame(MessageDest, 3)
	in := NewSliceInputBuffer(f[:4])
	tr.Receive(in)
	if len(calls) != 0 || in.Available() != 4 {
		t.Fatalf("partial frame consumed: calls=%d left=%d", len(calls), in.Available())
	}

	tr.Receive(NewSliceInputBuffer(f))
	if len(calls) != 1 {
		t.Fatalf("complete frame not dispatched")
	}
}

func TestTransportSequence(t *testing.T) {
	var calls []call
	out := NewScratchOutput()
	tr := NewTransport(out, recorder(0, &calls))

	tr.Receive(NewSliceInputBuffer(frame(0x10, 1)))
	// A repeat of the same sequence is acknowledged but not run again.
	tr.Receive(NewSliceInputBuffer(frame(0x11, 2)))
	tr.Receive(NewSliceInputBuffer(frame(0x11, 3)))

	if len(calls) != 2 || calls[1].id != 2 {
		t.Fatalf("calls = %+v", calls)
	}

	acks := out.Result()
	if len(acks) != 15 || acks[1] != 0x11 || acks[6] != 0x12 || acks[11] != 0x12 {
		t.Errorf("acks = %x", acks)
	}
}

func TestTransportResync(t *testing.T) {
	var calls []call
	tr := NewTransport(NewScratchOutput(), recorder(0, &calls))

	bad := frame(MessageDest, 9)
	bad[3] ^= 0xFF // corrupt the CRC
	data := append(bad, frame(MessageDest, 4)...)
	tr.Receive(NewSliceInputBuffer(data))

	if len(calls) != 1 || calls[0].id != 4 {
		t.Fatalf("calls after resync = %+v", calls)
	}
}

func TestTransportEncodeFrame(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)

	tr.SendCommand(5, func(o OutputBuffer) {
		EncodeVLQUint64(o, 1<<40)
	})

	msgLen, check := checkFrame(out.Result())
	if check != frameOK || msgLen != len(out.Result()) {
		t.Fatalf("encoded frame invalid: %x", out.Result())
	}
	payload := out.Result()[MessageHeaderSize : msgLen-MessageTrailerSize]
	id, _ := DecodeVLQUint(&payload)
	v, err := DecodeVLQUint64(&payload)
	if id != 5 || err != nil || v != 1<<40 {
		t.Errorf("decoded id=%d v=%d err=%v", id, v, err)
	}
}

// serveFirmware runs a firmware Transport on conn until it closes.
func serveFirmware(conn net.Conn, handler CommandHandler) {
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		err := handler(cmdID, data)
		// Echo the command back as a response with the same ID.
		tr.SendCommand(cmdID, func(o OutputBuffer) { EncodeVLQUint(o, 99) })
		return err
	})
	tr.SetFlushCallback(func() {
		conn.Write(out.Result())
		out.Reset()
	})

	input := NewFifoBuffer(256)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		input.Write(buf[:n])
		in := NewSliceInputBuffer(input.Data())
		tr.Receive(in)
		input.Pop(input.Available() - in.Available())
	}
}

func TestHostTransportRoundTrip(t *testing.T) {
	host, fw := net.Pipe()
	var calls []call
	go serveFirmware(fw, recorder(1, &calls))

	ht := NewHostTransport(host)
	defer ht.Close()

	got := make(chan uint32, 4)
	ht.SetResponseHandler(func(cmdID uint16, data *[]byte) error {
		v, err := DecodeVLQUint(data)
		if err != nil {
			return err
		}
		got <- uint32(cmdID)<<16 | v
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := uint32(0); i < 20; i++ {
		if err := ht.SendCommand(ctx, 3, func(o OutputBuffer) { EncodeVLQUint(o, i) }); err != nil {
			t.Fatalf("command %d: %v", i, err)
		}
		select {
		case v := <-got:
			if v != 3<<16|99 {
				t.Fatalf("response %#x", v)
			}
		case <-ctx.Done():
			t.Fatal("no response")
		}
	}

	// 20 commands wrap the 4-bit sequence once.
	if seq := ht.GetCurrentSequence(); seq != MessageDest|20&MessageSeqMask {
		t.Errorf("sequence = %#x", seq)
	}
}

func TestHostTransportClosed(t *testing.T) {
	host, fw := net.Pipe()
	ht := NewHostTransport(host)
	fw.Close()

	select {
	case <-ht.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop")
	}
	err := ht.SendCommand(context.Background(), 1, nil)
	if err == nil {
		t.Fatal("SendCommand on closed link succeeded")
	}
	if !errors.Is(err, ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("error = %v", err)
	}
	ht.Close()
}

func TestHostTransportAckTimeout(t *testing.T) {
	host, fw := net.Pipe()
	defer fw.Close()
	go io.Copy(io.Discard, fw)

	ht := NewHostTransport(host)
	defer ht.Close()
	ht.SetAckTimeout(10 * time.Millisecond)

	err := ht.SendCommand(context.Background(), 1, nil)
	if !errors.Is(err, ErrAckTimeout) {
		t.Errorf("error = %v, want ErrAckTimeout", err)
	}
}
