package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

var (
	// ErrClosed is returned once the transport or its port has closed.
	ErrClosed = errors.New("transport closed")
	// ErrAckTimeout is returned when no acknowledgement arrives after
	// every retransmission.
	ErrAckTimeout = errors.New("ack timeout")

	errRetransmit = errors.New("retransmit")
)

// ResponseHandler receives each non-empty frame from the firmware. data
// holds the arguments following the message ID and is owned by the
// handler. It runs on the read goroutine and must not block.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one frame received from the firmware.
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte
	CRC      uint16
}

// HostTransport is the host end of the link. Commands are sent one at a
// time, each waiting for the firmware's acknowledgement before the next.
type HostTransport struct {
	port io.ReadWriteCloser

	sendMu  sync.Mutex
	seq     uint8
	out     [MessageLengthMax]byte
	timeout time.Duration
	retries int

	handlerMu sync.RWMutex
	handler   ResponseHandler

	acks      chan uint8
	done      chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewHostTransport starts reading from port.
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:    port,
		seq:     MessageDest,
		timeout: 500 * time.Millisecond,
		retries: 3,
		acks:    make(chan uint8, 8),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SetAckTimeout sets how long to wait for an acknowledgement before
// retransmitting.
func (t *HostTransport) SetAckTimeout(d time.Duration) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.timeout = d
}

// SetResponseHandler sets the callback for frames from the firmware.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.handler = handler
}

// SendCommand frames a command, writes it and waits until the firmware
// acknowledges it. Unacknowledged frames are retransmitted.
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	msg, err := t.buildCommandMessage(cmdID, args)
	if err != nil {
		return fmt.Errorf("build command %d: %w", cmdID, err)
	}

	// Acks left over from earlier exchanges say nothing about this one.
	for len(t.acks) > 0 {
		<-t.acks
	}

	want := (t.seq+1)&MessageSeqMask | MessageDest
	for attempt := 0; ; attempt++ {
		if err := t.writeMessage(msg); err != nil {
			return fmt.Errorf("write command %d: %w", cmdID, err)
		}
		err := t.waitForAck(ctx, want)
		if err == nil {
			t.seq = want
			return nil
		}
		if !errors.Is(err, errRetransmit) {
			return err
		}
		if attempt >= t.retries {
			return fmt.Errorf("command %d seq %#02x: %w", cmdID, t.seq, ErrAckTimeout)
		}
	}
}

// buildCommandMessage frames a command with the current sequence. Caller
// holds sendMu.
func (t *HostTransport) buildCommandMessage(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	scratch.Output([]byte{0, t.seq})
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}

	msgLen := scratch.CurPosition() + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("message too long: %d bytes (max %d)", msgLen, MessageLengthMax)
	}
	scratch.Update(MessagePositionLen, uint8(msgLen))

	crc := CRC16(scratch.Result())
	scratch.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})

	n := copy(t.out[:], scratch.Result())
	return t.out[:n], nil
}

func (t *HostTransport) writeMessage(msg []byte) error {
	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck waits for an acknowledgement of want. An ack still carrying
// the sequence just sent is a NAK and asks for a retransmission; any other
// sequence is stale and ignored.
func (t *HostTransport) waitForAck(ctx context.Context, want uint8) error {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	for {
		select {
		case seq := <-t.acks:
			if seq == want {
				return nil
			}
			if seq == t.seq {
				return errRetransmit
			}
		case <-timer.C:
			return errRetransmit
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return t.closedErr()
		}
	}
}

func (t *HostTransport) closedErr() error {
	if t.readErr != nil {
		return fmt.Errorf("%w: %v", ErrClosed, t.readErr)
	}
	return ErrClosed
}

// Done is closed when the read loop stops.
func (t *HostTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error that stopped the read loop, if any.
func (t *HostTransport) Err() error {
	select {
	case <-t.done:
		return t.closedErr()
	default:
		return nil
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	input := NewFifoBuffer(1024)
	buf := make([]byte, 256)
	synchronized := true

	for {
		n, err := t.port.Read(buf)
		for chunk := buf[:n]; len(chunk) > 0; {
			w := input.Write(chunk)
			chunk = chunk[w:]
			synchronized = t.processMessages(input, synchronized)
			if w == 0 && len(chunk) > 0 {
				// Nothing parseable fills the buffer; start over.
				input.Reset()
				synchronized = false
			}
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				t.readErr = err
			}
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// processMessages parses every complete frame in input and returns the
// new synchronisation state.
func (t *HostTransport) processMessages(input *FifoBuffer, synchronized bool) bool {
	data := input.Data()

	for len(data) > 0 {
		if !synchronized {
			i := 0
			for i < len(data) && data[i] != MessageValueSync {
				i++
			}
			if i == len(data) {
				data = nil
				break
			}
			data = data[i+1:]
			synchronized = true
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, check := checkFrame(data)
		if check == frameIncomplete {
			break
		}
		if check == frameInvalid {
			synchronized = false
			continue
		}

		msg := &Message{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  append([]byte(nil), data[MessageHeaderSize:msgLen-MessageTrailerSize]...),
			CRC:      uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1]),
		}
		data = data[msgLen:]
		t.dispatchMessage(msg)
	}

	input.Pop(input.Available() - len(data))
	return synchronized
}

func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.acks <- msg.Sequence:
		default:
			// Nobody is waiting; the oldest ack is the least useful.
			select {
			case <-t.acks:
			default:
			}
			t.acks <- msg.Sequence
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler == nil {
		return
	}

	payload := msg.Payload
	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			return
		}
		// Handlers consume their own arguments; several messages may share
		// one frame.
		if err := handler(uint16(cmdID), &payload); err != nil {
			return
		}
	}
}

// Close closes the port and waits for the read loop to exit.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.port.Close()
		<-t.done
	})
	return err
}

// GetCurrentSequence returns the sequence the next command will use.
func (t *HostTransport) GetCurrentSequence() uint8 {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seq
}
