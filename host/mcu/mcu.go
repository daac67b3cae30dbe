// Package mcu is the host-side client for counter firmware. It retrieves
// the data dictionary, encodes commands by name and routes responses back
// to the caller that asked for them.
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hpmon/hpm"
	"hpmon/host/serial"
	"hpmon/protocol"
)

const (
	identifyChunk   = 40
	maxDictionary   = 1 << 20
	defaultTimeout  = time.Second
	defaultSamples  = 256
	noCounter       = -1
	sampleResponse  = "hpm_sample"
	identifyCommand = "identify"
)

var (
	// ErrUnknownCommand is returned for commands the dictionary lacks.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotConnected is returned before Connect succeeds.
	ErrNotConnected = errors.New("not connected to MCU")
)

// bootstrap knows the two messages whose IDs are fixed before the
// dictionary is loaded.
var bootstrap = func() *Dictionary {
	d := &Dictionary{
		Commands:  map[string]int{"identify offset=%u count=%c": 1},
		Responses: map[string]int{"identify_response offset=%u data=%*s": 0},
	}
	if err := d.index(); err != nil {
		panic(err)
	}
	return d
}()

// Response is a decoded message from the firmware.
type Response struct {
	Name   string
	Params map[string]uint32
	// Data holds the byte-string parameter, if the message has one.
	Data []byte
}

// Uint64 joins a value sent as a high/low pair.
func (r *Response) Uint64(high, low string) uint64 {
	return uint64(r.Params[high])<<32 | uint64(r.Params[low])
}

func (r *Response) String() string {
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(r.Name)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%d", k, r.Params[k])
	}
	if r.Data != nil {
		fmt.Fprintf(&b, " data=<%d bytes>", len(r.Data))
	}
	return b.String()
}

// Sample is one periodic reading produced by a query.
type Sample struct {
	Counter hpm.Counter
	Clock   uint32
	Value   uint64
}

// waiter is the single outstanding request's claim on a response.
type waiter struct {
	name    string
	counter int
	ch      chan *Response
}

func (w *waiter) matches(r *Response) bool {
	if r.Name != w.name {
		return false
	}
	if w.counter == noCounter {
		return true
	}
	c, ok := r.Params["counter"]
	return ok && int(c) == w.counter
}

// Option configures an MCU.
type Option func(*MCU)

// WithTrace logs every message exchanged with the firmware.
func WithTrace(l *log.Logger) Option {
	return func(m *MCU) { m.trace = l }
}

// WithResponseTimeout bounds the wait for a response after the firmware
// acknowledged the command.
func WithResponseTimeout(d time.Duration) Option {
	return func(m *MCU) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithSampleBuffer sets how many samples are buffered before new ones are
// dropped.
func WithSampleBuffer(n int) Option {
	return func(m *MCU) {
		if n > 0 {
			m.samples = make(chan Sample, n)
		}
	}
}

// MCU is a connection to counter firmware.
type MCU struct {
	transport *protocol.HostTransport

	dict    atomic.Pointer[Dictionary]
	rawDict []byte

	timeout time.Duration
	trace   *log.Logger

	callMu  sync.Mutex
	mu      sync.Mutex
	waiting *waiter

	samples chan Sample
	dropped atomic.Uint64
}

// NewMCU returns an unconnected client.
func NewMCU(opts ...Option) *MCU {
	m := &MCU{
		timeout: defaultTimeout,
		samples: make(chan Sample, defaultSamples),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.dict.Store(bootstrap)
	return m
}

// Connect opens device with the default serial settings.
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial port and starts the transport on it.
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("open serial port: %w", err)
	}
	return m.ConnectPort(port)
}

// ConnectPort starts the transport on an already open link. The MCU owns
// port from here on and closes it in Close.
func (m *MCU) ConnectPort(port io.ReadWriteCloser) error {
	if m.transport != nil {
		return errors.New("already connected")
	}
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	return nil
}

// Close stops the transport and closes the port.
func (m *MCU) Close() error {
	if m.transport == nil {
		return nil
	}
	return m.transport.Close()
}

// IsConnected reports whether the transport is running.
func (m *MCU) IsConnected() bool {
	return m.transport != nil && m.transport.Err() == nil
}

// RetrieveDictionary downloads, inflates and indexes the data dictionary.
func (m *MCU) RetrieveDictionary(ctx context.Context) error {
	var buf bytes.Buffer
	for offset := uint32(0); ; {
		r, err := m.call(ctx, identifyCommand, "identify_response", noCounter, offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("dictionary chunk at %d: %w", offset, err)
		}
		if got := r.Params["offset"]; got != offset {
			return fmt.Errorf("dictionary chunk at %d: firmware answered offset %d", offset, got)
		}
		buf.Write(r.Data)
		offset += uint32(len(r.Data))

		if len(r.Data) < identifyChunk {
			break
		}
		if buf.Len() > maxDictionary {
			return fmt.Errorf("dictionary exceeds %d bytes", maxDictionary)
		}
	}

	dict, err := decodeDictionary(buf.Bytes())
	if err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.rawDict = buf.Bytes()
	m.dict.Store(dict)
	m.tracef("dictionary: %d bytes, %d commands, %d responses",
		len(m.rawDict), len(dict.Commands), len(dict.Responses))
	return nil
}

// GetDictionary returns the parsed dictionary, or nil before
// RetrieveDictionary.
func (m *MCU) GetDictionary() *Dictionary {
	if d := m.dict.Load(); d != bootstrap {
		return d
	}
	return nil
}

// GetDictionaryRaw returns the dictionary exactly as downloaded.
func (m *MCU) GetDictionaryRaw() []byte {
	return m.rawDict
}

// Samples delivers readings from running queries.
func (m *MCU) Samples() <-chan Sample {
	return m.samples
}

// DroppedSamples counts samples discarded because nobody drained Samples.
func (m *MCU) DroppedSamples() uint64 {
	return m.dropped.Load()
}

// Send encodes and sends a command by name without waiting for a
// response.
func (m *MCU) Send(ctx context.Context, name string, args ...uint32) error {
	_, err := m.call(ctx, name, "", noCounter, args...)
	return err
}

// Call sends a command and waits for the named response.
func (m *MCU) Call(ctx context.Context, name, response string, args ...uint32) (*Response, error) {
	return m.call(ctx, name, response, noCounter, args...)
}

// call runs one request. Requests are serialised; the waiter is armed
// before sending since the response can arrive ahead of the ack.
func (m *MCU) call(ctx context.Context, name, response string, counter int, args ...uint32) (*Response, error) {
	if m.transport == nil {
		return nil, ErrNotConnected
	}

	m.callMu.Lock()
	defer m.callMu.Unlock()

	mf, ok := m.dict.Load().commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	enc, err := mf.encode(args)
	if err != nil {
		return nil, err
	}

	var w *waiter
	if response != "" {
		w = &waiter{name: response, counter: counter, ch: make(chan *Response, 1)}
		m.mu.Lock()
		m.waiting = w
		m.mu.Unlock()
		defer func() {
			m.mu.Lock()
			if m.waiting == w {
				m.waiting = nil
			}
			m.mu.Unlock()
		}()
	}

	m.tracef("-> %s %v", name, args)
	if err := m.transport.SendCommand(ctx, mf.id, enc); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if w == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	select {
	case r := <-w.ch:
		return r, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: waiting for %s: %w", name, response, ctx.Err())
	case <-m.transport.Done():
		return nil, fmt.Errorf("%s: %w", name, m.transport.Err())
	}
}

// handleResponse runs on the transport's read goroutine.
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	mf, ok := m.dict.Load().responses[cmdID]
	if !ok {
		m.tracef("<- unknown message id %d, dropping frame remainder", cmdID)
		return fmt.Errorf("unknown message id %d", cmdID)
	}
	r, err := mf.decode(data)
	if err != nil {
		m.tracef("<- %s: %v", mf.name, err)
		return err
	}
	m.tracef("<- %s", r)
	m.deliver(r)
	return nil
}

func (m *MCU) deliver(r *Response) {
	m.mu.Lock()
	w := m.waiting
	if w != nil && w.matches(r) {
		m.waiting = nil
		m.mu.Unlock()
		w.ch <- r
		return
	}
	m.mu.Unlock()

	if r.Name != sampleResponse {
		m.tracef("unsolicited %s", r.Name)
		return
	}
	s := Sample{
		Counter: hpm.Counter(r.Params["counter"]),
		Clock:   r.Params["clock"],
		Value:   r.Uint64("high", "low"),
	}
	select {
	case m.samples <- s:
	default:
		m.dropped.Add(1)
	}
}

func (m *MCU) tracef(format string, args ...any) {
	if m.trace != nil {
		m.trace.Printf(format, args...)
	}
}

// encode checks args against the command's parameters and returns the
// argument writer for the transport.
func (mf *messageFormat) encode(args []uint32) (func(protocol.OutputBuffer), error) {
	if len(args) != len(mf.fields) {
		return nil, fmt.Errorf("%s: got %d arguments, want %d", mf.name, len(args), len(mf.fields))
	}
	for _, f := range mf.fields {
		if f.kind == fieldBytes {
			return nil, fmt.Errorf("%s: byte-string parameter %s not supported", mf.name, f.name)
		}
	}
	return func(out protocol.OutputBuffer) {
		for i, f := range mf.fields {
			if f.kind == fieldInt {
				protocol.EncodeVLQInt(out, int32(args[i]))
			} else {
				protocol.EncodeVLQUint(out, args[i])
			}
		}
	}, nil
}

// decode consumes the message's parameters from data.
func (mf *messageFormat) decode(data *[]byte) (*Response, error) {
	r := &Response{Name: mf.name, Params: make(map[string]uint32, len(mf.fields))}
	for _, f := range mf.fields {
		switch f.kind {
		case fieldBytes:
			b, err := protocol.DecodeVLQBytes(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.name, f.name, err)
			}
			r.Data = b
		case fieldInt:
			v, err := protocol.DecodeVLQInt(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.name, f.name, err)
			}
			r.Params[f.name] = uint32(v)
		default:
			v, err := protocol.DecodeVLQUint(data)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", mf.name, f.name, err)
			}
			r.Params[f.name] = v
		}
	}
	return r, nil
}
