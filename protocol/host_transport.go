package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAckTimeout is how long SendCommand waits for the MCU ack
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler is called from the read loop for every response
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is one validated frame received from the MCU
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // without header and trailer; empty for an ack
	CRC      uint16
}

// HostTransport is the host end of the link: it frames commands, waits
// for acks and collects responses from a background read loop.
type HostTransport struct {
	port io.ReadWriteCloser

	currentSeq   atomic.Uint32 // 0x10-0x1F
	synchronized atomic.Bool

	inputBuffer *FifoBuffer
	writeMu     sync.Mutex
	readMu      sync.Mutex

	ackChan      chan *Message
	responseChan chan *Message

	handlerMu       sync.RWMutex
	responseHandler ResponseHandler

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHostTransport starts reading from port in the background
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		inputBuffer:  NewFifoBuffer(1024),
		ackChan:      make(chan *Message, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	t.currentSeq.Store(MessageDest)
	t.synchronized.Store(true)

	go t.readLoop()
	return t
}

// SendCommand sends a command and waits DefaultAckTimeout for its ack
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout sends a command and waits for its ack
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	msg, err := t.buildCommandMessage(cmdID, args)
	if err != nil {
		return fmt.Errorf("failed to build command: %w", err)
	}
	if err := t.writeMessage(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := t.waitForAck(timeout); err != nil {
		return fmt.Errorf("no ack for command %d: %w", cmdID, err)
	}
	return nil
}

func (t *HostTransport) buildCommandMessage(cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	out := NewScratchOutput()
	msgLen := writeFrame(out, uint8(t.currentSeq.Load()), func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
	if msgLen > MessageLengthMax {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLong, msgLen, MessageLengthMax)
	}
	return bytes.Clone(out.Result()), nil
}

func (t *HostTransport) writeMessage(msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.port.Write(msg)
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// waitForAck consumes one ack. The MCU acks with the sequence it expects
// next, so a matching ack is one past the sequence we sent.
func (t *HostTransport) waitForAck(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-t.ackChan:
		sent := uint8(t.currentSeq.Load())
		want := nextSeq(sent)
		if ack.Sequence != want {
			return fmt.Errorf("sequence mismatch: sent 0x%02x, MCU expects 0x%02x", sent, ack.Sequence)
		}
		t.currentSeq.Store(uint32(want))
		return nil
	case <-timer.C:
		return fmt.Errorf("ack timeout after %v", timeout)
	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse returns the next response message
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-t.responseChan:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// SetResponseHandler sets a callback run for every response as it arrives
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.responseHandler = handler
}

func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			t.readMu.Lock()
			t.inputBuffer.Write(buf[:n])
			t.processMessagesLocked()
			t.readMu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// processMessagesLocked splits buffered input into messages and
// dispatches them. Caller holds readMu.
func (t *HostTransport) processMessagesLocked() {
	data := t.inputBuffer.Data()
	for len(data) > 0 {
		if !t.synchronized.Load() {
			var found bool
			data, found = skipToSync(data)
			if found {
				t.synchronized.Store(true)
			}
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		msgLen, status := scanFrame(data)
		if status == frameIncomplete {
			break
		}
		if status == frameBad {
			t.synchronized.Store(false)
			continue
		}

		raw := data[:msgLen]
		data = data[msgLen:]
		t.dispatchMessage(&Message{
			Length:   raw[MessagePositionLen],
			Sequence: raw[MessagePositionSeq],
			Payload:  bytes.Clone(framePayload(raw)),
			CRC:      uint16(raw[msgLen-MessageTrailerCRC])<<8 | uint16(raw[msgLen-MessageTrailerCRC+1]),
		})
	}

	if consumed := t.inputBuffer.Available() - len(data); consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}
}

// dispatchMessage routes acks and responses to their channels. When
// the response channel is full the oldest response is dropped.
func (t *HostTransport) dispatchMessage(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg:
		default:
		}
		return
	}

	t.handlerMu.RLock()
	handler := t.responseHandler
	t.handlerMu.RUnlock()
	if handler != nil {
		payload := bytes.Clone(msg.Payload)
		if cmdID, err := DecodeVLQUint(&payload); err == nil {
			_ = handler(uint16(cmdID), &payload)
		}
	}

	for {
		select {
		case t.responseChan <- msg:
			return
		default:
		}
		select {
		case <-t.responseChan:
		default:
		}
	}
}

// Close stops the read loop and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		// Closing the port unblocks a Read in progress
		err = t.port.Close()
		<-t.doneChan
	})
	return err
}

// Reset drops buffered input, pending acks and responses and restarts
// the sequence
func (t *HostTransport) Reset() {
	t.synchronized.Store(true)
	t.currentSeq.Store(MessageDest)

	for len(t.ackChan) > 0 {
		<-t.ackChan
	}
	for len(t.responseChan) > 0 {
		<-t.responseChan
	}

	t.readMu.Lock()
	t.inputBuffer.Reset()
	t.readMu.Unlock()
}

// GetCurrentSequence returns the sequence the next command will carry
func (t *HostTransport) GetCurrentSequence() uint8 {
	return uint8(t.currentSeq.Load())
}
