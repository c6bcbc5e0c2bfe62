package protocol

import "sync/atomic"

// CommandHandler handles one decoded command; it must consume its
// arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU end of the link: it validates incoming frames,
// dispatches their commands and acknowledges them.
type Transport struct {
	synchronized  atomic.Bool
	nextSequence  atomic.Uint32 // expected host sequence, 0x10-0x1F
	output        OutputBuffer
	handler       CommandHandler
	resetCallback func()
	flushCallback func()
}

// NewTransport creates a synchronized Transport writing to output
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		output:  output,
		handler: handler,
	}
	t.synchronized.Store(true)
	t.nextSequence.Store(MessageDest)
	return t
}

// Receive parses every complete message in input, dispatches in-sequence
// ones and pops what it consumed. A partial message stays in input.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synchronized.Load() {
			var found bool
			data, found = skipToSync(data)
			if found {
				t.synchronized.Store(true)
				t.encodeAckNak()
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

		seq := data[MessagePositionSeq]
		frame := framePayload(data[:msgLen])
		data = data[msgLen:]

		expected := uint8(t.nextSequence.Load())
		if seq == MessageDest && expected != MessageDest {
			// Host restarted its sequence
			expected = MessageDest
			t.nextSequence.Store(MessageDest)
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}
		if seq == expected {
			t.nextSequence.Store(uint32(nextSeq(seq)))
			_ = t.parseFrame(frame)
		}
		// Out-of-sequence frames are answered too: the ack carries the
		// sequence we expect, which the host treats as a nak.
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame runs every command in a frame. A panicking handler
// desynchronizes the link instead of crashing the firmware.
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.synchronized.Store(false)
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.synchronized.Store(false)
			return err
		}
		if t.handler == nil {
			continue
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			// Remaining arguments can't be trusted; drop the rest of the frame
			return err
		}
	}
	return nil
}

// encodeAckNak writes an empty frame carrying the next expected
// sequence and flushes the output. Responses written by the handler are
// already in the buffer, so they reach the wire ahead of the ack.
func (t *Transport) encodeAckNak() {
	writeFrame(t.output, uint8(t.nextSequence.Load()), nil)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData.
// Responses reuse the current sequence.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	writeFrame(t.output, uint8(t.nextSequence.Load()), frameData)
}

// SendCommand writes a frame holding one message and its arguments
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state (after a USB reconnect, say)
func (t *Transport) Reset() {
	t.synchronized.Store(true)
	t.nextSequence.Store(MessageDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets the function called when the host restarts its
// sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets the function that pushes pending output to the
// wire immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// Synchronized reports whether the receiver is in sync with the host
func (t *Transport) Synchronized() bool {
	return t.synchronized.Load()
}
