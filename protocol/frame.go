package protocol

type frameStatus int

const (
	frameOK frameStatus = iota
	frameIncomplete
	frameBad
)

// scanFrame checks whether data starts with a complete valid message and
// returns its length. frameBad means the caller has lost sync and must
// skip to the next sync byte.
func scanFrame(data []byte) (int, frameStatus) {
	if len(data) < MessageLengthMin {
		return 0, frameIncomplete
	}
	msgLen := int(data[MessagePositionLen])
	if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
		return 0, frameBad
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, frameBad
	}
	if len(data) < msgLen {
		return 0, frameIncomplete
	}
	if data[msgLen-MessageTrailerSync] != MessageValueSync {
		return 0, frameBad
	}
	want := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
	if CRC16(data[:msgLen-MessageTrailerSize]) != want {
		return 0, frameBad
	}
	return msgLen, frameOK
}

// skipToSync drops everything up to and including the next sync byte.
// found is false when data held no sync byte at all.
func skipToSync(data []byte) (rest []byte, found bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// framePayload returns the bytes between header and trailer of a
// message already checked by scanFrame
func framePayload(msg []byte) []byte {
	return msg[MessageHeaderSize : len(msg)-MessageTrailerSize]
}

// writeFrame writes one complete message to output: header, whatever
// body writes, then CRC and sync. It returns the frame length.
func writeFrame(output OutputBuffer, seq uint8, body func(output OutputBuffer)) int {
	start := output.CurPosition()
	output.Output([]byte{0, seq})
	if body != nil {
		body(output)
	}
	msgLen := len(output.DataSince(start)) + MessageTrailerSize
	output.Update(start+MessagePositionLen, uint8(msgLen))

	crc := CRC16(output.DataSince(start))
	output.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
	return msgLen
}
