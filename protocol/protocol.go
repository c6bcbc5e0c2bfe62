// Package protocol implements the Klipper-style framed serial protocol
// used to read the MCU clock from a host.
//
// A message is: length, sequence, payload, CRC16 (big-endian), 0x7E.
// The payload is a sequence of VLQ-encoded command IDs and arguments.
package protocol

import "errors"

// Version of the wire protocol implementation
const Version = "0.1.0"

const (
	MessageMax         = 512 // Scratch output size, several frames per flush
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

var (
	ErrInvalidVLQ      = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall  = errors.New("buffer too small for VLQ")
	ErrMessageTooLong  = errors.New("message too long")
	ErrTransportClosed = errors.New("transport stopped")
)

// nextSeq advances a sequence byte, keeping the destination bits
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
