// Package tinycompress writes zlib streams without compress/flate,
// which is too large for small flash parts. Data is carried in DEFLATE
// stored blocks: the output is a valid zlib stream any inflater accepts,
// a few bytes longer than the input.
package tinycompress

import (
	"hash/adler32"
)

const (
	zlibHeaderCMF = 0x78 // deflate, 32K window
	zlibHeaderFLG = 0x01 // no dictionary, fastest level; (CMF<<8|FLG)%31 == 0

	// MaxStoredBlock is the largest payload of one stored block
	MaxStoredBlock = 0xFFFF

	storedHeaderSize = 5 // BFINAL/BTYPE byte, LEN, NLEN
	adlerSize        = 4
)

// StoredSize returns the length of the zlib stream Store produces for n
// input bytes
func StoredSize(n int) int {
	blocks := (n + MaxStoredBlock - 1) / MaxStoredBlock
	if blocks == 0 {
		blocks = 1 // empty input still needs a final block
	}
	return 2 + blocks*storedHeaderSize + n + adlerSize
}

// Store wraps input in a zlib stream of stored blocks
func Store(input []byte) []byte {
	return AppendStore(make([]byte, 0, StoredSize(len(input))), input)
}

// AppendStore appends the zlib stream for input to dst
func AppendStore(dst, input []byte) []byte {
	dst = append(dst, zlibHeaderCMF, zlibHeaderFLG)

	rest := input
	for {
		n := len(rest)
		final := n <= MaxStoredBlock
		if !final {
			n = MaxStoredBlock
		}

		var header byte // BTYPE=00 stored
		if final {
			header = 0x01
		}
		length := uint16(n)
		dst = append(dst, header,
			byte(length), byte(length>>8),
			byte(^length), byte(^length>>8))
		dst = append(dst, rest[:n]...)
		rest = rest[n:]

		if final {
			break
		}
	}

	checksum := adler32.Checksum(input)
	return append(dst,
		byte(checksum>>24), byte(checksum>>16), byte(checksum>>8), byte(checksum))
}
