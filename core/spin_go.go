//go:build !tinygo

package core

import "sync/atomic"

var spinSink uint32

// spinCycles burns one loop iteration per two requested cycles. There is
// no calibration on regular Go; the atomic keeps the loop from being
// optimised away.
func spinCycles(cycles uint32) {
	for n := (cycles + 1) / 2; n != 0; n-- {
		atomic.AddUint32(&spinSink, 1)
	}
}
