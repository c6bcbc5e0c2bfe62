//go:build tinygo

package core

import "device/arm"

// spinCycles blocks for roughly the given number of cycles. Each
// iteration is counted as two cycles; the calibration tiers correct for
// what the loop really costs at each clock band.
func spinCycles(cycles uint32) {
	for n := (cycles + 1) / 2; n != 0; n-- {
		arm.Asm("nop")
	}
}
