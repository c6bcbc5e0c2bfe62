package core

// delayTier maps a CPU clock band to the divisor applied to the clock
// scale when turning microseconds into busy-loop cycles. The divisors
// absorb the fixed per-iteration overhead of the spin loop measured at
// each band; outside the three bands the delay is not calibrated.
type delayTier struct {
	maxMHz  uint32
	divisor uint32
}

// Accurate to within a few percent on STM32F1 at 8, 24, 36, 48 and
// 72 MHz. Ordered by maxMHz, the last entry catches everything above.
var delayTiers = [...]delayTier{
	{maxMHz: 24, divisor: 1},
	{maxMHz: 48, divisor: 2},
	{maxMHz: ^uint32(0), divisor: 3},
}

// delayDivisor returns the tier divisor for a clock scale in MHz
func delayDivisor(mhz uint32) uint32 {
	for _, tier := range delayTiers {
		if mhz <= tier.maxMHz {
			return tier.divisor
		}
	}
	return delayTiers[len(delayTiers)-1].divisor
}

// delayCycles returns the spin count for a microsecond delay. Counts
// past the uint32 range saturate instead of wrapping to a short delay.
func delayCycles(mhz uint32, us Microseconds) uint32 {
	cycles := uint64(mhz/delayDivisor(mhz)) * uint64(us)
	if cycles > maxDelayCycles {
		return maxDelayCycles
	}
	return uint32(cycles)
}

const maxDelayCycles = 0xFFFFFFFF
