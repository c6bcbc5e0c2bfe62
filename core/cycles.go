package core

// CyclesNow returns the free-running CPU cycle counter. It wraps every
// 2^32 cycles (about 59 s at 72 MHz).
func CyclesNow() uint32 {
	return MustCycleCounter().Cycles()
}

// CyclesReset zeroes the cycle counter so a later CyclesNow reads the
// cycles elapsed since the reset.
func CyclesReset() {
	MustCycleCounter().SetCycles(0)
}

// CyclesSince returns the cycles elapsed since start, across one wrap.
func CyclesSince(start uint32) uint32 {
	return CyclesNow() - start
}

// CyclesToMicros converts a cycle count to microseconds using the clock
// scale stored by Init.
func CyclesToMicros(cycles uint32) Microseconds {
	return Microseconds(cycles / clockScale)
}

// cyclesEnable turns on trace and then the counter itself
func cyclesEnable() {
	cc := MustCycleCounter()
	cc.EnableTrace()
	cc.EnableCounter()
}
