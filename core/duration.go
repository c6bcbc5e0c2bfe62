package core

// Hertz is a raw frequency in Hz
type Hertz uint32

// Hz tags v as a frequency in Hz
func Hz(v uint32) Hertz {
	return Hertz(v)
}

// KHz returns v kilohertz as Hertz
func KHz(v uint32) Hertz {
	return Hertz(v * 1000)
}

// MHz returns v megahertz as Hertz
func MHz(v uint32) Hertz {
	return Hertz(v * 1000000)
}

// Hz returns f unchanged, as a plain integer
func (f Hertz) Hz() uint32 {
	return uint32(f)
}

// KHz scales f by 1000
func (f Hertz) KHz() uint32 {
	return uint32(f) * 1000
}

// MHz scales f by 1000000
func (f Hertz) MHz() uint32 {
	return f.KHz() * 1000
}

// Delayer is a duration that knows how to wait for itself
type Delayer interface {
	Delay()
}

// Delay blocks for d using d's own wait algorithm. There is no way to
// cancel a delay once started.
func Delay(d Delayer) {
	d.Delay()
}

// Milliseconds is a duration measured against the SysTick counter
type Milliseconds uint32

// Ms tags n as milliseconds
func Ms(n uint32) Milliseconds {
	return Milliseconds(n)
}

// Delay spins on Now until d ticks have elapsed. Interrupts must stay
// enabled or the counter never advances. It never returns early and can
// return up to one tick late. The unsigned subtraction wraps, so a delay
// that crosses the counter wrap is still measured correctly.
func (d Milliseconds) Delay() {
	start := Now()
	for Now()-start < d {
	}
}

// Micros converts d to microseconds (wraps above ~71.6 minutes)
func (d Milliseconds) Micros() Microseconds {
	return Microseconds(uint32(d) * MicrosPerTick)
}

func (d Milliseconds) String() string {
	return utoa(uint32(d)) + "ms"
}

// Microseconds is a duration executed as a calibrated busy loop
type Microseconds uint32

// Us tags n as microseconds
func Us(n uint32) Microseconds {
	return Microseconds(n)
}

// spin is swapped out by tests to observe the requested cycle count
var spin = spinCycles

// Delay runs a busy loop sized from the clock scale and the calibration
// tier for the current clock. It is approximate: accurate only in the
// bands delayTiers was tuned for, and interrupts taken during the loop
// add to it. Calling it before Init returns immediately. The spin count
// is capped at 2^32-1, so delays above about 178 s at 72 MHz
// (536 s at 8 MHz) are cut short at that cap.
func (d Microseconds) Delay() {
	spin(delayCycles(clockScale, d))
}

func (d Microseconds) String() string {
	return utoa(uint32(d)) + "us"
}
