package core

// Tick rate of the SysTick interrupt
const (
	TickHz         = 1000
	MicrosPerTick  = 1000000 / TickHz
	ClockFreq      = 1000000 // Unit of the clock reported to the host (microseconds)
	sysTickMaxLoad = 0xFFFFFF
)

// clockScale is the CPU clock in MHz. Written once by Init, read-only after.
var clockScale uint32

// Init configures SysTick to underflow once per millisecond, enables the
// cycle counter and stores the clock scale. It must run exactly once,
// before the SysTick interrupt can fire and before any other call into
// this package's timing functions. clockHz is not validated: zero or a
// value above 16.7 GHz gives a clock that does not work.
func Init(clockHz uint32) {
	clockScale = clockHz / 1000000
	reload := clockHz/TickHz - 1

	st := MustSysTick()
	st.SetReload(reload)
	st.ClearCurrent()
	st.Start()

	cyclesEnable()

	RegisterConstant("CLOCK_FREQ", uint32(ClockFreq))
	RegisterConstant("SYSTICK_HZ", uint32(TickHz))
	RegisterConstant("CPU_MHZ", clockScale)

	if reload > sysTickMaxLoad {
		DebugPrintln("[systime] WARNING: reload " + utoa(reload) + " exceeds 24-bit SysTick range")
	}
	DebugPrintln("[systime] init cpu_mhz=" + utoa(clockScale) + " reload=" + utoa(reload))
	RecordTiming(EvtInit, 0, reload, clockScale)
}

// ClockScale returns the CPU clock in MHz as stored by Init
func ClockScale() uint32 {
	return clockScale
}

// SysTickHandler advances the millisecond counter by one tick. Targets
// bind it to the SysTick exception vector. It runs in interrupt context
// and must stay short: no locks, no allocation, no logging.
func SysTickHandler() {
	incrementTicks()
}

// Now returns milliseconds since Init. The value wraps after about 49.7
// days. Safe from any context, including interrupt handlers.
func Now() Milliseconds {
	return Milliseconds(loadTicks())
}

// NowMicros returns microseconds since Init with sub-millisecond
// resolution, from the tick counter and the SysTick current value.
// The result wraps after about 71.6 minutes.
//
// Interrupts are masked while the counter and the current value are
// sampled and the previous mask state is restored afterwards, so it may
// be called from a region that already has interrupts disabled.
//
// Calling it before Init divides by a zero clock scale and panics.
func NowMicros() Microseconds {
	st := MustSysTick()

	state := disableInterrupts()
	pending := st.Pending()
	current := st.Current()
	if !pending && st.Pending() {
		// Underflow landed between the two status reads: current may be
		// from either period, read it again from the new one.
		pending = true
		current = st.Current()
	}
	ms := loadTicks()
	restoreInterrupts(state)

	// The pending interrupt still increments the shared counter when it
	// runs. Only the local copy is adjusted.
	if pending {
		ms++
	}

	// current counts down from reload, so a smaller value means more of
	// the millisecond has passed.
	return Microseconds(ms*MicrosPerTick + (MicrosPerTick - 1) - current/clockScale)
}

// SetTime sets the tick counter (for testing/hardware integration)
func SetTime(ms Milliseconds) {
	storeTicks(uint32(ms))
}
