package core

// SysTickDriver is the count-down timer peripheral that drives the
// millisecond tick. Platform code implements it over the real registers.
type SysTickDriver interface {
	// SetReload writes the reload register. The counter runs from this
	// value down to zero, so the period is value+1 clock cycles.
	SetReload(value uint32)

	// ClearCurrent clears the current-value register
	ClearCurrent()

	// Current returns the remaining count in the current period
	Current() uint32

	// Start enables the tick interrupt, selects the processor clock and
	// starts counting
	Start()

	// Pending reports an underflow whose interrupt has not been serviced
	// yet. Reading it must not clear it.
	Pending() bool
}

// CycleCounterDriver is the free-running CPU cycle counter (DWT CYCCNT
// on Cortex-M3 and up).
type CycleCounterDriver interface {
	// EnableTrace sets the trace enable bit in the debug control block.
	// The counter does not run without it.
	EnableTrace()

	// EnableCounter sets the counter enable bit
	EnableCounter()

	// Cycles reads the counter
	Cycles() uint32

	// SetCycles writes the counter
	SetCycles(value uint32)
}

var (
	sysTickDriver SysTickDriver
	cycleDriver   CycleCounterDriver
)

// SetSysTickDriver is called by target-specific code to register its driver.
func SetSysTickDriver(d SysTickDriver) {
	sysTickDriver = d
}

// MustSysTick returns the configured driver or panics if missing.
func MustSysTick() SysTickDriver {
	if sysTickDriver == nil {
		panic("SysTick driver not configured")
	}
	return sysTickDriver
}

// SetCycleCounterDriver is called by target-specific code to register its driver.
func SetCycleCounterDriver(d CycleCounterDriver) {
	cycleDriver = d
}

// MustCycleCounter returns the configured driver or panics if missing.
func MustCycleCounter() CycleCounterDriver {
	if cycleDriver == nil {
		panic("cycle counter driver not configured")
	}
	return cycleDriver
}
