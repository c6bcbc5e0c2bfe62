package core

import (
	"strings"
	"testing"
)

func TestInitConfiguresPeripherals(t *testing.T) {
	st, cc := setupClock(t, 8000000)

	if ClockScale() != 8 {
		t.Errorf("Expected clock scale 8, got %d", ClockScale())
	}
	if st.reload != 7999 {
		t.Errorf("Expected reload 7999, got %d", st.reload)
	}
	if !st.cleared || !st.started {
		t.Errorf("SysTick not cleared/started: cleared=%v started=%v", st.cleared, st.started)
	}
	if !cc.traceOn || !cc.counterOn {
		t.Errorf("Cycle counter not enabled: trace=%v counter=%v", cc.traceOn, cc.counterOn)
	}
}

func TestInitRegistersConstants(t *testing.T) {
	setupClock(t, 72000000)

	dict := string(GetGlobalDictionary().Generate())
	for _, want := range []string{`"CLOCK_FREQ":"1000000"`, `"CPU_MHZ":"72"`, `"SYSTICK_HZ":"1000"`} {
		if !strings.Contains(dict, want) {
			t.Errorf("Dictionary missing %s: %s", want, dict)
		}
	}
}

func TestInitLogsThroughDebugWriter(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	SetDebugEnabled(true)
	defer func() {
		SetDebugWriter(func(string) {})
		SetDebugEnabled(false)
	}()

	setupClock(t, 72000000)

	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "cpu_mhz=72 reload=71999") {
		t.Errorf("Expected init log line, got %v", lines)
	}
}

func TestNowCountsInterrupts(t *testing.T) {
	setupClock(t, 8000000)

	a := Now()
	b := Now()
	if a != b {
		t.Errorf("Now changed without an interrupt: %d then %d", a, b)
	}

	for i := 0; i < 7; i++ {
		SysTickHandler()
	}
	if got := Now(); got != a+7 {
		t.Errorf("Expected %d after 7 interrupts, got %d", a+7, got)
	}
}

func TestNowWraps(t *testing.T) {
	setupClock(t, 8000000)
	SetTime(0xFFFFFFFF)

	SysTickHandler()
	if got := Now(); got != 0 {
		t.Errorf("Expected counter to wrap to 0, got %d", got)
	}
}

func TestNowMicrosWithinTick(t *testing.T) {
	st, _ := setupClock(t, 8000000)
	SetTime(5)

	// Start of the period: reload value, nothing elapsed yet
	if got := NowMicros(); got != 5000 {
		t.Errorf("At reload expected 5000us, got %d", got)
	}

	prev := NowMicros()
	for i := 0; i < 40; i++ {
		st.advance(199)
		got := NowMicros()
		if got < prev {
			t.Fatalf("NowMicros went backwards: %d then %d", prev, got)
		}
		prev = got
	}

	st.set(0)
	if got := NowMicros(); got != 5999 {
		t.Errorf("At zero expected 5999us, got %d", got)
	}
}

func TestNowMicrosAcrossTickBoundary(t *testing.T) {
	st, _ := setupClock(t, 8000000)
	SetTime(5)

	st.set(8) // 1us before the underflow
	before := NowMicros()

	st.advance(9) // underflow, interrupt not yet taken
	pendingRead := NowMicros()

	st.irq()
	after := NowMicros()

	if before != 5998 {
		t.Errorf("Expected 5998us before the boundary, got %d", before)
	}
	if pendingRead != 6000 {
		t.Errorf("Expected 6000us with the tick pending, got %d", pendingRead)
	}
	if after != pendingRead {
		t.Errorf("Servicing the interrupt changed the reading: %d then %d", pendingRead, after)
	}
	if d := after - before; d < 1 || d > 3 {
		t.Errorf("Crossing the boundary moved the clock by %dus", d)
	}
}

func TestNowMicrosDoesNotDoubleCount(t *testing.T) {
	st, _ := setupClock(t, 8000000)
	SetTime(10)
	st.advance(8000) // exactly one period: pending, current back at reload

	first := NowMicros()
	second := NowMicros()
	if first != second || first != 11000 {
		t.Errorf("Pending reads should agree on 11000us, got %d and %d", first, second)
	}

	st.irq()
	if Now() != 11 {
		t.Errorf("Pending tick counted more than once: Now()=%d", Now())
	}
	if got := NowMicros(); got != 11000 {
		t.Errorf("Expected 11000us after the interrupt, got %d", got)
	}
}

func TestNowMicrosUnderflowDuringRead(t *testing.T) {
	st, _ := setupClock(t, 8000000)
	SetTime(5)
	st.set(3)
	st.underflowAfterRead = true

	// The Current read returns 3, then the counter underflows before the
	// second Pending read; the reader must use the new period.
	if got := NowMicros(); got != 6000 {
		t.Errorf("Expected 6000us when the underflow lands mid-read, got %d", got)
	}
}

func TestNowMicrosRestoresInterruptMask(t *testing.T) {
	setupClock(t, 8000000)

	NowMicros()
	if interruptsDisabled() {
		t.Fatal("NowMicros left interrupts masked")
	}

	state := disableInterrupts()
	NowMicros()
	if !interruptsDisabled() {
		t.Error("NowMicros re-enabled interrupts inside a masked region")
	}
	restoreInterrupts(state)
	if interruptsDisabled() {
		t.Error("Expected interrupts enabled after restoring")
	}
}

func TestNowMicrosTracksTicks(t *testing.T) {
	st, _ := setupClock(t, 72000000)

	// 3.5 ms worth of cycles with every interrupt serviced promptly
	for i := 0; i < 35; i++ {
		st.advance(7200)
		st.irq()
	}
	got := NowMicros()
	if got < 3499 || got > 3501 {
		t.Errorf("Expected about 3500us, got %d", got)
	}
}

func TestMustSysTickPanicsWhenUnset(t *testing.T) {
	SetSysTickDriver(nil)
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic without a SysTick driver")
		}
	}()
	MustSysTick()
}
