package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSysTick models the count-down register: it runs from reload to
// zero, reloads on the next cycle and flags the underflow as pending
// until irq services it.
type fakeSysTick struct {
	mu      sync.Mutex
	reload  uint32
	current uint32
	started bool
	cleared bool
	pending bool

	// underflowAfterRead makes the next Current read trigger an
	// underflow right after returning, landing between the two
	// Pending reads in NowMicros.
	underflowAfterRead bool
}

func (f *fakeSysTick) SetReload(value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reload = value
}

func (f *fakeSysTick) ClearCurrent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = 0
	f.cleared = true
}

func (f *fakeSysTick) Current() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.current
	if f.underflowAfterRead {
		f.underflowAfterRead = false
		f.current = f.reload
		f.pending = true
	}
	return v
}

func (f *fakeSysTick) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.current = f.reload
}

func (f *fakeSysTick) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// advance counts down by cycles, reloading and flagging each underflow
func (f *fakeSysTick) advance(cycles uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for cycles > 0 {
		if cycles <= f.current {
			f.current -= cycles
			return
		}
		cycles -= f.current + 1
		f.current = f.reload
		f.pending = true
	}
}

func (f *fakeSysTick) set(current uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = current
}

// irq takes the pending exception: clears the flag, runs the handler
func (f *fakeSysTick) irq() {
	f.mu.Lock()
	wasPending := f.pending
	f.pending = false
	f.mu.Unlock()
	if wasPending {
		SysTickHandler()
	}
}

type fakeCycles struct {
	traceOn   bool
	counterOn bool
	cycles    atomic.Uint32
	perRead   uint32 // added after every read, models instruction latency
}

func (f *fakeCycles) EnableTrace()   { f.traceOn = true }
func (f *fakeCycles) EnableCounter() { f.counterOn = f.traceOn }

func (f *fakeCycles) Cycles() uint32 {
	if !f.counterOn {
		return 0
	}
	return f.cycles.Add(f.perRead) - f.perRead
}

func (f *fakeCycles) SetCycles(value uint32) { f.cycles.Store(value) }

// setupClock installs fresh fakes and runs Init at clockHz
func setupClock(t *testing.T, clockHz uint32) (*fakeSysTick, *fakeCycles) {
	t.Helper()
	st := &fakeSysTick{}
	cc := &fakeCycles{}
	SetSysTickDriver(st)
	SetCycleCounterDriver(cc)
	SetTime(0)
	Init(clockHz)
	t.Cleanup(func() {
		SetSysTickDriver(nil)
		SetCycleCounterDriver(nil)
		SetTime(0)
	})
	return st, cc
}

// runTicker fires SysTickHandler every period until the test ends
func runTicker(t *testing.T, period time.Duration) {
	t.Helper()
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				SysTickHandler()
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}
