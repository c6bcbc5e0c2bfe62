//go:build !tinygo

package core

import "sync/atomic"

// State is the saved interrupt mask on regular Go
type State uint32

// interruptsMasked only models the PRIMASK bit so tests can check that
// callers get their mask state back. Nothing is actually blocked.
var interruptsMasked uint32

// disableInterrupts marks interrupts as masked and returns the previous state
func disableInterrupts() State {
	return State(atomic.SwapUint32(&interruptsMasked, 1))
}

// restoreInterrupts restores the saved state
func restoreInterrupts(state State) {
	atomic.StoreUint32(&interruptsMasked, uint32(state))
}

// interruptsDisabled reports the modelled mask state
func interruptsDisabled() bool {
	return atomic.LoadUint32(&interruptsMasked) != 0
}
