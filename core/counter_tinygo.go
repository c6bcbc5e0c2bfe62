//go:build tinygo

package core

import "runtime/volatile"

// tickCount is written only from SysTick_Handler. A single aligned word,
// so loads never tear.
var tickCount uint32

func loadTicks() uint32 {
	return volatile.LoadUint32(&tickCount)
}

func storeTicks(ticks uint32) {
	volatile.StoreUint32(&tickCount, ticks)
}

// incrementTicks runs in interrupt context. The handler cannot preempt
// itself, so the load/store pair does not need to be atomic.
func incrementTicks() {
	volatile.StoreUint32(&tickCount, volatile.LoadUint32(&tickCount)+1)
}
