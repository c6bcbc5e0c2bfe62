//go:build !tinygo

package core

import "sync/atomic"

// On regular Go the "interrupt" is whatever goroutine calls
// SysTickHandler, so the counter goes through sync/atomic.
var tickCount uint32

func loadTicks() uint32 {
	return atomic.LoadUint32(&tickCount)
}

func storeTicks(ticks uint32) {
	atomic.StoreUint32(&tickCount, ticks)
}

func incrementTicks() {
	atomic.AddUint32(&tickCount, 1)
}
