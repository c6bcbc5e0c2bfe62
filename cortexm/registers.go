//go:build cortexm

// Package cortexm drives the Cortex-M SysTick timer and DWT cycle counter
// behind the core timing interfaces.
package cortexm

import (
	"runtime/volatile"
	"unsafe"
)

// Cortex-M3 system peripherals
const (
	sysTickBase = 0xE000E010
	scbICSRAddr = 0xE000ED04
	dwtBase     = 0xE0001000
	dcbDEMCR    = 0xE000EDFC
)

// SysTick CSR bits
const (
	sysTickEnable    = 1 << 0
	sysTickTickInt   = 1 << 1
	sysTickClkSource = 1 << 2 // processor clock, not HCLK/8
	sysTickMask      = 0x00FFFFFF
)

const (
	icsrPendSTSet = 1 << 26 // SysTick exception pending
	demcrTrcEna   = 1 << 24
	dwtCycCntEna  = 1 << 0
)

type sysTickRegs struct {
	CSR   volatile.Register32
	RVR   volatile.Register32
	CVR   volatile.Register32
	CALIB volatile.Register32
}

type dwtRegs struct {
	CTRL   volatile.Register32
	CYCCNT volatile.Register32
}

var (
	systick = (*sysTickRegs)(unsafe.Pointer(uintptr(sysTickBase)))
	icsr    = (*volatile.Register32)(unsafe.Pointer(uintptr(scbICSRAddr)))
	dwt     = (*dwtRegs)(unsafe.Pointer(uintptr(dwtBase)))
	demcr   = (*volatile.Register32)(unsafe.Pointer(uintptr(dcbDEMCR)))
)

// SysTick implements core.SysTickDriver on the Cortex-M SysTick timer
type SysTick struct{}

func (SysTick) SetReload(value uint32) {
	systick.RVR.Set(value & sysTickMask)
}

// ClearCurrent writes CVR; any write clears it and COUNTFLAG
func (SysTick) ClearCurrent() {
	systick.CVR.Set(0)
}

func (SysTick) Current() uint32 {
	return systick.CVR.Get() & sysTickMask
}

func (SysTick) Start() {
	systick.CSR.Set(sysTickClkSource | sysTickTickInt | sysTickEnable)
}

// Pending reads ICSR.PENDSTSET. Unlike COUNTFLAG, reading it does not
// clear it, so two reads in a row see the same underflow.
func (SysTick) Pending() bool {
	return icsr.HasBits(icsrPendSTSet)
}

// CycleCounter implements core.CycleCounterDriver on DWT CYCCNT
type CycleCounter struct{}

func (CycleCounter) EnableTrace() {
	demcr.SetBits(demcrTrcEna)
}

func (CycleCounter) EnableCounter() {
	dwt.CTRL.SetBits(dwtCycCntEna)
}

func (CycleCounter) Cycles() uint32 {
	return dwt.CYCCNT.Get()
}

func (CycleCounter) SetCycles(value uint32) {
	dwt.CYCCNT.Set(value)
}
