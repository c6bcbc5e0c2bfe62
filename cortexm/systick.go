//go:build cortexm

package cortexm

import "mcutime/core"

// SysTick_Handler is the SysTick exception vector
//
//export SysTick_Handler
func sysTickHandler() {
	core.SysTickHandler()
}

// Install registers the SysTick and DWT drivers with core. Call it
// before core.Init.
func Install() {
	core.SetSysTickDriver(SysTick{})
	core.SetCycleCounterDriver(CycleCounter{})
}
