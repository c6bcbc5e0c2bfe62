//go:build stm32f103

package main

import (
	"mcutime/core"
	"mcutime/protocol"
	"time"

	"tinygo.org/x/drivers/delay"
)

// initCalibrateCommand registers calibrate_us, which times the tiered
// microsecond loop against the drivers package's cycle-counted delay.
// Must run before the dictionary is built.
func initCalibrateCommand() {
	core.RegisterCommand("calibrate_us", "us=%u", handleCalibrateUs)
	core.RegisterResponse("calibration", "us=%u tiered=%u reference=%u")
}

func handleCalibrateUs(data *[]byte) error {
	us, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	start := core.CyclesNow()
	core.Us(us).Delay()
	tiered := core.CyclesSince(start)

	start = core.CyclesNow()
	delay.Sleep(time.Duration(us) * time.Microsecond)
	reference := core.CyclesSince(start)

	core.RecordTiming(core.EvtCalibrate, uint32(core.NowMicros()), tiered, reference)
	core.DebugAsync("[calibrate] us=" + core.FormatUint(us) +
		" tiered=" + core.FormatUint(tiered) +
		" reference=" + core.FormatUint(reference))

	return core.SendResponse("calibration", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, us)
		protocol.EncodeVLQUint(output, tiered)
		protocol.EncodeVLQUint(output, reference)
	})
}
