package core

import "mcutime/protocol"

var globalTransport *protocol.Transport

// SetGlobalTransport sets the transport responses are sent on
func SetGlobalTransport(t *protocol.Transport) {
	globalTransport = t
}

// InitClockCommands registers the clock command set. identify_response
// and identify must keep IDs 0 and 1: hosts bootstrap on those two
// before they have the dictionary.
func InitClockCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify)

	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_cycles", "", handleGetCycles)
	RegisterCommand("reset_cycles", "", handleResetCycles)
	RegisterCommand("delay_ms", "ms=%u", handleDelayMs)
	RegisterCommand("delay_us", "us=%u", handleDelayUs)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "ms=%u us=%u")
	RegisterResponse("cycles", "count=%u")
	RegisterResponse("delay_done", "start_us=%u end_us=%u cycles=%u")
}

// SendResponse encodes a registered response on the global transport.
// Without a transport the response is dropped.
func SendResponse(name string, args func(output protocol.OutputBuffer)) error {
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		return ErrResponseNotRegistered
	}
	if globalTransport != nil {
		globalTransport.SendCommand(cmd.ID, args)
	}
	return nil
}

// handleIdentify returns a chunk of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	return SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

// handleGetClock reports the microsecond clock (CLOCK_FREQ units)
func handleGetClock(data *[]byte) error {
	clock := NowMicros()
	RecordTiming(EvtClockQuery, uint32(clock), uint32(Now()), 0)
	return SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(clock))
	})
}

func handleGetUptime(data *[]byte) error {
	ms := Now()
	us := NowMicros()
	return SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(ms))
		protocol.EncodeVLQUint(output, uint32(us))
	})
}

func handleGetCycles(data *[]byte) error {
	count := CyclesNow()
	return SendResponse("cycles", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, count)
	})
}

func handleResetCycles(data *[]byte) error {
	CyclesReset()
	return nil
}

func handleDelayMs(data *[]byte) error {
	ms, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return runDelay(EvtDelayMs, Ms(ms), ms)
}

func handleDelayUs(data *[]byte) error {
	us, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return runDelay(EvtDelayUs, Us(us), us)
}

// runDelay blocks the command loop for the whole delay, then reports
// both clocks so the host can check the delay against its own.
func runDelay(evt uint8, d Delayer, requested uint32) error {
	startUs := NowMicros()
	startCycles := CyclesNow()
	Delay(d)
	cycles := CyclesSince(startCycles)
	endUs := NowMicros()

	RecordTiming(evt, uint32(endUs), requested, cycles)
	return SendResponse("delay_done", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(startUs))
		protocol.EncodeVLQUint(output, uint32(endUs))
		protocol.EncodeVLQUint(output, cycles)
	})
}
