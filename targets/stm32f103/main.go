//go:build stm32f103

package main

import (
	"machine"
	"mcutime/core"
	"mcutime/cortexm"
	"mcutime/protocol"
	"runtime"
)

const (
	hostBaud      = 115200
	debugBaud     = 115200
	heartbeatTime = core.Milliseconds(500)
)

var (
	// Buffers for communication
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	debugUART *machine.UART
	led       = machine.LED

	// Debug counters
	messagesReceived uint32
	messagesSent     uint32
	msgerrors        uint32
)

func main() {
	initDebugUART()

	led.Configure(machine.PinConfig{Mode: machine.PinOutput})

	cortexm.Install()
	core.Init(machine.CPUFrequency())
	core.RegisterConstant("MCU", "stm32f103")

	bootBlink()

	core.InitClockCommands()
	initCalibrateCommand()

	// Build and cache dictionary after all commands registered
	core.GetGlobalDictionary().BuildDictionary()

	machine.Serial.Configure(machine.UARTConfig{BaudRate: hostBaud})

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, handleCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.DebugAsync("[main] host reset")
	})
	// Responses are queued by the handler; the ack follows them and
	// flushes the lot
	transport.SetFlushCallback(writeSerial)
	core.SetGlobalTransport(transport)

	core.DebugPrintln("[main] ready")

	lastBeat := core.Now()
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					inputBuffer.Reset()
					outputBuffer.Reset()
					core.DumpTimingRing()
				}
			}()

			readSerial()

			if inputBuffer.Available() > 0 {
				data := inputBuffer.Data()
				originalLen := len(data)
				inputBuf := protocol.NewSliceInputBuffer(data)

				transport.Receive(inputBuf)
				messagesReceived++

				if consumed := originalLen - inputBuf.Available(); consumed > 0 {
					inputBuffer.Pop(consumed)
				}
			}

			if len(outputBuffer.Result()) > 0 {
				writeSerial()
				messagesSent++
			}

			// Heartbeat is polled: delay commands own the CPU while they run
			if now := core.Now(); now-lastBeat >= heartbeatTime {
				lastBeat = now
				if led.Get() {
					led.Low()
				} else {
					led.High()
				}
			}

			// Lets the async debug worker drain
			runtime.Gosched()
		}()
	}
}

// bootBlink shows the millisecond delay works before the link comes up
func bootBlink() {
	for i := 0; i < 3; i++ {
		led.Low()
		core.Delay(core.Ms(100))
		led.High()
		core.Delay(core.Ms(100))
	}
}

// readSerial moves every byte the UART has buffered into the FIFO
func readSerial() {
	for machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			msgerrors++
			return
		}
		if inputBuffer.Write([]byte{b}) == 0 {
			// FIFO full; the host will resend after a nak
			msgerrors++
			return
		}
	}
}

// writeSerial writes the pending output and empties the buffer
func writeSerial() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	if _, err := machine.Serial.Write(result); err != nil {
		msgerrors++
	}
	outputBuffer.Reset()
}

// handleCommand dispatches received commands to the command registry
func handleCommand(cmdID uint16, data *[]byte) error {
	return core.DispatchCommand(cmdID, data)
}

// initDebugUART brings up UART2 (PA2 TX, PA3 RX) for log output, keeping
// UART1 free for the host protocol
func initDebugUART() {
	debugUART = machine.UART2
	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: debugBaud,
		TX:       machine.PA2,
		RX:       machine.PA3,
	})
	if err != nil {
		return
	}

	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
	core.DebugPrintln("=== STM32F103 debug UART 115200 TX=PA2 RX=PA3 ===")
}
