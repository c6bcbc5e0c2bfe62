package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures one timing-subsystem event for post-mortem analysis
type TimingEvent struct {
	EventType uint8
	Micros    uint32 // NowMicros at the event (0 before Init)
	Value1    uint32
	Value2    uint32
}

// Event type codes
const (
	EvtInit       = 1 // Init ran: v1=reload, v2=cpu MHz
	EvtDelayMs    = 2 // Millisecond delay finished: v1=requested, v2=cycles
	EvtDelayUs    = 3 // Microsecond delay finished: v1=requested, v2=cycles
	EvtClockQuery = 4 // Host read the clock: v1=ms counter
	EvtCalibrate  = 5 // Calibration run: v1=tiered cycles, v2=reference cycles
)

const (
	TimingRingSize = 32 // Keep last 32 events
)

var (
	// debugPrintln is the global debug print function (set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8

	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// (UART, semihosting, a test buffer).
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output.
// Keep it off while measuring delays.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the goroutine that drains DebugAsync messages.
// Call from main() after SetDebugWriter.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker(debugChan)
}

func debugOutputWorker(queue <-chan string) {
	for msg := range queue {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message when debug output is enabled.
// Never call it from SysTickHandler.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a message for the async worker, dropping it if the
// queue is full. Use it from command handlers, where a blocking UART
// write would stretch the command loop. The worker only runs when the
// caller's loop yields.
func DebugAsync(msg string) {
	if debugEnabled && debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordTiming stores an event in the ring buffer, overwriting the oldest.
func RecordTiming(eventType uint8, micros, value1, value2 uint32) {
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Micros:    micros,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
}

// TimingEvents returns the recorded events, oldest first
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(timingRingHead+i)%TimingRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

func timingEventName(eventType uint8) string {
	switch eventType {
	case EvtInit:
		return "INIT"
	case EvtDelayMs:
		return "DELAY_MS"
	case EvtDelayUs:
		return "DELAY_US"
	case EvtClockQuery:
		return "CLOCK"
	case EvtCalibrate:
		return "CALIBRATE"
	}
	return "UNKNOWN"
}

// DumpTimingRing writes the ring through the debug writer, oldest first.
// It ignores SetDebugEnabled so it still works after a fault.
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + timingEventName(evt.EventType) +
			" us=" + utoa(evt.Micros) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
