package mcu

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mcutime/core"
	"mcutime/protocol"
)

const testClockHz = 72000000

// hostSysTick is a SysTick that never shows a partial tick: the
// microsecond clock reads whole milliseconds from the tick counter.
type hostSysTick struct {
	reload atomic.Uint32
}

func (s *hostSysTick) SetReload(v uint32) { s.reload.Store(v) }
func (s *hostSysTick) ClearCurrent()      {}
func (s *hostSysTick) Current() uint32    { return s.reload.Load() }
func (s *hostSysTick) Start()             {}
func (s *hostSysTick) Pending() bool      { return false }

// hostCycles derives a 72 MHz cycle count from the host clock
type hostCycles struct {
	mu    sync.Mutex
	epoch time.Time
}

func (c *hostCycles) EnableTrace()   {}
func (c *hostCycles) EnableCounter() { c.SetCycles(0) }

func (c *hostCycles) Cycles() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(time.Since(c.epoch).Nanoseconds() * (testClockHz / 1000000) / 1000)
}

func (c *hostCycles) SetCycles(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch = time.Now().Add(-time.Duration(v) * time.Second / testClockHz)
}

var registerOnce sync.Once

// startFirmware runs the real command set behind a pipe and returns a
// connected MCU
func startFirmware(t *testing.T) *MCU {
	t.Helper()

	core.SetSysTickDriver(&hostSysTick{})
	core.SetCycleCounterDriver(&hostCycles{})
	core.SetTime(0)
	core.Init(testClockHz)
	registerOnce.Do(core.InitClockCommands)
	core.GetGlobalDictionary().BuildDictionary()

	hostEnd, mcuEnd := net.Pipe()
	out := protocol.NewScratchOutput()
	tr := protocol.NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return core.DispatchCommand(cmdID, data)
	})
	core.SetGlobalTransport(tr)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				core.SysTickHandler()
			}
		}
	}()
	go func() {
		defer wg.Done()
		fifo := protocol.NewFifoBuffer(256)
		buf := make([]byte, 64)
		for {
			n, err := mcuEnd.Read(buf)
			if err != nil {
				return
			}
			fifo.Write(buf[:n])
			in := protocol.NewSliceInputBuffer(fifo.Data())
			before := in.Available()
			tr.Receive(in)
			fifo.Pop(before - in.Available())

			if res := out.Result(); len(res) > 0 {
				if _, err := mcuEnd.Write(bytes.Clone(res)); err != nil {
					return
				}
				out.Reset()
			}
		}
	}()

	m := NewMCU()
	m.SetOutput(io.Discard)
	m.ConnectPort(hostEnd)

	t.Cleanup(func() {
		m.Close()
		mcuEnd.Close()
		close(stop)
		wg.Wait()
		core.SetGlobalTransport(nil)
		core.SetSysTickDriver(nil)
		core.SetCycleCounterDriver(nil)
	})

	if err := m.RetrieveDictionary(); err != nil {
		t.Fatalf("RetrieveDictionary failed: %v", err)
	}
	return m
}

func TestRetrieveDictionary(t *testing.T) {
	m := startFirmware(t)

	dict := m.GetDictionary()
	if dict.Version != "mcutime-0.1.0" {
		t.Errorf("Unexpected version %q", dict.Version)
	}
	if dict.Config["CPU_MHZ"] != "72" {
		t.Errorf("Expected CPU_MHZ 72, got %q", dict.Config["CPU_MHZ"])
	}
	if id := dict.Commands["delay_ms ms=%u"]; id != 6 {
		t.Errorf("delay_ms has ID %d, expected 6", id)
	}
	if !m.HasCommand("get_clock") || m.HasCommand("calibrate_us") {
		t.Error("Command index does not match the firmware")
	}

	freq, err := m.ClockFreq()
	if err != nil || freq != 1000000 {
		t.Errorf("ClockFreq = %d, %v", freq, err)
	}
	if len(m.GetDictionaryRaw()) < dictChunkSize {
		t.Errorf("Dictionary suspiciously short: %d bytes", len(m.GetDictionaryRaw()))
	}
}

func TestClockQueries(t *testing.T) {
	m := startFirmware(t)

	first, err := m.GetClock()
	if err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	second, err := m.GetClock()
	if err != nil {
		t.Fatalf("GetClock failed: %v", err)
	}
	if second <= first {
		t.Errorf("Clock did not advance: %d then %d", first, second)
	}

	ms, us, err := m.GetUptime()
	if err != nil {
		t.Fatalf("GetUptime failed: %v", err)
	}
	if us/1000 < ms {
		t.Errorf("Uptime us=%d behind ms=%d", us, ms)
	}
}

func TestCycleQueries(t *testing.T) {
	m := startFirmware(t)

	if err := m.ResetCycles(); err != nil {
		t.Fatalf("ResetCycles failed: %v", err)
	}
	cycles, err := m.GetCycles()
	if err != nil {
		t.Fatalf("GetCycles failed: %v", err)
	}
	// 72 cycles per microsecond; one round trip is far below a second
	if cycles > testClockHz {
		t.Errorf("Cycle count %d too large right after reset", cycles)
	}
}

func TestDelayMs(t *testing.T) {
	m := startFirmware(t)

	res, err := m.DelayMs(15)
	if err != nil {
		t.Fatalf("DelayMs failed: %v", err)
	}
	if res.Elapsed() < 15000 {
		t.Errorf("MCU clock advanced %dus during a 15ms delay", res.Elapsed())
	}
	if res.Cycles == 0 {
		t.Error("Expected a cycle count for the delay")
	}
}

func TestDelayUs(t *testing.T) {
	m := startFirmware(t)

	res, err := m.DelayUs(50)
	if err != nil {
		t.Fatalf("DelayUs failed: %v", err)
	}
	if res.EndUs < res.StartUs {
		t.Errorf("End %d before start %d", res.EndUs, res.StartUs)
	}
}

func TestUnknownCommand(t *testing.T) {
	m := startFirmware(t)

	if _, err := m.Calibrate(100); !errors.Is(err, ErrUnknownResponse) && !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected unknown message error, got %v", err)
	}
	if err := m.SendCommand("no_such_command", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
}

func TestMeasureDrift(t *testing.T) {
	m := startFirmware(t)

	res, err := m.MeasureDrift(3, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("MeasureDrift failed: %v", err)
	}
	if res.Samples != 3 || res.Host < 60*time.Millisecond {
		t.Errorf("Unexpected drift result %+v", res)
	}
	if _, err := m.MeasureDrift(0, time.Millisecond); err == nil {
		t.Error("Expected error for zero samples")
	}
}

func TestNotConnected(t *testing.T) {
	m := NewMCU()
	if err := m.RetrieveDictionary(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if _, err := m.GetClock(); !errors.Is(err, ErrNoDictionary) {
		t.Errorf("Expected ErrNoDictionary, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close on unconnected MCU: %v", err)
	}
}

func TestDriftPPM(t *testing.T) {
	tests := []struct {
		mcuUs uint64
		host  time.Duration
		want  float64
	}{
		{1000000, time.Second, 0},
		{1000100, time.Second, 100},
		{999950, time.Second, -50},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := driftPPM(tt.mcuUs, tt.host); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("driftPPM(%d, %v) = %f, expected %f", tt.mcuUs, tt.host, got, tt.want)
		}
	}
}

func TestDelayResultElapsedWraps(t *testing.T) {
	r := DelayResult{StartUs: 0xFFFFFF00, EndUs: 0x100}
	if r.Elapsed() != 0x200 {
		t.Errorf("Elapsed across wrap = %#x", r.Elapsed())
	}
}

func TestCalibrationErrorPercent(t *testing.T) {
	r := CalibrationResult{Tiered: 2400, Reference: 2000}
	if got := r.ErrorPercent(); math.Abs(got-20) > 1e-9 {
		t.Errorf("ErrorPercent = %f, expected 20", got)
	}
	if (CalibrationResult{}).ErrorPercent() != 0 {
		t.Error("Zero reference should report 0")
	}
}

func TestInflatePassesPlainJSON(t *testing.T) {
	plain := []byte(`{"version":"x"}`)
	got, err := inflate(plain)
	if err != nil || !bytes.Equal(got, plain) {
		t.Errorf("inflate(plain) = %q, %v", got, err)
	}
	if _, err := inflate([]byte{0x78, 0x01, 0xFF}); err == nil {
		t.Error("Expected error for a truncated zlib stream")
	}
}
