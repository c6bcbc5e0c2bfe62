package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"mcutime/host/serial"
	"mcutime/protocol"
)

// Message IDs every firmware assigns before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
)

const (
	dictChunkSize   = 40
	responseTimeout = time.Second
)

var (
	ErrNotConnected     = errors.New("not connected to MCU")
	ErrNoDictionary     = errors.New("dictionary not loaded")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrUnknownResponse  = errors.New("unknown response")
	ErrResponseMismatch = errors.New("unexpected response")
)

// MCU represents a connection to a firmware running the clock command set
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	dictionary     *Dictionary
	dictionaryData []byte

	// name -> ID, with the format stripped from the dictionary key
	commandIDs  map[string]uint16
	responseIDs map[string]uint16

	out       io.Writer
	connected bool
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string            `json:"version"`
	BuildVersions string            `json:"build_versions"`
	Config        map[string]string `json:"config"`
	Commands      map[string]int    `json:"commands"`
	Responses     map[string]int    `json:"responses"`
}

// DelayResult is the firmware's report of one delay command
type DelayResult struct {
	StartUs uint32
	EndUs   uint32
	Cycles  uint32
}

// Elapsed returns the microseconds the MCU clock advanced, across a wrap
func (r DelayResult) Elapsed() uint32 {
	return r.EndUs - r.StartUs
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{out: os.Stdout}
}

// SetOutput redirects progress output (default stdout)
func (m *MCU) SetOutput(w io.Writer) {
	m.out = w
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	// Drop boot output sent before we were listening
	if err := port.Flush(); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush serial port: %w", err)
	}
	m.ConnectPort(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ConnectPort starts the transport over an already open port
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.transport.Close()
}

// RetrieveDictionary fetches the dictionary in identify chunks and
// parses it
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	fmt.Fprintln(m.out, "Retrieving dictionary from MCU...")

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, dictChunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if i%10 == 0 {
			fmt.Fprintf(m.out, "  Retrieved %d bytes...\n", offset)
		}
		if len(chunk) < dictChunkSize {
			break
		}
	}

	fmt.Fprintf(m.out, "Dictionary retrieved: %d bytes\n", dictBuffer.Len())

	data, err := inflate(dictBuffer.Bytes())
	if err != nil {
		return fmt.Errorf("failed to decompress dictionary: %w", err)
	}
	m.dictionaryData = data

	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return nil
}

// sendIdentify sends an identify command and waits for its response
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	payload, err := m.awaitResponse(identifyResponseID, responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}
	return bytes.Clone(data), nil
}

// inflate decompresses the zlib dictionary. Plain JSON from older
// firmware passes through.
func inflate(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != 0x78 {
		return data, nil
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// parseDictionary parses the dictionary JSON and indexes messages by name
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	m.dictionary = dict
	m.commandIDs = indexByName(dict.Commands)
	m.responseIDs = indexByName(dict.Responses)
	return nil
}

// indexByName maps "name format" dictionary keys to name -> ID
func indexByName(specs map[string]int) map[string]uint16 {
	ids := make(map[string]uint16, len(specs))
	for spec, id := range specs {
		name, _, _ := strings.Cut(spec, " ")
		ids[name] = uint16(id)
	}
	return ids
}

// awaitResponse returns the payload, after the message ID, of the next
// response with the given ID. Other responses are skipped: they are late
// answers to commands that already timed out.
func (m *MCU) awaitResponse(id uint16, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: no response %d within %v", ErrResponseMismatch, id, timeout)
		}
		resp, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}
		payload := resp.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response ID: %w", err)
		}
		if uint16(got) == id {
			return payload, nil
		}
	}
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary prints the dictionary, messages in ID order
func (m *MCU) PrintDictionary() {
	if m.dictionary == nil {
		fmt.Fprintln(m.out, "No dictionary loaded")
		return
	}

	fmt.Fprintln(m.out, "\n=== MCU Dictionary ===")
	fmt.Fprintf(m.out, "Version: %s\n", m.dictionary.Version)
	fmt.Fprintf(m.out, "Build: %s\n", m.dictionary.BuildVersions)

	fmt.Fprintln(m.out, "\nConfig:")
	keys := make([]string, 0, len(m.dictionary.Config))
	for k := range m.dictionary.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(m.out, "  %s = %s\n", k, m.dictionary.Config[k])
	}

	printMessages(m.out, "Commands", m.dictionary.Commands)
	printMessages(m.out, "Responses", m.dictionary.Responses)
	fmt.Fprintln(m.out, "======================")
}

func printMessages(w io.Writer, title string, msgs map[string]int) {
	specs := make([]string, 0, len(msgs))
	for spec := range msgs {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return msgs[specs[i]] < msgs[specs[j]] })

	fmt.Fprintf(w, "\n%s (%d):\n", title, len(specs))
	for _, spec := range specs {
		fmt.Fprintf(w, "  [%d] %s\n", msgs[spec], spec)
	}
}

// ClockFreq returns the CLOCK_FREQ constant, the unit of the clock
// response
func (m *MCU) ClockFreq() (uint32, error) {
	if m.dictionary == nil {
		return 0, ErrNoDictionary
	}
	var freq uint32
	if _, err := fmt.Sscan(m.dictionary.Config["CLOCK_FREQ"], &freq); err != nil {
		return 0, fmt.Errorf("bad CLOCK_FREQ %q: %w", m.dictionary.Config["CLOCK_FREQ"], err)
	}
	return freq, nil
}

// HasCommand reports whether the firmware registered a command
func (m *MCU) HasCommand(name string) bool {
	_, ok := m.commandIDs[name]
	return ok
}

// SendCommand sends a command by name with VLQ-encoded arguments
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	return m.sendCommand(name, args, protocol.DefaultAckTimeout)
}

func (m *MCU) sendCommand(name string, args func(output protocol.OutputBuffer), timeout time.Duration) error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}

	cmdID, ok := m.commandIDs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return m.transport.SendCommandWithTimeout(cmdID, args, timeout)
}

// query sends a command with unsigned arguments and decodes n unsigned
// fields from the named response
func (m *MCU) query(cmd string, args []uint32, resp string, n int, timeout time.Duration) ([]uint32, error) {
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	respID, ok := m.responseIDs[resp]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResponse, resp)
	}

	// The firmware acks after the handler returns, so a blocking
	// command holds back its own ack
	err := m.sendCommand(cmd, func(output protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(output, a)
		}
	}, timeout)
	if err != nil {
		return nil, err
	}

	payload, err := m.awaitResponse(respID, responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}

	vals := make([]uint32, n)
	for i := range vals {
		if vals[i], err = protocol.DecodeVLQUint(&payload); err != nil {
			return nil, fmt.Errorf("%s: field %d: %w", resp, i, err)
		}
	}
	return vals, nil
}

// GetClock returns the MCU microsecond clock
func (m *MCU) GetClock() (uint32, error) {
	vals, err := m.query("get_clock", nil, "clock", 1, protocol.DefaultAckTimeout)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// GetUptime returns the millisecond and microsecond counters
func (m *MCU) GetUptime() (ms uint32, us uint32, err error) {
	vals, err := m.query("get_uptime", nil, "uptime", 2, protocol.DefaultAckTimeout)
	if err != nil {
		return 0, 0, err
	}
	return vals[0], vals[1], nil
}

// GetCycles returns the MCU cycle counter
func (m *MCU) GetCycles() (uint32, error) {
	vals, err := m.query("get_cycles", nil, "cycles", 1, protocol.DefaultAckTimeout)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// ResetCycles zeroes the MCU cycle counter
func (m *MCU) ResetCycles() error {
	return m.SendCommand("reset_cycles", nil)
}

// DelayMs runs a millisecond delay on the MCU
func (m *MCU) DelayMs(ms uint32) (DelayResult, error) {
	timeout := protocol.DefaultAckTimeout + time.Duration(ms)*time.Millisecond
	return m.delay("delay_ms", ms, timeout)
}

// DelayUs runs a busy-loop microsecond delay on the MCU
func (m *MCU) DelayUs(us uint32) (DelayResult, error) {
	timeout := protocol.DefaultAckTimeout + time.Duration(us)*time.Microsecond
	return m.delay("delay_us", us, timeout)
}

func (m *MCU) delay(cmd string, n uint32, timeout time.Duration) (DelayResult, error) {
	vals, err := m.query(cmd, []uint32{n}, "delay_done", 3, timeout)
	if err != nil {
		return DelayResult{}, err
	}
	return DelayResult{StartUs: vals[0], EndUs: vals[1], Cycles: vals[2]}, nil
}

// CalibrationResult compares the tiered microsecond loop with the
// reference delay, both in CPU cycles
type CalibrationResult struct {
	Us        uint32
	Tiered    uint32
	Reference uint32
}

// ErrorPercent is how far the tiered loop is from the reference
func (r CalibrationResult) ErrorPercent() float64 {
	if r.Reference == 0 {
		return 0
	}
	return (float64(r.Tiered) - float64(r.Reference)) * 100 / float64(r.Reference)
}

// Calibrate runs calibrate_us on firmware that provides it
func (m *MCU) Calibrate(us uint32) (CalibrationResult, error) {
	timeout := protocol.DefaultAckTimeout + 2*time.Duration(us)*time.Microsecond
	vals, err := m.query("calibrate_us", []uint32{us}, "calibration", 3, timeout)
	if err != nil {
		return CalibrationResult{}, err
	}
	return CalibrationResult{Us: vals[0], Tiered: vals[1], Reference: vals[2]}, nil
}

// DriftResult is the MCU clock rate measured against the host clock
type DriftResult struct {
	Samples int
	MCU     time.Duration // MCU clock advance
	Host    time.Duration // host monotonic advance
	PPM     float64       // positive when the MCU runs fast
}

// MeasureDrift reads the MCU clock samples+1 times, interval apart, and
// compares its advance with the host's monotonic clock. Each interval
// must be shorter than the ~71 minute wrap of the microsecond clock.
func (m *MCU) MeasureDrift(samples int, interval time.Duration) (DriftResult, error) {
	if samples < 1 {
		return DriftResult{}, fmt.Errorf("need at least one sample, got %d", samples)
	}

	prev, err := m.GetClock()
	if err != nil {
		return DriftResult{}, err
	}
	hostStart := time.Now()

	var mcuUs uint64
	for i := 0; i < samples; i++ {
		time.Sleep(interval)
		now, err := m.GetClock()
		if err != nil {
			return DriftResult{}, fmt.Errorf("sample %d: %w", i, err)
		}
		mcuUs += uint64(now - prev)
		prev = now
	}
	host := time.Since(hostStart)

	return DriftResult{
		Samples: samples,
		MCU:     time.Duration(mcuUs) * time.Microsecond,
		Host:    host,
		PPM:     driftPPM(mcuUs, host),
	}, nil
}

// driftPPM returns how far mcuUs is from the host duration, in parts per
// million of the host duration
func driftPPM(mcuUs uint64, host time.Duration) float64 {
	hostUs := float64(host) / float64(time.Microsecond)
	if hostUs == 0 {
		return 0
	}
	return (float64(mcuUs) - hostUs) / hostUs * 1e6
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}
