package core

import (
	"mcutime/tinycompress"
	"sync"
)

// Constant is a firmware value exposed to the host in the dictionary
type Constant struct {
	Name  string
	Value interface{}
}

// Dictionary is the JSON data dictionary the host fetches with identify
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte
	cachedZlib    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over a command registry
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		commandReg:    cmdReg,
		version:       "mcutime-0.1.0",
		buildVersions: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// AddConstant adds or replaces a constant and drops the cached JSON
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cachedDict = nil
	d.cachedZlib = nil
}

// SetVersion sets the firmware version string
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cachedDict = nil
	d.cachedZlib = nil
}

// SetBuildVersions sets the build versions string
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.cachedDict = nil
	d.cachedZlib = nil
}

// BuildDictionary renders and caches the JSON and its zlib stream.
// Call it once every command and constant is registered.
func (d *Dictionary) BuildDictionary() {
	// Registry lock first, dictionary lock second, never the other way.
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedDict = d.renderLocked(commands, responses)
	d.cachedZlib = tinycompress.Store(d.cachedDict)
	DebugPrintln("[dict] built " + itoa(len(d.cachedDict)) + " bytes, zlib " + itoa(len(d.cachedZlib)))
}

// Generate returns the dictionary JSON, rendering it if not cached
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cachedDict
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.renderLocked(commands, responses)
}

// renderLocked builds the JSON by hand: encoding/json is heavy on TinyGo.
// Caller holds d.mu.
func (d *Dictionary) renderLocked(commands, responses []*Command) []byte {
	out := make([]byte, 0, 512)
	out = append(out, `{"version":"`...)
	out = append(out, d.version...)
	out = append(out, `","build_versions":"`...)
	out = append(out, d.buildVersions...)
	out = append(out, `","config":{`...)

	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sortStrings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '"')
		out = append(out, name...)
		out = append(out, `":"`...)
		out = append(out, valueToString(d.constants[name].Value)...)
		out = append(out, '"')
	}

	out = append(out, `},"commands":`...)
	out = appendMessages(out, commands)
	out = append(out, `,"responses":`...)
	out = appendMessages(out, responses)
	out = append(out, '}')
	return out
}

// appendMessages writes {"spec":id,...}; registry order is ID order
func appendMessages(out []byte, msgs []*Command) []byte {
	out = append(out, '{')
	for i, cmd := range msgs {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '"')
		out = append(out, cmd.Spec()...)
		out = append(out, `":`...)
		out = append(out, utoa(uint32(cmd.ID))...)
	}
	return append(out, '}')
}

// sortStrings is an insertion sort; the constant list is a handful long.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// Compressed returns the dictionary as the zlib stream identify serves
func (d *Dictionary) Compressed() []byte {
	d.mu.RLock()
	cached := d.cachedZlib
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}
	return tinycompress.Store(d.Generate())
}

// GetChunk returns up to count bytes of the zlib dictionary starting at
// offset, as a copy. An offset past the end returns an empty slice.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
