package core

import (
	"bytes"
	"sync"

	"hpmon/tinycompress"
)

// Constant is a firmware constant exposed to the host.
type Constant struct {
	Name  string
	Value interface{}
}

// Enumeration maps symbolic names to indices, e.g. counter names.
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the data dictionary the host downloads with identify.
type Dictionary struct {
	mu            sync.RWMutex
	constants     map[string]*Constant
	enumerations  map[string]*Enumeration
	commandReg    *CommandRegistry
	version       string
	buildVersions string
	cachedDict    []byte
	cachedZlib    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over cmdReg.
func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:     make(map[string]*Constant),
		enumerations:  make(map[string]*Enumeration),
		commandReg:    cmdReg,
		version:       "hpmon-0.1.0",
		buildVersions: "go",
	}
}

// RegisterConstant registers a constant in the global dictionary.
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary.
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

// AddConstant adds or replaces a constant and drops the cached dictionary.
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.invalidate()
}

// AddEnumeration adds or replaces an enumeration. Empty names are skipped
// when the dictionary is rendered.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// TinyGo may reclaim the caller's backing array.
	valuesCopy := make([]string, len(values))
	copy(valuesCopy, values)

	d.enumerations[name] = &Enumeration{Name: name, Values: valuesCopy}
	d.invalidate()
}

// SetVersion sets the firmware version string.
func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.invalidate()
}

// SetBuildVersions sets the toolchain description.
func (d *Dictionary) SetBuildVersions(versions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersions = versions
	d.invalidate()
}

// BuildDictionary renders and caches the dictionary. Call it once every
// command is registered.
func (d *Dictionary) BuildDictionary() {
	// Fetch from the registry before taking our own lock so the two locks
	// are never nested.
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cachedDict = d.render(commands, responses)
	d.cachedZlib = compress(d.cachedDict)
	DebugPrintln("[dict] built " + itoa(len(d.cachedDict)) + " bytes (" +
		itoa(len(d.cachedZlib)) + " zlib), " +
		itoa(len(commands)) + " commands, " + itoa(len(responses)) + " responses")
}

// Caller holds d.mu for writing.
func (d *Dictionary) invalidate() {
	d.cachedDict = nil
	d.cachedZlib = nil
}

// compress wraps the JSON in a zlib stream. On failure the plain JSON is
// served instead; the host accepts both.
func compress(data []byte) []byte {
	var buf bytes.Buffer
	w := tinycompress.NewWriter(&buf, len(data))
	if _, err := w.Write(data); err != nil {
		DebugPrintln("[dict] compress: " + err.Error())
		return data
	}
	if err := w.Close(); err != nil {
		DebugPrintln("[dict] compress: " + err.Error())
		return data
	}
	return buf.Bytes()
}

// Compressed returns the dictionary as served by identify.
func (d *Dictionary) Compressed() []byte {
	d.mu.RLock()
	cached := d.cachedZlib
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}
	return compress(d.Generate())
}

// Generate returns the JSON dictionary, rendering it if nothing is cached.
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
	return d.render(commands, responses)
}

// render builds the Klipper-style JSON document. Caller holds d.mu.
func (d *Dictionary) render(commands, responses map[string]int) []byte {
	result := make([]byte, 0, 1024)

	result = append(result, `{"version":`...)
	result = appendJSONString(result, d.version)
	result = append(result, `,"build_versions":`...)
	result = appendJSONString(result, d.buildVersions)

	result = append(result, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			result = append(result, ',')
		}
		result = appendJSONString(result, name)
		result = append(result, ':')
		result = appendJSONString(result, valueToString(d.constants[name].Value))
	}

	result = append(result, `},"commands":`...)
	result = appendIDMap(result, commands)
	result = append(result, `,"responses":`...)
	result = appendIDMap(result, responses)

	if len(d.enumerations) > 0 {
		result = append(result, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				result = append(result, ',')
			}
			result = appendJSONString(result, name)
			result = append(result, `:{`...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					result = append(result, ',')
				}
				result = appendJSONString(result, value)
				result = append(result, ':')
				result = append(result, itoa(idx)...)
				first = false
			}
			result = append(result, '}')
		}
		result = append(result, '}')
	}

	return append(result, '}')
}

// appendIDMap writes signature:id pairs ordered by ID.
func appendIDMap(result []byte, m map[string]int) []byte {
	byID := make(map[int]string, len(m))
	ids := make([]int, 0, len(m))
	for sig, id := range m {
		byID[id] = sig
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}

	result = append(result, '{')
	for i, id := range ids {
		if i > 0 {
			result = append(result, ',')
		}
		result = appendJSONString(result, byID[id])
		result = append(result, ':')
		result = append(result, itoa(id)...)
	}
	return append(result, '}')
}

// GetChunk returns a copy of up to count bytes of the compressed dictionary
// starting at offset. Past the end it returns an empty slice.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	// Copy so the transport never holds a slice of the cached dictionary.
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary.
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
