package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"
)

type dictionaryDoc struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations"`
}

func TestDictionaryJSON(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register("identify_response", "offset=%u data=%*s", nil)
	reg.Register("identify", "offset=%u count=%c", func(*[]byte) error { return nil })
	reg.Register("hpm_read", "counter=%c", func(*[]byte) error { return nil })

	d := NewDictionary(reg)
	d.SetVersion(`v"1"`)
	d.AddConstant("CLOCK_FREQ", uint32(1000000))
	d.AddConstant("HPM_ATOMICS", true)
	d.AddConstant("MCU", "sim")
	d.AddEnumeration("counter", []string{"cycle", "", "instret"})
	d.BuildDictionary()

	var doc dictionaryDoc
	if err := json.Unmarshal(d.Generate(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, d.Generate())
	}
	if doc.Version != `v"1"` || doc.BuildVersions != "go" {
		t.Errorf("version = %q build = %q", doc.Version, doc.BuildVersions)
	}
	if doc.Config["CLOCK_FREQ"] != "1000000" || doc.Config["HPM_ATOMICS"] != "1" || doc.Config["MCU"] != "sim" {
		t.Errorf("config = %v", doc.Config)
	}
	if doc.Commands["identify offset=%u count=%c"] != 1 || doc.Commands["hpm_read counter=%c"] != 2 {
		t.Errorf("commands = %v", doc.Commands)
	}
	if doc.Responses["identify_response offset=%u data=%*s"] != 0 {
		t.Errorf("responses = %v", doc.Responses)
	}
	counter := doc.Enumerations["counter"]
	if len(counter) != 2 || counter["cycle"] != 0 || counter["instret"] != 2 {
		t.Errorf("counter enumeration = %v", counter)
	}
}

func TestDictionaryCacheInvalidation(t *testing.T) {
	reg := NewCommandRegistry()
	d := NewDictionary(reg)
	d.BuildDictionary()
	before := string(d.Generate())

	d.AddConstant("HPM_XLEN", 64)
	after := string(d.Generate())
	if before == after {
		t.Error("adding a constant did not invalidate the cache")
	}
	var doc dictionaryDoc
	if err := json.Unmarshal([]byte(after), &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Config["HPM_XLEN"] != "64" {
		t.Errorf("config = %v", doc.Config)
	}
}

func TestDictionaryChunks(t *testing.T) {
	reg := NewCommandRegistry()
	reg.Register("hpm_enable", "", func(*[]byte) error { return nil })
	d := NewDictionary(reg)
	d.BuildDictionary()
	full := d.Compressed()

	var joined []byte
	for offset := uint32(0); ; offset += 7 {
		chunk := d.GetChunk(offset, 7)
		if len(chunk) == 0 {
			break
		}
		joined = append(joined, chunk...)
	}
	if !bytes.Equal(joined, full) {
		t.Errorf("chunks reassemble to %q, want %q", joined, full)
	}

	r, err := zlib.NewReader(bytes.NewReader(joined))
	if err != nil {
		t.Fatalf("served dictionary is not zlib: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, d.Generate()) {
		t.Errorf("inflated %q, want %q", plain, d.Generate())
	}

	chunk := d.GetChunk(0, 4)
	chunk[0] = 'X'
	if d.Compressed()[0] == 'X' {
		t.Error("GetChunk returned the cached buffer")
	}
	if len(d.GetChunk(uint32(len(full))+10, 40)) != 0 {
		t.Error("chunk past the end should be empty")
	}
}

func TestIdentifyCommand(t *testing.T) {
	f := newFirmware(t)

	r := f.call("identify", 32, 40)
	if len(r) != 1 || r[0].name != "identify_response" || r[0].args[0] != 32 {
		t.Fatalf("identify = %+v", r)
	}
}
