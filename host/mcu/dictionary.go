package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Dictionary is the data dictionary the firmware serves through identify.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commands  map[string]*messageFormat
	responses map[uint16]*messageFormat
}

// fieldKind selects how a parameter is encoded on the wire.
type fieldKind uint8

const (
	fieldUint fieldKind = iota
	fieldInt
	fieldBytes
)

type field struct {
	name string
	kind fieldKind
}

// messageFormat is one parsed "name key=%x ..." signature.
type messageFormat struct {
	id     uint16
	name   string
	fields []field
}

// parseFormat splits a signature into its name and typed fields.
func parseFormat(sig string, id int) (*messageFormat, error) {
	parts := strings.Fields(sig)
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty message format for id %d", id)
	}
	mf := &messageFormat{id: uint16(id), name: parts[0]}
	for _, p := range parts[1:] {
		key, conv, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed parameter %q", mf.name, p)
		}
		f := field{name: key}
		switch conv {
		case "%u", "%c", "%hu":
			f.kind = fieldUint
		case "%i", "%hi":
			f.kind = fieldInt
		case "%s", "%*s", "%.*s":
			f.kind = fieldBytes
		default:
			return nil, fmt.Errorf("%s: unsupported conversion %q", mf.name, conv)
		}
		mf.fields = append(mf.fields, f)
	}
	return mf, nil
}

// decodeDictionary inflates the identify payload when it is a zlib stream
// and parses the JSON.
func decodeDictionary(raw []byte) (*Dictionary, error) {
	data := raw
	if len(raw) >= 2 && raw[0] == 0x78 {
		r, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("zlib header: %w", err)
		}
		data, err = io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, fmt.Errorf("unmarshal dictionary: %w", err)
	}
	if err := dict.index(); err != nil {
		return nil, err
	}
	return dict, nil
}

// index builds the name and ID lookups used to encode commands and decode
// responses.
func (d *Dictionary) index() error {
	d.commands = make(map[string]*messageFormat, len(d.Commands))
	for sig, id := range d.Commands {
		mf, err := parseFormat(sig, id)
		if err != nil {
			return err
		}
		d.commands[mf.name] = mf
	}
	d.responses = make(map[uint16]*messageFormat, len(d.Responses))
	for sig, id := range d.Responses {
		mf, err := parseFormat(sig, id)
		if err != nil {
			return err
		}
		d.responses[mf.id] = mf
	}
	return nil
}

// HasCommand reports whether the firmware implements the named command.
func (d *Dictionary) HasCommand(name string) bool {
	_, ok := d.commands[name]
	return ok
}

// Constant returns a config constant as a string.
func (d *Dictionary) Constant(name string) (string, bool) {
	v, ok := d.Config[name]
	return v, ok
}

// ConstantUint returns a numeric config constant.
func (d *Dictionary) ConstantUint(name string) (uint64, error) {
	v, ok := d.Config[name]
	if !ok {
		return 0, fmt.Errorf("constant %s not in dictionary", name)
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("constant %s: %w", name, err)
	}
	return n, nil
}

// Print writes a summary of the dictionary to w.
func (d *Dictionary) Print(w io.Writer) {
	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build:   %s\n", d.BuildVersions)

	fmt.Fprintln(w, "\nConfig:")
	for _, k := range sortedKeys(d.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, d.Config[k])
	}

	printIDs := func(title string, m map[string]int) {
		fmt.Fprintf(w, "\n%s (%d):\n", title, len(m))
		sigs := sortedKeys(m)
		sort.SliceStable(sigs, func(i, j int) bool { return m[sigs[i]] < m[sigs[j]] })
		for _, sig := range sigs {
			fmt.Fprintf(w, "  [%d] %s\n", m[sig], sig)
		}
	}
	printIDs("Commands", d.Commands)
	printIDs("Responses", d.Responses)

	if len(d.Enumerations) > 0 {
		fmt.Fprintf(w, "\nEnumerations (%d):\n", len(d.Enumerations))
		for _, name := range sortedKeys(d.Enumerations) {
			fmt.Fprintf(w, "  %s: %d values\n", name, len(d.Enumerations[name]))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
