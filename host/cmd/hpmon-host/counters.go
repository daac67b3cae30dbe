package main

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/thediveo/enumflag/v2"

	"hpmon/hpm"
)

// counterIdentifierMap names every counter the way hpm.Counter.String
// does, plus the machine-mode CSR names.
var counterIdentifierMap = func() map[hpm.Counter][]string {
	ids := make(map[hpm.Counter][]string, hpm.NumCounters)
	for i := 0; i < hpm.NumCounters; i++ {
		c := hpm.Counter(i)
		ids[c] = []string{c.String()}
	}
	ids[hpm.Cycle] = append(ids[hpm.Cycle], "mcycle")
	ids[hpm.Time] = append(ids[hpm.Time], "mtime")
	ids[hpm.Instret] = append(ids[hpm.Instret], "minstret")
	for i := int(hpm.HPM3); i < hpm.NumCounters; i++ {
		c := hpm.Counter(i)
		ids[c] = append(ids[c], "mhpmcounter"+strconv.Itoa(i))
	}
	return ids
}()

func counterNames() string {
	names := make([]string, 0, hpm.NumCounters)
	for i := 0; i < hpm.NumCounters; i++ {
		names = append(names, hpm.Counter(i).String())
	}
	return strings.Join(names, ", ")
}

func newCounterValue(c *hpm.Counter) *enumflag.EnumFlagValue[hpm.Counter] {
	return enumflag.New(c, "counter", counterIdentifierMap, enumflag.EnumCaseInsensitive)
}

func parseCounter(name string) (hpm.Counter, error) {
	var c hpm.Counter
	if err := newCounterValue(&c).Set(strings.TrimSpace(name)); err != nil {
		return 0, fmt.Errorf("unknown counter: %q (available: %s)", name, counterNames())
	}
	return c, nil
}

// counterList is a comma-separated, repeatable list of counter names.
type counterList []hpm.Counter

func (l *counterList) String() string {
	names := make([]string, 0, len(*l))
	for _, c := range *l {
		names = append(names, c.String())
	}
	return strings.Join(names, ",")
}

func (l *counterList) Set(input string) error {
	counters, err := parseCounterList(input)
	if err != nil {
		return err
	}
	*l = append(*l, counters...)
	return nil
}

func (l *counterList) Type() string {
	return "counters"
}

func parseCounterList(input string) (counterList, error) {
	if strings.TrimSpace(input) == "" {
		return counterList{}, nil
	}

	parts := strings.Split(input, ",")
	counters := make(counterList, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		c, err := parseCounter(name)
		if err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}
	return counters, nil
}

// defineCounterList and decodeCounterList back the structcli hooks of
// every options struct with a counter list field.
func defineCounterList(descr string, fieldValue reflect.Value) (pflag.Value, string) {
	fieldPtr := fieldValue.Addr().Interface().(*counterList)
	*fieldPtr = nil
	return fieldPtr, descr
}

func decodeCounterList(input any) (any, error) {
	s, ok := input.(string)
	if !ok {
		return input, nil
	}
	return parseCounterList(s)
}

// parseMask accepts decimal, 0x hexadecimal and 0b binary selector values.
func parseMask(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mask %q: %w", s, err)
	}
	return uint32(v), nil
}
