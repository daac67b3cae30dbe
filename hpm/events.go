package hpm

// Event selector layout: bits [7:0] pick an event class, bits [XLEN-1:8]
// pick individual events inside that class. The meaning of each class and
// event is core specific; see the core's reference manual.
const (
	EventClassMask  uint32 = 0xFF
	EventShift             = 8
	EventSelectMask uint32 = ^EventClassMask
)

// Event classes.
const (
	EventClass0 uint32 = iota
	EventClass1
	EventClass2
	EventClass3
	EventClass4
	EventClass5
	EventClass6
	EventClass7
	EventClass8
)

// Event identifiers within a class.
const (
	EventID8 uint32 = 1 << (iota + EventShift)
	EventID9
	EventID10
	EventID11
	EventID12
	EventID13
	EventID14
	EventID15
	EventID16
	EventID17
	EventID18
	EventID19
	EventID20
	EventID21
	EventID22
	EventID23
	EventID24
	EventID25
	EventID26
	EventID27
	EventID28
	EventID29
	EventID30
	EventID31
)

// EventMask builds a selector value from a class and a list of event bit
// positions (8..31). Positions outside that range are ignored.
func EventMask(class uint8, events ...uint) uint32 {
	mask := uint32(class)
	for _, e := range events {
		if e < EventShift || e > 31 {
			continue
		}
		mask |= 1 << e
	}
	return mask
}

// SplitEventMask separates a selector value into its class and event bits.
func SplitEventMask(mask uint32) (class uint8, events uint32) {
	return uint8(mask & EventClassMask), mask & EventSelectMask
}
