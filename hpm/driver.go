package hpm

// Reg is the access sequence for a single CSR. A Reg with nil Get does not
// exist on the current core (for example the high half of a counter on a
// 64-bit hart).
type Reg struct {
	Get func() uintptr
	Set func(uintptr)
}

// Present reports whether the register exists.
func (r Reg) Present() bool {
	return r.Get != nil
}

// CounterRegs groups the registers belonging to one counter.
type CounterRegs struct {
	Event Reg // mhpmeventN; absent for the fixed counters
	Low   Reg // counter value, or its low 32 bits on RV32
	High  Reg // high 32 bits on RV32; absent on RV64
}

// Table maps every counter identifier to its registers. Each general-purpose
// counter occupies its own CSR, so implementations must list every entry
// explicitly rather than compute register numbers. Entries 0-2 are unused;
// the fixed counters are reached through Driver.Cycle and Driver.Instret.
type Table [NumCounters]CounterRegs

// Driver is the register-level interface a Monitor runs on. Target code
// provides one backed by real CSRs; tests use hpm/sim.
type Driver interface {
	// XLEN is the native register width, 32 or 64.
	XLEN() int

	// HasAtomics reports whether the core implements atomic
	// compare-and-swap. Without it every enable/disable fails.
	HasAtomics() bool

	// Cause is the machine trap cause register (mcause).
	Cause() Reg

	// CounterEnable is the privilege access-enable register (mcounteren).
	CounterEnable() Reg

	// ProbeCounterEnable writes v to the counter-enable register with the
	// trap vector pointed at a local landing pad, then restores the vector.
	// A trap is not reported directly; it shows up in Cause.
	ProbeCounterEnable(v uintptr)

	// Cycle and Instret return the fixed counter registers.
	Cycle() CounterRegs
	Instret() CounterRegs

	// HPM returns the register table for the general-purpose counters.
	HPM() *Table
}
