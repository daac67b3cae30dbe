//go:build tinygo.riscv32

package main

import (
	"device"

	"hpmon/hpm"
)

const xlen = 32

// On RV32 every 64-bit counter is split over a low CSR and an h CSR.
var cycleRegs = hpm.CounterRegs{
	Low: hpm.Reg{
		Get: func() uintptr { return device.AsmFull("csrr {}, mcycle", nil) },
		Set: func(v uintptr) { device.AsmFull("csrw mcycle, {v}", map[string]interface{}{"v": v}) },
	},
	High: hpm.Reg{
		Get: func() uintptr { return device.AsmFull("csrr {}, mcycleh", nil) },
		Set: func(v uintptr) { device.AsmFull("csrw mcycleh, {v}", map[string]interface{}{"v": v}) },
	},
}

var instretRegs = hpm.CounterRegs{
	Low: hpm.Reg{
		Get: func() uintptr { return device.AsmFull("csrr {}, minstret", nil) },
		Set: func(v uintptr) { device.AsmFull("csrw minstret, {v}", map[string]interface{}{"v": v}) },
	},
	High: hpm.Reg{
		Get: func() uintptr { return device.AsmFull("csrr {}, minstreth", nil) },
		Set: func(v uintptr) { device.AsmFull("csrw minstreth, {v}", map[string]interface{}{"v": v}) },
	},
}

// probeAsm writes {v} to mcounteren with mtvec pointed at the landing pad
// at 1. If the write traps, the pad steps mepc over it and returns; mcause
// is left for the caller to inspect.
const probeAsm = `
	addi sp, sp, -16
	sw t0, 0(sp)
	sw t1, 4(sp)
	sw t2, 8(sp)
	sw {v}, 12(sp)
	la t0, 1f
	csrrw t1, mtvec, t0
	lw t2, 12(sp)
	csrw mcounteren, t2
	nop
	j 2f
	.balign 4
1:
	csrr t0, mepc
	addi t0, t0, 4
	csrw mepc, t0
	mret
2:
	csrw mtvec, t1
	lw t2, 8(sp)
	lw t1, 4(sp)
	lw t0, 0(sp)
	addi sp, sp, 16
`

// The CSR number is an immediate in csrr/csrw, so each counter needs its
// own access sequence.
var hpmTable = hpm.Table{
	3: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent3", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent3, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter3", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter3, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter3h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter3h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	4: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent4", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent4, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter4", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter4, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter4h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter4h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	5: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent5", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent5, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter5", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter5, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter5h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter5h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	6: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent6", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent6, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter6", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter6, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter6h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter6h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	7: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent7", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent7, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter7", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter7, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter7h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter7h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	8: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent8", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent8, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter8", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter8, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter8h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter8h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	9: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent9", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent9, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter9", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter9, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter9h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter9h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	10: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent10", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent10, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter10", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter10, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter10h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter10h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	11: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent11", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent11, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter11", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter11, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter11h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter11h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	12: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent12", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent12, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter12", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter12, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter12h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter12h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	13: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent13", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent13, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter13", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter13, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter13h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter13h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	14: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent14", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent14, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter14", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter14, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter14h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter14h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	15: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent15", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent15, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter15", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter15, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter15h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter15h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	16: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent16", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent16, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter16", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter16, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter16h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter16h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	17: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent17", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent17, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter17", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter17, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter17h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter17h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	18: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent18", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent18, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter18", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter18, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter18h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter18h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	19: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent19", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent19, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter19", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter19, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter19h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter19h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	20: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent20", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent20, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter20", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter20, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter20h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter20h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	21: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent21", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent21, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter21", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter21, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter21h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter21h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	22: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent22", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent22, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter22", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter22, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter22h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter22h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	23: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent23", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent23, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter23", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter23, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter23h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter23h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	24: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent24", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent24, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter24", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter24, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter24h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter24h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	25: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent25", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent25, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter25", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter25, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter25h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter25h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	26: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent26", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent26, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter26", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter26, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter26h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter26h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	27: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent27", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent27, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter27", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter27, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter27h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter27h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	28: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent28", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent28, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter28", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter28, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter28h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter28h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	29: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent29", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent29, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter29", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter29, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter29h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter29h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	30: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent30", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent30, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter30", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter30, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter30h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter30h, {v}", map[string]interface{}{"v": v}) },
		},
	},
	31: {
		Event: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmevent31", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmevent31, {v}", map[string]interface{}{"v": v}) },
		},
		Low: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter31", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter31, {v}", map[string]interface{}{"v": v}) },
		},
		High: hpm.Reg{
			Get: func() uintptr { return device.AsmFull("csrr {}, mhpmcounter31h", nil) },
			Set: func(v uintptr) { device.AsmFull("csrw mhpmcounter31h, {v}", map[string]interface{}{"v": v}) },
		},
	},
}
