//go:build tinygo.riscv && hpmdebug

package main

import "hpmon/core"

// initDebug routes debug output to the runtime console. The console shares
// the UART with the protocol, so this build is only for bench bring-up.
func initDebug() {
	core.SetDebugWriter(func(s string) { println(s) })
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
}
