//go:build tinygo.riscv && !hpmdebug

package main

func initDebug() {}
