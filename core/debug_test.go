package core

import (
	"testing"
	"time"
)

func TestDebugOutput(t *testing.T) {
	got := make(chan string, 4)
	SetDebugWriter(func(s string) { got <- s })
	t.Cleanup(func() {
		SetDebugEnabled(false)
		SetDebugWriter(nil)
	})

	DebugPrintln("muted")
	DebugAsync("muted")
	select {
	case s := <-got:
		t.Fatalf("output while disabled: %q", s)
	case <-time.After(20 * time.Millisecond):
	}

	SetDebugEnabled(true)
	DebugPrintln("sync")
	if s := <-got; s != "sync" {
		t.Errorf("DebugPrintln wrote %q", s)
	}

	InitAsyncDebug()
	InitAsyncDebug()
	DebugAsync("async")
	select {
	case s := <-got:
		if s != "async" {
			t.Errorf("DebugAsync wrote %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("async message never written")
	}
}
