package core

// DebugWriter writes one line of debug output.
type DebugWriter func(string)

var (
	debugPrintln DebugWriter = func(s string) {}

	// Off by default; a blocking writer on the command path skews the
	// cycle counts being measured.
	debugEnabled bool

	debugChan chan string
)

// SetDebugWriter installs the platform's debug sink (UART, host logger).
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled turns debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled reports whether debug output is on.
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts a worker draining DebugAsync messages into the
// writer. Later calls are no-ops.
func InitAsyncDebug() {
	if debugChan != nil {
		return
	}
	debugChan = make(chan string, 16)
	go func() {
		for msg := range debugChan {
			debugPrintln(msg)
		}
	}()
}

// DebugPrintln writes msg synchronously when debug output is enabled.
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// DebugAsync queues msg without blocking. Messages are dropped when the
// queue is full or async output was never started.
func DebugAsync(msg string) {
	if debugChan == nil || !debugEnabled {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}
