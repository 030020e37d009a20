package common

import "fmt"

// Fataler is the narrow logging surface common needs without importing
// the logging package (which itself depends on ringqueue, not common).
type Fataler interface {
	Fatal(msg string, fields map[string]any)
}

var fatalSink Fataler

// SetFatalSink wires the process-wide logger used by Fatalf. Called once
// from cmd/ during process bootstrap; components fatal through whatever
// sink was last installed, defaulting to stderr-only if none was.
func SetFatalSink(f Fataler) { fatalSink = f }

// Fatalf reports an invariant violation (§7) and crashes the process.
// There is no recovery path: SPSC overrun, pool exhaustion, an unknown
// client-request type reaching the matcher, and similar conditions are
// sizing/configuration bugs, not runtime conditions.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if fatalSink != nil {
		fatalSink.Fatal(msg, nil)
	}
	panic(msg)
}
