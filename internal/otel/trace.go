package otel

import (
	"os"
	"sync/atomic"
)

// traceEnabled is set once at package init. Atomic for safe concurrent access
// (read from matcher goroutines, written by tests via setTraceEnabled).
var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("SIGHTLINE_TRACE") != "")
}

// TraceEnabled reports whether SIGHTLINE_TRACE is set.
// Matchers check it before building per-entity trace events.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

// setTraceEnabled overrides the traceEnabled flag for testing.
// Not exported: test-only helper.
func setTraceEnabled(v bool) {
	traceEnabled.Store(v)
}
