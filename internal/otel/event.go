// Package otel provides structured observability for sightline.
//
// Events are typed structs serialized as JSONL lines. The Logger writes
// events asynchronously via a buffered channel and background drain goroutine.
// An optional RingBuffer keeps the most recent events in memory so a running
// scheduler can report what the last passes did.
package otel

import (
	"encoding/json"
	"time"
)

// Level defines event severity for filtering.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// EventKind identifies the category of an observability event.
// Dot-delimited: "<subsystem>.<action>".
type EventKind string

const (
	// Correlation pass events
	KindPassStart    EventKind = "pass.start"
	KindPassComplete EventKind = "pass.complete"
	KindPassError    EventKind = "pass.error"
	KindPassSkipped  EventKind = "pass.skipped" // another pass in flight

	// Matcher events
	KindMatchSkip  EventKind = "match.skip"
	KindMatchTrace EventKind = "match.trace" // per-entity detail, only with SIGHTLINE_TRACE

	// Classification events
	KindClassifyComplete EventKind = "classify.complete"
	KindClassifyError    EventKind = "classify.error"

	// Prioritization events
	KindUtilityRecompute EventKind = "utility.recompute"

	// Ingestion events
	KindIngest EventKind = "ingest.entity"

	// Store events
	KindStoreError EventKind = "store.error"

	// System events
	KindStartup  EventKind = "sys.startup"
	KindShutdown EventKind = "sys.shutdown"
	KindError    EventKind = "sys.error"
)

// Event is the universal observability record. Every field except Kind and
// Time is optional. Serialized as a single JSONL line.
type Event struct {
	Time      time.Time      `json:"t"`
	Level     Level          `json:"level,omitempty"`
	Kind      EventKind      `json:"kind"`
	Comp      string         `json:"comp,omitempty"`       // component: "coord", "correlation", "classify", "cli"
	SessionID string         `json:"session_id,omitempty"` // random hex, same for entire process run
	PassID    string         `json:"pass,omitempty"`       // correlation pass id
	Dur       time.Duration  `json:"-"`                    // not serialized directly
	DurMs     float64        `json:"dur_ms,omitempty"`     // computed from Dur at marshal time
	Count     int            `json:"count,omitempty"`
	Entity    string         `json:"entity,omitempty"`  // "kind:id"
	Matcher   string         `json:"matcher,omitempty"` // matcher name
	Source    string         `json:"source,omitempty"`  // signal channel
	Class     string         `json:"class,omitempty"`
	Err       string         `json:"err,omitempty"`
	Msg       string         `json:"msg,omitempty"`   // free text
	Extra     map[string]any `json:"extra,omitempty"` // escape hatch for unusual fields
}

// MarshalJSON implements json.Marshaler, converting Dur to DurMs.
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	a := struct {
		Alias
	}{Alias: Alias(e)}
	if e.Dur > 0 {
		a.DurMs = float64(e.Dur) / float64(time.Millisecond)
	}
	return json.Marshal(a)
}
