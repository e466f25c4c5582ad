package otel

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRingSize is the default ring buffer capacity.
const DefaultRingSize = 1024

// RingBuffer keeps the most recent events in memory so a long-running
// scheduler can report what its last passes did without re-reading the log.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []Event
	size  int
	head  int // next write position
	count int // number of valid entries (0..size)
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{
		buf:  make([]Event, size),
		size: size,
	}
}

// Push adds an event, overwriting the oldest if full. The Extra map is
// copied so later writes by the emitter do not leak into the buffer.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		cp := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			cp[k] = v
		}
		e.Extra = cp
	}
	r.mu.Lock()
	r.buf[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()
}

// at returns the i-th most recent event (1 = newest). Caller holds r.mu.
func (r *RingBuffer) at(i int) Event {
	return r.buf[(r.head-i+r.size)%r.size]
}

// Last returns the n most recent events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	n = min(n, r.count)
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	for i := range n {
		out[n-1-i] = r.at(i + 1)
	}
	return out
}

// Len returns the number of events currently in the buffer.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Stats counts buffered events by kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[EventKind]int)
	for i := 1; i <= r.count; i++ {
		counts[r.at(i).Kind]++
	}
	return counts
}

// LastOf returns the most recent event of the given kind.
func (r *RingBuffer) LastOf(kind EventKind) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 1; i <= r.count; i++ {
		if e := r.at(i); e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

// Status summarizes scheduler activity held in a ring buffer.
type Status struct {
	Passes   int // completed
	Failed   int
	Rejected int // another pass was in flight
	Skips    int // entities a matcher could not evaluate
	LastPass *Event
	LastErr  *Event
}

// Status reports pass outcomes over the buffered events.
func (r *RingBuffer) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	var st Status
	for i := 1; i <= r.count; i++ {
		e := r.at(i)
		switch e.Kind {
		case KindPassComplete:
			st.Passes++
			if st.LastPass == nil {
				st.LastPass = &e
			}
		case KindPassError:
			st.Failed++
			if st.LastErr == nil {
				st.LastErr = &e
			}
		case KindPassSkipped:
			st.Rejected++
		case KindMatchSkip:
			st.Skips++
		}
	}
	return st
}

// String renders the status as one log line.
func (s Status) String() string {
	line := fmt.Sprintf("passes=%d failed=%d rejected=%d skips=%d", s.Passes, s.Failed, s.Rejected, s.Skips)
	if s.LastPass != nil {
		line += fmt.Sprintf(" last_pass=%s at=%s links=%d", s.LastPass.PassID, s.LastPass.Time.UTC().Format(time.RFC3339), s.LastPass.Count)
	}
	if s.LastErr != nil {
		line += fmt.Sprintf(" last_err=%q", s.LastErr.Err)
	}
	return line
}
