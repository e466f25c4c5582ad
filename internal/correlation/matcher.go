// Package correlation finds links between incidents and signals.
//
// Each Matcher looks at one subject entity and the rolling window of stored
// entities around it and proposes Links of a single type. The Engine fans
// matchers out over the entities of a pass and writes what they find into
// the evidence graph.
package correlation

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

// Window is the read-only view of stored entities matchers search.
// *store.Store satisfies it.
type Window interface {
	QueryIncidents(start, end time.Time, bbox *model.BBox) iter.Seq2[model.Incident, error]
	QuerySignals(q store.SignalQuery) iter.Seq2[model.Signal, error]
	CountSignals(channel string, start, end time.Time) (int, error)
	SignalByExternalID(externalID string) (model.Signal, error)
	SignalsReferring(externalID string) ([]model.Signal, error)
}

// Matcher proposes links of one type for a subject entity.
//
// Match may return links together with an error wrapping
// model.ErrMatcherSkipped when it could evaluate only part of the subject;
// the engine keeps the links and records the skip. Any other error is a
// storage failure and aborts the pass.
type Matcher interface {
	Name() string
	Type() model.LinkType
	Match(ctx context.Context, subject model.Entity, win Window) ([]model.Link, error)
}

// Matchers builds the standard matcher set from cfg.
func Matchers(cfg Config) []Matcher {
	return []Matcher{
		&Temporal{cfg: cfg.Temporal},
		&Spatial{cfg: cfg.Spatial},
		&Linguistic{cfg: cfg.Linguistic},
		&Financial{cfg: cfg.Financial},
		&Social{cfg: cfg.Social},
	}
}

func skipf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrMatcherSkipped, fmt.Sprintf(format, args...))
}

// absDelta returns |a-b|.
func absDelta(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}

// decay is the linear falloff max(0, 1-d/max).
func decay(d, max time.Duration) float64 {
	return math.Max(0, 1-float64(d)/float64(max))
}

// round6 fixes evidence precision so the same assertion derived from either
// endpoint fingerprints identically.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// collect drains a window sequence, stopping on the first error or when ctx
// is done.
func collect[T any](ctx context.Context, seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
