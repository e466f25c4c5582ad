package correlation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/sightline/internal/graph"
	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/metrics"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
)

// Source is the store surface the engine needs: the matcher window plus
// entity lookup by ref. *store.Store satisfies it.
type Source interface {
	Window
	GetEntity(ref model.EntityRef) (model.Entity, error)
}

// Skip records one (matcher, entity) evaluation that could not complete.
type Skip struct {
	Matcher string
	Entity  model.EntityRef
	Reason  string
}

// Summary reports what a run did. It is returned even when the run fails.
type Summary struct {
	PassID            string
	EntitiesProcessed int
	LinksCreated      int
	LinksExisting     int
	LinksDropped      int // self-links or out-of-range confidence from a matcher
	Skipped           []Skip
	Duration          time.Duration
}

// Engine runs matchers over entities and writes their links into the graph.
type Engine struct {
	src      Source
	graph    *graph.Graph
	matchers []Matcher
	workers  int

	events  *otel.Logger     // optional
	metrics *metrics.Metrics // optional
	now     func() time.Time
}

// NewEngine creates an engine over src writing to g. With no matchers the
// standard set built from cfg is used.
func NewEngine(src Source, g *graph.Graph, cfg Config, matchers ...Matcher) *Engine {
	if len(matchers) == 0 {
		matchers = Matchers(cfg)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		src:      src,
		graph:    g,
		matchers: slices.Clone(matchers),
		workers:  workers,
		now:      time.Now,
	}
}

// SetEvents attaches a structured event logger.
func (e *Engine) SetEvents(l *otel.Logger) { e.events = l }

// SetMetrics attaches Prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetClock overrides the clock used to stamp links.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Matchers returns the names of the configured matchers.
func (e *Engine) Matchers() []string {
	names := make([]string, len(e.matchers))
	for i, m := range e.matchers {
		names[i] = m.Name()
	}
	return names
}

// Run evaluates every matcher against every ref under a fresh pass id.
func (e *Engine) Run(ctx context.Context, refs []model.EntityRef) (Summary, error) {
	return e.RunPass(ctx, uuid.NewString()[:8], refs)
}

// RunPass evaluates every matcher against every ref. Matcher skips are
// recorded in the summary; a store or graph failure aborts the run and is
// returned alongside the partial summary.
func (e *Engine) RunPass(ctx context.Context, passID string, refs []model.EntityRef) (Summary, error) {
	start := e.now()
	sum := Summary{PassID: passID}

	var mu sync.Mutex
	skip := func(s Skip) {
		mu.Lock()
		sum.Skipped = append(sum.Skipped, s)
		mu.Unlock()
		logging.Warn("matcher skipped entity", "pass", passID, "matcher", s.Matcher, "entity", s.Entity.String(), "reason", s.Reason)
		e.events.Skip(passID, s.Matcher, s.Entity.String(), s.Reason)
		e.metrics.MatcherSkipped(s.Matcher)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		ent, err := e.src.GetEntity(ref)
		if errors.Is(err, model.ErrNotFound) {
			skip(Skip{Entity: ref, Reason: "entity no longer in store"})
			continue
		}
		if err != nil {
			_ = g.Wait()
			sum.Duration = e.now().Sub(start)
			return e.finish(sum, fmt.Errorf("load %s: %w", ref, err))
		}
		sum.EntitiesProcessed++

		for _, m := range e.matchers {
			g.Go(func() error {
				links, err := m.Match(gctx, ent, e.src)
				if err != nil {
					if !errors.Is(err, model.ErrMatcherSkipped) {
						return fmt.Errorf("%s matcher on %s: %w", m.Name(), ref, err)
					}
					skip(Skip{Matcher: m.Name(), Entity: ref, Reason: err.Error()})
				}
				created, existing, dropped, err := e.write(links)
				mu.Lock()
				sum.LinksCreated += created
				sum.LinksExisting += existing
				sum.LinksDropped += dropped
				mu.Unlock()
				if err != nil {
					return err
				}
				if otel.TraceEnabled() {
					e.events.Emit(otel.Event{Level: otel.LevelDebug, Kind: otel.KindMatchTrace, Comp: "correlation",
						PassID: passID, Matcher: m.Name(), Entity: ref.String(), Count: len(links)})
				}
				return nil
			})
		}
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	sum.Duration = e.now().Sub(start)
	return e.finish(sum, err)
}

func (e *Engine) finish(sum Summary, err error) (Summary, error) {
	slices.SortFunc(sum.Skipped, func(a, b Skip) int {
		if c := cmp.Compare(a.Entity.String(), b.Entity.String()); c != 0 {
			return c
		}
		return cmp.Compare(a.Matcher, b.Matcher)
	})
	e.metrics.GraphLinks(e.graph.Len())
	return sum, err
}

// write stamps and adds links to the graph. Invalid links are dropped, not
// fatal; only a persistence failure is returned.
func (e *Engine) write(links []model.Link) (created, existing, dropped int, err error) {
	for _, l := range links {
		if l.CreatedAt.IsZero() {
			l.CreatedAt = e.now().UTC()
		}
		ok, err := e.graph.AddLink(l)
		switch {
		case errors.Is(err, graph.ErrSelfLink), errors.Is(err, graph.ErrInvalidConfidence), errors.Is(err, model.ErrInvalidEntity):
			logging.Debug("dropped invalid link", "type", string(l.Type), "a", l.A.String(), "b", l.B.String(), "err", err)
			dropped++
		case err != nil:
			return created, existing, dropped, fmt.Errorf("add link %s-%s: %w", l.A, l.B, err)
		case ok:
			created++
			e.metrics.LinkCreated(string(l.Type), l.Confidence)
		default:
			existing++
			e.metrics.LinkExisting(string(l.Type))
		}
	}
	return created, existing, dropped, nil
}
