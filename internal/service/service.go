// Package service is the entry point collaborators use: ingestion submits
// entities, presentation reads graphs, classifications and source utility,
// and a scheduler (or the built-in one) runs correlation passes.
package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/abelbrown/sightline/internal/classify"
	"github.com/abelbrown/sightline/internal/config"
	"github.com/abelbrown/sightline/internal/coord"
	"github.com/abelbrown/sightline/internal/correlation"
	"github.com/abelbrown/sightline/internal/graph"
	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/metrics"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
	"github.com/abelbrown/sightline/internal/priority"
	"github.com/abelbrown/sightline/internal/store"
)

// Options carries the optional observability sinks and a test clock.
type Options struct {
	Events  *otel.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

// Service wires the store, evidence graph and engines together.
type Service struct {
	store       *store.Store
	graph       *graph.Graph
	correlation *correlation.Engine
	classifier  *classify.Engine
	prioritizer *priority.Prioritizer
	coord       *coord.Coordinator
	events      *otel.Logger
}

// Open validates cfg, opens the store at cfg.DB, installs the catalog and
// loads the evidence graph.
func Open(cfg *config.Config, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if opts.Clock != nil {
		st.SetClock(opts.Clock)
	}

	if err := installCatalog(st, cfg.Catalog); err != nil {
		st.Close()
		return nil, err
	}

	g, err := graph.Load(st)
	if err != nil {
		st.Close()
		return nil, err
	}
	opts.Metrics.GraphLinks(g.Len())

	ce := correlation.NewEngine(st, g, cfg.Correlation)
	ce.SetEvents(opts.Events)
	ce.SetMetrics(opts.Metrics)

	cl := classify.NewEngine(st, g, cfg.Classify)
	cl.SetEvents(opts.Events)
	cl.SetMetrics(opts.Metrics)

	pr := priority.New(st, cfg.Priority)
	pr.SetEvents(opts.Events)
	pr.SetMetrics(opts.Metrics)

	co := coord.NewCoordinator(st, ce, cl, pr, cfg.Scheduler)
	co.SetEvents(opts.Events)
	co.SetMetrics(opts.Metrics)

	if opts.Clock != nil {
		ce.SetClock(opts.Clock)
		co.SetClock(opts.Clock)
	}

	logging.Info("service opened", "db", cfg.DB, "links", g.Len())
	return &Service{
		store:       st,
		graph:       g,
		correlation: ce,
		classifier:  cl,
		prioritizer: pr,
		coord:       co,
		events:      opts.Events,
	}, nil
}

// installCatalog replaces the stored catalog with the file at path, or seeds
// the built-in catalog into an empty store.
func installCatalog(st *store.Store, path string) error {
	if path != "" {
		cms, err := classify.LoadCatalog(path)
		if err != nil {
			return err
		}
		return st.ReplaceCatalog(cms)
	}
	existing, err := st.Catalog()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	return st.ReplaceCatalog(classify.DefaultCatalog())
}

// Close stops using the store. Cancel any Start context and Wait first.
func (s *Service) Close() error {
	return s.store.Close()
}

// Start runs the pass scheduler until ctx is canceled.
func (s *Service) Start(ctx context.Context) { s.coord.Start(ctx) }

// Wait blocks until the scheduler started by Start has exited.
func (s *Service) Wait() { s.coord.Wait() }

// SubmitIncident stores a sighting report. Re-submitting a known external id
// returns the stored incident and created=false.
func (s *Service) SubmitIncident(ctx context.Context, inc model.Incident) (model.Incident, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Incident{}, false, err
	}
	stored, created, err := s.store.PutIncident(inc)
	if err != nil {
		return model.Incident{}, false, err
	}
	if created {
		s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindIngest, Comp: "service", Entity: stored.Ref().String()})
		s.coord.Notify(1)
	}
	return stored, created, nil
}

// SubmitSignal stores a post, forum entry or transaction with its
// externally computed scores. Scores on a 0-10 scale are normalized; absent
// scores stay absent. A changed score set creates a new signal version.
func (s *Service) SubmitSignal(ctx context.Context, sig model.Signal, scores model.Scores) (model.Signal, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Signal{}, false, err
	}
	norm, err := scores.Normalize()
	if err != nil {
		return model.Signal{}, false, fmt.Errorf("%w: signal %s: %v", model.ErrInvalidEntity, sig.ExternalID, err)
	}
	sig.Scores = norm
	stored, created, err := s.store.PutSignal(sig)
	if err != nil {
		return model.Signal{}, false, err
	}
	if created {
		s.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindIngest, Comp: "service",
			Entity: stored.Ref().String(), Source: stored.Channel})
	}
	return stored, created, nil
}

// GetIncidentGraph returns the evidence neighborhood of an incident. Zero
// maxHops uses the default depth.
func (s *Service) GetIncidentGraph(ctx context.Context, incidentID string, maxHops int, minConfidence float64) ([]graph.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inc, err := s.store.GetIncident(incidentID)
	if err != nil {
		return nil, err
	}
	opts := graph.Options{MaxHops: maxHops, MinConfidence: minConfidence}
	return slices.Collect(s.graph.Neighbors(inc.Ref(), opts)), nil
}

// GetIncident returns the stored incident.
func (s *Service) GetIncident(ctx context.Context, incidentID string) (model.Incident, error) {
	if err := ctx.Err(); err != nil {
		return model.Incident{}, err
	}
	return s.store.GetIncident(incidentID)
}

// SignalVersions returns every stored version of a signal, oldest first.
// The last one is current.
func (s *Service) SignalVersions(ctx context.Context, signalID string) ([]model.Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.SignalVersions(signalID)
}

// GetClassification returns the latest classification and recommendations.
func (s *Service) GetClassification(ctx context.Context, incidentID string) (model.Classification, error) {
	if err := ctx.Err(); err != nil {
		return model.Classification{}, err
	}
	return s.classifier.Get(incidentID)
}

// Classify reclassifies one incident now instead of waiting for a pass.
func (s *Service) Classify(ctx context.Context, incidentID string) (model.Classification, error) {
	return s.classifier.Classify(ctx, incidentID)
}

// ClassifyNoWait is Classify that fails with model.ErrConcurrentClassification
// when a pass is already classifying the incident.
func (s *Service) ClassifyNoWait(ctx context.Context, incidentID string) (model.Classification, error) {
	return s.classifier.ClassifyNoWait(ctx, incidentID)
}

// GetSourceUtility returns the current utility of a source.
func (s *Service) GetSourceUtility(ctx context.Context, sourceID string) (model.SourceUtility, error) {
	if err := ctx.Err(); err != nil {
		return model.SourceUtility{}, err
	}
	return s.prioritizer.Get(sourceID)
}

// SourceRanking returns every scored source, most useful first.
func (s *Service) SourceRanking(ctx context.Context) ([]model.SourceUtility, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.prioritizer.Ranking()
}

// RecomputeUtility rescores every source now.
func (s *Service) RecomputeUtility(ctx context.Context, now time.Time) ([]model.SourceUtility, error) {
	return s.prioritizer.Recompute(ctx, now)
}

// RunCorrelationPass processes everything ingested after since (the stored
// watermark when zero). The summary is returned even when the pass fails.
func (s *Service) RunCorrelationPass(ctx context.Context, since time.Time) (coord.Summary, error) {
	return s.coord.RunPass(ctx, since)
}

// RecordFeedback stores an analyst verdict on a link.
func (s *Service) RecordFeedback(ctx context.Context, linkID string, verdict model.Verdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.store.RecordFeedback(linkID, verdict)
}

// DeleteLink removes a link from the graph and the store. Only analysts
// delete links.
func (s *Service) DeleteLink(ctx context.Context, linkID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.graph.RemoveLink(linkID)
}

// LinksOf returns every stored link touching ref.
func (s *Service) LinksOf(ctx context.Context, ref model.EntityRef) ([]model.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.LinksFor(ref)
}

// Catalog returns the installed countermeasure catalog.
func (s *Service) Catalog() ([]model.CounterMeasure, error) {
	return s.store.Catalog()
}

// Matchers names the active correlation matchers in evaluation order.
func (s *Service) Matchers() []string {
	return s.correlation.Matchers()
}
