// Package classify derives an operational class, a strategic assessment and
// ranked countermeasure recommendations for an incident from its attributes
// and its evidence-graph neighborhood.
//
// Classification is a pure function of that snapshot: re-running it on the
// same incident and graph yields the same class and ranking. Passes for one
// incident are serialized; distinct incidents may be classified in parallel.
package classify

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/abelbrown/sightline/internal/graph"
	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/metrics"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
)

// Store is the persistence the engine reads and writes. *store.Store
// satisfies it.
type Store interface {
	GetIncident(id string) (model.Incident, error)
	GetSignal(id string) (model.Signal, error)
	Catalog() ([]model.CounterMeasure, error)
	UpdateClassification(id string, class model.OperationalClass, assessment, rule string, zone *model.LaunchZone) error
	SaveRecommendations(incidentID string, recs []model.Recommendation) error
	GetClassification(incidentID string) (model.Classification, error)
}

// Engine classifies incidents.
type Engine struct {
	store Store
	graph *graph.Graph
	rules []Rule
	cfg   Config
	locks *keyedMutex

	events  *otel.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an engine with the default rule order. Extra rules run
// after the defaults and before the fallback.
func NewEngine(s Store, g *graph.Graph, cfg Config, extra ...Rule) *Engine {
	return &Engine{
		store: s,
		graph: g,
		rules: append(DefaultRules(cfg), extra...),
		cfg:   cfg,
		locks: newKeyedMutex(),
		now:   time.Now,
	}
}

// SetEvents attaches a structured event logger.
func (e *Engine) SetEvents(l *otel.Logger) { e.events = l }

// SetMetrics attaches Prometheus instrumentation.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// Classify runs a classification pass for incidentID, waiting for any pass
// already running on the same incident.
func (e *Engine) Classify(ctx context.Context, incidentID string) (model.Classification, error) {
	unlock := e.locks.Lock(incidentID)
	defer unlock()
	return e.classify(ctx, incidentID)
}

// ClassifyNoWait is Classify that fails with model.ErrConcurrentClassification
// instead of waiting for a pass already running on the incident.
func (e *Engine) ClassifyNoWait(ctx context.Context, incidentID string) (model.Classification, error) {
	unlock, ok := e.locks.TryLock(incidentID)
	if !ok {
		return model.Classification{}, fmt.Errorf("incident %s: %w", incidentID, model.ErrConcurrentClassification)
	}
	defer unlock()
	return e.classify(ctx, incidentID)
}

// Get returns the stored classification and recommendations.
func (e *Engine) Get(incidentID string) (model.Classification, error) {
	return e.store.GetClassification(incidentID)
}

func (e *Engine) classify(ctx context.Context, incidentID string) (model.Classification, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return model.Classification{}, err
	}

	inc, err := e.store.GetIncident(incidentID)
	if err != nil {
		return model.Classification{}, err
	}
	snap, err := e.snapshot(inc)
	if err != nil {
		return model.Classification{}, e.fail(incidentID, err)
	}

	class, rule := model.ClassUnknown, FallbackRule
	for _, r := range e.rules {
		if c, ok := r.Evaluate(snap); ok {
			class, rule = c, r.Name()
			break
		}
	}

	rangeKm := inc.RangeKm()
	var zone *model.LaunchZone
	if rangeKm > 0 {
		zone = &model.LaunchZone{Center: inc.Location, RadiusKm: rangeKm}
	}

	catalog, err := e.store.Catalog()
	if err != nil {
		return model.Classification{}, e.fail(incidentID, err)
	}
	recs := Recommend(catalog, class, rangeKm, inc.Location, e.cfg.Weights)

	c := model.Classification{
		IncidentID:      inc.ID,
		Class:           class,
		Assessment:      assess(snap, class, rule, rangeKm),
		Rule:            rule,
		LaunchZone:      zone,
		Recommendations: recs,
		ClassifiedAt:    e.now().UTC(),
	}

	if err := e.store.UpdateClassification(inc.ID, class, c.Assessment, rule, zone); err != nil {
		return model.Classification{}, e.fail(incidentID, err)
	}
	if err := e.store.SaveRecommendations(inc.ID, recs); err != nil {
		return model.Classification{}, e.fail(incidentID, err)
	}

	logging.Info("classified incident", "incident", inc.ID, "class", string(class), "rule", rule, "recommendations", len(recs))
	e.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindClassifyComplete, Comp: "classify",
		Entity: inc.Ref().String(), Class: string(class), Count: len(recs), Dur: time.Since(start), Msg: rule})
	e.metrics.Classified(string(class))
	return c, nil
}

func (e *Engine) fail(incidentID string, err error) error {
	err = fmt.Errorf("classify %s: %w", incidentID, err)
	logging.Error("classification failed", "incident", incidentID, "err", err)
	e.events.Error(otel.KindClassifyError, "classify", err)
	return err
}

// assess builds the strategic assessment text from the matched evidence.
func assess(snap *Snapshot, class model.OperationalClass, rule string, rangeKm float64) string {
	inc := snap.Incident
	rangeText := "unknown range"
	if rangeKm > 0 {
		rangeText = fmt.Sprintf("estimated %.0f km range", rangeKm)
	}
	equipment := inc.Equipment
	if equipment == "" {
		equipment = "unidentified equipment"
	}

	var head string
	switch class {
	case model.ClassStateActor:
		head = fmt.Sprintf("Equipment signature (%s, %s) indicates a state actor; no recruitment activity found in the linked evidence.", equipment, rangeText)
	case model.ClassRecruitedLocal:
		head = fmt.Sprintf("Linked posts offer payment, indicating a locally recruited operator (%s, %s).", equipment, rangeText)
	case model.ClassAuthorizedFriendly:
		head = fmt.Sprintf("Incident matches an announced exercise (%s, %s).", equipment, rangeText)
	default:
		head = fmt.Sprintf("No classification rule matched (%s, %s); operator unknown.", equipment, rangeText)
	}

	nearest, ok := snap.Nearest()
	if !ok {
		return head + " No linked signals within the evidence neighborhood."
	}
	return fmt.Sprintf("%s Nearest linked signal (%s, %d hop(s), confidence %.2f): %q. Rule: %s.",
		head, nearest.Signal.Channel, nearest.Hops, nearest.Confidence, excerpt(nearest.Signal.Content, 120), rule)
}

// Affected returns the ids of incidents whose classification may change
// because refs gained links: the incidents among refs and every incident
// within their neighborhood. Sorted.
func (e *Engine) Affected(refs []model.EntityRef) []string {
	seen := make(map[string]bool)
	for _, ref := range refs {
		if ref.Kind == model.KindIncident {
			seen[ref.ID] = true
		}
		for n := range e.graph.Neighbors(ref, e.cfg.Traversal()) {
			if n.Entity.Kind == model.KindIncident {
				seen[n.Entity.ID] = true
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
