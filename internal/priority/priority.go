// Package priority scores monitored sources by how useful their signals
// have been to the evidence graph, so ingestion can poll the productive
// ones more often.
//
// A source's utility is recomputed from link history alone; nothing is kept
// in memory between recomputes.
package priority

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/metrics"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
	"github.com/abelbrown/sightline/internal/store"
)

// Config holds the utility formula coefficients.
type Config struct {
	// Window is the link history considered.
	Window time.Duration `yaml:"window"`
	// LinkedWeight points are earned at LinkedScale distinct linked incidents.
	LinkedWeight float64 `yaml:"linked_weight"`
	LinkedScale  float64 `yaml:"linked_scale"`
	// ConfidenceWeight points are earned at an average link confidence of 1.
	ConfidenceWeight float64 `yaml:"confidence_weight"`
	// FalsePositivePenalty points are lost per analyst-rejected link.
	FalsePositivePenalty float64 `yaml:"false_positive_penalty"`
}

// DefaultConfig returns the standard 30-day formula.
func DefaultConfig() Config {
	return Config{
		Window:               30 * 24 * time.Hour,
		LinkedWeight:         50,
		LinkedScale:          10,
		ConfidenceWeight:     50,
		FalsePositivePenalty: 10,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Window <= 0 {
		errs = append(errs, errors.New("priority window must be positive"))
	}
	if c.LinkedScale <= 0 {
		errs = append(errs, errors.New("priority linked_scale must be positive"))
	}
	if c.LinkedWeight < 0 || c.ConfidenceWeight < 0 || c.FalsePositivePenalty < 0 {
		errs = append(errs, errors.New("priority weights must be non-negative"))
	}
	return errors.Join(errs...)
}

// Score computes a 0-100 utility from one source's link statistics.
func Score(st store.SourceStats, cfg Config) float64 {
	linked := math.Min(float64(st.LinkedIncidents)/cfg.LinkedScale, 1)
	s := cfg.LinkedWeight*linked + cfg.ConfidenceWeight*st.AvgConfidence - cfg.FalsePositivePenalty*float64(st.FalsePositives)
	s = math.Max(0, math.Min(100, s))
	return math.Round(s*100) / 100
}

// Store is the persistence the prioritizer needs. *store.Store satisfies it.
type Store interface {
	SourceLinkStats(since time.Time) ([]store.SourceStats, error)
	Channels(start, end time.Time) ([]string, error)
	UpsertSourceUtility(u model.SourceUtility) error
	GetSourceUtility(sourceID string) (model.SourceUtility, error)
	ListSourceUtility() ([]model.SourceUtility, error)
}

// Prioritizer recomputes and serves source utility.
type Prioritizer struct {
	store   Store
	cfg     Config
	events  *otel.Logger     // optional
	metrics *metrics.Metrics // optional
}

// New creates a Prioritizer.
func New(s Store, cfg Config) *Prioritizer {
	return &Prioritizer{store: s, cfg: cfg}
}

// SetEvents attaches a structured event logger.
func (p *Prioritizer) SetEvents(l *otel.Logger) { p.events = l }

// SetMetrics attaches Prometheus instrumentation.
func (p *Prioritizer) SetMetrics(m *metrics.Metrics) { p.metrics = m }

// Recompute rescores every source seen in the window, every source with
// links in the window and every previously scored source. Sources without
// recent links fall to zero rather than keeping a stale score.
func (p *Prioritizer) Recompute(ctx context.Context, now time.Time) ([]model.SourceUtility, error) {
	since := now.Add(-p.cfg.Window)

	stats, err := p.store.SourceLinkStats(since)
	if err != nil {
		return nil, fmt.Errorf("recompute utility: %w", err)
	}
	byChannel := make(map[string]store.SourceStats, len(stats))
	for _, st := range stats {
		byChannel[st.Channel] = st
	}

	active, err := p.store.Channels(since, now)
	if err != nil {
		return nil, fmt.Errorf("recompute utility: %w", err)
	}
	known, err := p.store.ListSourceUtility()
	if err != nil {
		return nil, fmt.Errorf("recompute utility: %w", err)
	}
	sources := make(map[string]bool)
	for _, ch := range active {
		sources[ch] = true
	}
	for _, u := range known {
		sources[u.SourceID] = true
	}
	for ch := range byChannel {
		sources[ch] = true
	}

	ids := make([]string, 0, len(sources))
	for id := range sources {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]model.SourceUtility, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		st := byChannel[id]
		st.Channel = id
		u := model.SourceUtility{
			SourceID:        id,
			Score:           Score(st, p.cfg),
			LinkedIncidents: st.LinkedIncidents,
			AvgConfidence:   st.AvgConfidence,
			FalsePositives:  st.FalsePositives,
			UpdatedAt:       now.UTC(),
		}
		if err := p.store.UpsertSourceUtility(u); err != nil {
			return out, fmt.Errorf("store utility for %s: %w", id, err)
		}
		p.metrics.SourceUtility(id, u.Score)
		out = append(out, u)
	}

	logging.Info("recomputed source utility", "sources", len(out), "window", p.cfg.Window)
	p.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindUtilityRecompute, Comp: "priority", Count: len(out)})
	return out, nil
}

// Get returns the current utility of one source.
func (p *Prioritizer) Get(sourceID string) (model.SourceUtility, error) {
	return p.store.GetSourceUtility(sourceID)
}

// Ranking returns every scored source, most useful first.
func (p *Prioritizer) Ranking() ([]model.SourceUtility, error) {
	us, err := p.store.ListSourceUtility()
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(us, func(a, b model.SourceUtility) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return us, nil
}

// PollInterval maps a utility score to an ingestion poll interval: base at
// score 50, halving every 25 points above and doubling every 25 below,
// bounded to [base/4, 4*base].
func PollInterval(base time.Duration, score float64) time.Duration {
	score = math.Max(0, math.Min(100, score))
	factor := math.Pow(2, (50-score)/25)
	return time.Duration(float64(base) * factor).Round(time.Millisecond)
}
