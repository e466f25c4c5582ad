// Package coord runs correlation passes for sightline: one at a time, on a
// schedule or when enough new incidents have arrived.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abelbrown/sightline/internal/classify"
	"github.com/abelbrown/sightline/internal/correlation"
	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/metrics"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
	"github.com/abelbrown/sightline/internal/priority"
)

// ErrPassInFlight is returned when a pass is requested while another runs.
var ErrPassInFlight = errors.New("correlation pass already in flight")

// Watermark names.
const (
	WatermarkCorrelation = "correlation"
	WatermarkUtility     = "utility"
)

// Config controls scheduling.
type Config struct {
	// Interval between scheduled passes.
	Interval time.Duration `yaml:"interval"`
	// TriggerIncidents new incidents trigger an early pass.
	TriggerIncidents int `yaml:"trigger_incidents"`
	// MinTriggerGap rate-limits triggered passes.
	MinTriggerGap time.Duration `yaml:"min_trigger_gap"`
	// UtilityInterval is the minimum time between source utility recomputes.
	UtilityInterval time.Duration `yaml:"utility_interval"`
	// ClassifyWorkers bounds parallel classification of distinct incidents.
	ClassifyWorkers int `yaml:"classify_workers"`
	// PassTimeout bounds one scheduled pass.
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

// DefaultConfig returns hourly passes with weekly utility recomputes.
func DefaultConfig() Config {
	return Config{
		Interval:         time.Hour,
		TriggerIncidents: 10,
		MinTriggerGap:    time.Minute,
		UtilityInterval:  7 * 24 * time.Hour,
		ClassifyWorkers:  4,
		PassTimeout:      10 * time.Minute,
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, errors.New("scheduler interval must be positive"))
	}
	if c.TriggerIncidents < 1 {
		errs = append(errs, errors.New("scheduler trigger_incidents must be at least 1"))
	}
	if c.MinTriggerGap < 0 || c.UtilityInterval < 0 {
		errs = append(errs, errors.New("scheduler durations must not be negative"))
	}
	if c.ClassifyWorkers < 1 {
		errs = append(errs, errors.New("scheduler classify_workers must be at least 1"))
	}
	return errors.Join(errs...)
}

// Store is the persistence the coordinator needs. *store.Store satisfies it.
type Store interface {
	IngestedBetween(after, upTo time.Time) ([]model.EntityRef, error)
	Watermark(name string) (time.Time, error)
	AdvanceWatermark(name string, t time.Time) error
}

// Summary reports one pass. It is returned even when the pass fails.
type Summary struct {
	correlation.Summary
	Since               time.Time
	Cutoff              time.Time
	IncidentsClassified int
	UtilityRecomputed   bool
}

// Coordinator manages correlation passes.
// Uses context cancellation as the ONLY stop mechanism.
type Coordinator struct {
	store       Store
	engine      *correlation.Engine
	classifier  *classify.Engine      // optional: nil skips classification
	prioritizer *priority.Prioritizer // optional: nil skips utility recompute
	cfg         Config

	inFlight atomic.Bool
	pending  atomic.Int64
	limiter  *rate.Limiter
	kick     chan struct{}
	wg       sync.WaitGroup

	events  *otel.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCoordinator creates a Coordinator. The classifier and prioritizer are
// optional (nil to disable that stage).
func NewCoordinator(s Store, e *correlation.Engine, c *classify.Engine, p *priority.Prioritizer, cfg Config) *Coordinator {
	gap := rate.Inf
	if cfg.MinTriggerGap > 0 {
		gap = rate.Every(cfg.MinTriggerGap)
	}
	return &Coordinator{
		store:       s,
		engine:      e,
		classifier:  c,
		prioritizer: p,
		cfg:         cfg,
		limiter:     rate.NewLimiter(gap, 1),
		kick:        make(chan struct{}, 1),
		now:         time.Now,
	}
}

// SetEvents attaches a structured event logger.
func (c *Coordinator) SetEvents(l *otel.Logger) { c.events = l }

// SetMetrics attaches Prometheus instrumentation.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetClock overrides the clock that fixes pass cutoffs.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// InFlight reports whether a pass is running.
func (c *Coordinator) InFlight() bool { return c.inFlight.Load() }

// Start begins scheduled passes. Call with a cancellable context.
// Runs a pass immediately, then every Interval and whenever Notify
// triggers one.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.scheduled(ctx, "startup")

		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.scheduled(ctx, "interval")
			case <-c.kick:
				c.scheduled(ctx, "trigger")
			}
		}
	}()
}

// Wait blocks until the background goroutine exits.
// Call after canceling the context passed to Start.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Notify records n newly ingested incidents and triggers a pass once
// TriggerIncidents have accumulated, at most once per MinTriggerGap.
func (c *Coordinator) Notify(n int) {
	if c.pending.Add(int64(n)) < int64(c.cfg.TriggerIncidents) {
		return
	}
	if !c.limiter.Allow() {
		return
	}
	c.pending.Store(0)
	select {
	case c.kick <- struct{}{}:
	default: // a trigger is already queued
	}
}

// scheduled runs a pass from the stored watermark, logging the outcome.
func (c *Coordinator) scheduled(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	if c.cfg.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PassTimeout)
		defer cancel()
	}
	sum, err := c.RunPass(ctx, time.Time{})
	switch {
	case errors.Is(err, ErrPassInFlight):
		logging.Debug("scheduled pass skipped, another in flight", "reason", reason)
	case err != nil:
		logging.Error("scheduled pass failed", "reason", reason, "pass", sum.PassID, "err", err)
	default:
		logging.Info("scheduled pass complete", "reason", reason, "pass", sum.PassID,
			"entities", sum.EntitiesProcessed, "links", sum.LinksCreated, "skipped", len(sum.Skipped))
	}
}

// RunPass correlates every entity ingested after since (the stored
// watermark when since is zero) up to a cutoff fixed now, classifies the
// incidents whose neighborhood changed, and recomputes source utility when
// due. The watermark advances to the cutoff only if every stage succeeds,
// so a failed pass is retried over the same window.
func (c *Coordinator) RunPass(ctx context.Context, since time.Time) (Summary, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.metrics.PassRejected()
		c.events.Warn(otel.KindPassSkipped, "coord", "pass already in flight")
		return Summary{}, ErrPassInFlight
	}
	defer c.inFlight.Store(false)

	passID := uuid.NewString()[:8]
	sum := Summary{Summary: correlation.Summary{PassID: passID}, Cutoff: c.now().UTC()}

	if since.IsZero() {
		wm, err := c.store.Watermark(WatermarkCorrelation)
		if err != nil {
			return sum, c.failed(sum, fmt.Errorf("read watermark: %w", err))
		}
		since = wm
	}
	sum.Since = since

	refs, err := c.store.IngestedBetween(since, sum.Cutoff)
	if err != nil {
		return sum, c.failed(sum, fmt.Errorf("list new entities: %w", err))
	}

	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPassStart, Comp: "coord", PassID: passID, Count: len(refs)})
	logging.Info("correlation pass started", "pass", passID, "since", since, "cutoff", sum.Cutoff, "entities", len(refs))

	corr, err := c.engine.RunPass(ctx, passID, refs)
	sum.Summary = corr
	if err != nil {
		return sum, c.failed(sum, err)
	}

	if c.classifier != nil {
		n, err := c.classifyAffected(ctx, refs)
		sum.IncidentsClassified = n
		if err != nil {
			return sum, c.failed(sum, err)
		}
	}

	if c.prioritizer != nil {
		done, err := c.recomputeUtility(ctx, sum.Cutoff)
		sum.UtilityRecomputed = done
		if err != nil {
			return sum, c.failed(sum, err)
		}
	}

	if err := c.store.AdvanceWatermark(WatermarkCorrelation, sum.Cutoff); err != nil {
		return sum, c.failed(sum, fmt.Errorf("advance watermark: %w", err))
	}

	c.metrics.PassFinished(sum.Duration, sum.EntitiesProcessed, nil)
	c.events.Emit(otel.Event{Level: otel.LevelInfo, Kind: otel.KindPassComplete, Comp: "coord", PassID: passID,
		Count: sum.LinksCreated, Dur: sum.Duration,
		Extra: map[string]any{
			"entities":   sum.EntitiesProcessed,
			"existing":   sum.LinksExisting,
			"skipped":    len(sum.Skipped),
			"classified": sum.IncidentsClassified,
		}})
	return sum, nil
}

func (c *Coordinator) failed(sum Summary, err error) error {
	err = fmt.Errorf("pass %s: %w", sum.PassID, err)
	c.metrics.PassFinished(sum.Duration, sum.EntitiesProcessed, err)
	c.events.Emit(otel.Event{Level: otel.LevelError, Kind: otel.KindPassError, Comp: "coord", PassID: sum.PassID, Err: err.Error()})
	return err
}

// classifyAffected reclassifies incidents touched by the pass. Distinct
// incidents run in parallel; the classifier serializes each id.
func (c *Coordinator) classifyAffected(ctx context.Context, refs []model.EntityRef) (int, error) {
	ids := c.classifier.Affected(refs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ClassifyWorkers)

	var done atomic.Int64
	for _, id := range ids {
		g.Go(func() error {
			if _, err := c.classifier.Classify(gctx, id); err != nil {
				return err
			}
			done.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(done.Load()), err
}

// recomputeUtility runs the prioritizer when UtilityInterval has elapsed
// since the last recompute.
func (c *Coordinator) recomputeUtility(ctx context.Context, now time.Time) (bool, error) {
	last, err := c.store.Watermark(WatermarkUtility)
	if err != nil {
		return false, err
	}
	if !last.IsZero() && now.Sub(last) < c.cfg.UtilityInterval {
		return false, nil
	}
	if _, err := c.prioritizer.Recompute(ctx, now); err != nil {
		return false, err
	}
	if err := c.store.AdvanceWatermark(WatermarkUtility, now); err != nil {
		return false, err
	}
	return true, nil
}
