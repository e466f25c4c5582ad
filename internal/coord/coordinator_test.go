package coord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/sightline/internal/classify"
	"github.com/abelbrown/sightline/internal/correlation"
	"github.com/abelbrown/sightline/internal/graph"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/otel"
	"github.com/abelbrown/sightline/internal/priority"
	"github.com/abelbrown/sightline/internal/store"
)

var t0 = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

// clock is a settable time source shared by the store and the coordinator.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store *store.Store
	graph *graph.Graph
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clk := &clock{t: t0}
	s.SetClock(clk.Now)
	return &fixture{store: s, graph: graph.New(s), clock: clk}
}

// seed stores an incident and a nearby post one hour later.
func (f *fixture) seed(t *testing.T, ext string) model.Incident {
	t.Helper()
	loc := model.GeoPoint{Lat: 53.89, Lon: 9.13}
	inc, _, err := f.store.PutIncident(model.Incident{
		ExternalID: ext,
		Timestamp:  t0,
		Location:   loc,
		Equipment:  "quadcopter",
		Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("put incident: %v", err)
	}
	if _, _, err := f.store.PutSignal(model.Signal{
		ExternalID: ext + "-post",
		Kind:       model.SignalPost,
		Channel:    "tg:alpha",
		Timestamp:  t0.Add(time.Hour),
		Location:   &loc,
		Content:    "drone over the harbour",
	}); err != nil {
		t.Fatalf("put signal: %v", err)
	}
	return inc
}

func (f *fixture) coordinator(cfg Config, matchers ...correlation.Matcher) *Coordinator {
	e := correlation.NewEngine(f.store, f.graph, correlation.DefaultConfig(), matchers...)
	c := NewCoordinator(f.store, e, nil, nil, cfg)
	c.SetClock(f.clock.Now)
	return c
}

// failingMatcher returns a storage-style error for every subject.
type failingMatcher struct{}

func (failingMatcher) Name() string         { return "failing" }
func (failingMatcher) Type() model.LinkType { return model.LinkSpatial }
func (failingMatcher) Match(context.Context, model.Entity, correlation.Window) ([]model.Link, error) {
	return nil, errors.New("disk on fire")
}

// blockingMatcher parks every Match call until release is closed.
type blockingMatcher struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *blockingMatcher) Name() string         { return "blocking" }
func (m *blockingMatcher) Type() model.LinkType { return model.LinkSpatial }
func (m *blockingMatcher) Match(ctx context.Context, _ model.Entity, _ correlation.Window) ([]model.Link, error) {
	m.once.Do(func() { close(m.started) })
	select {
	case <-m.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunPassAdvancesWatermark(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)

	c := f.coordinator(DefaultConfig())
	sum, err := c.RunPass(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if sum.EntitiesProcessed != 2 {
		t.Errorf("EntitiesProcessed = %d, want 2", sum.EntitiesProcessed)
	}
	if sum.LinksCreated == 0 {
		t.Error("expected the pass to create links")
	}
	if !sum.Cutoff.Equal(f.clock.Now()) {
		t.Errorf("Cutoff = %v, want %v", sum.Cutoff, f.clock.Now())
	}

	wm, err := f.store.Watermark(WatermarkCorrelation)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.Equal(sum.Cutoff) {
		t.Errorf("watermark = %v, want %v", wm, sum.Cutoff)
	}

	f.clock.Advance(time.Minute)
	again, err := c.RunPass(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("second RunPass: %v", err)
	}
	if again.EntitiesProcessed != 0 || again.LinksCreated != 0 {
		t.Errorf("second pass = %+v, want nothing to do", again.Summary)
	}
	if !again.Since.Equal(sum.Cutoff) {
		t.Errorf("second pass since = %v, want %v", again.Since, sum.Cutoff)
	}
}

func TestRunPassExplicitSince(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)

	c := f.coordinator(DefaultConfig())
	if _, err := c.RunPass(context.Background(), time.Time{}); err != nil {
		t.Fatal(err)
	}
	// Rewinding reprocesses the window without duplicating links.
	before := f.graph.Len()
	sum, err := c.RunPass(context.Background(), t0.Add(-time.Hour))
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if sum.EntitiesProcessed != 2 || sum.LinksCreated != 0 {
		t.Errorf("rewound pass = %+v", sum.Summary)
	}
	if f.graph.Len() != before {
		t.Errorf("graph grew from %d to %d", before, f.graph.Len())
	}
}

func TestRunPassFailureKeepsWatermark(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)

	c := f.coordinator(DefaultConfig(), failingMatcher{})
	if _, err := c.RunPass(context.Background(), time.Time{}); err == nil {
		t.Fatal("expected pass to fail")
	}
	wm, err := f.store.Watermark(WatermarkCorrelation)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.IsZero() {
		t.Errorf("watermark advanced to %v after a failed pass", wm)
	}
	if c.InFlight() {
		t.Error("in-flight flag not cleared after failure")
	}
}

func TestRunPassRejectsConcurrentPass(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)

	m := &blockingMatcher{started: make(chan struct{}), release: make(chan struct{})}
	c := f.coordinator(DefaultConfig(), m)

	events := otel.NewNullLogger()
	buf := otel.NewRingBuffer(16)
	events.SetRingBuffer(buf)
	c.SetEvents(events)

	done := make(chan error, 1)
	go func() {
		_, err := c.RunPass(context.Background(), time.Time{})
		done <- err
	}()

	select {
	case <-m.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first pass never reached the matcher")
	}

	if _, err := c.RunPass(context.Background(), time.Time{}); !errors.Is(err, ErrPassInFlight) {
		t.Errorf("second RunPass error = %v, want ErrPassInFlight", err)
	}

	close(m.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}

	events.Close()
	if _, ok := buf.LastOf(otel.KindPassSkipped); !ok {
		t.Error("expected a pass.skipped event")
	}
}

func TestNotifyTriggersPass(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.Interval = time.Hour
	cfg.TriggerIncidents = 3
	cfg.MinTriggerGap = 0

	c := f.coordinator(cfg)
	events := otel.NewNullLogger()
	defer events.Close()
	buf := otel.NewRingBuffer(64)
	events.SetRingBuffer(buf)
	c.SetEvents(events)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	waitFor := func(n int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for buf.Stats()[otel.KindPassComplete] < n {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %d completed passes, have %d", n, buf.Stats()[otel.KindPassComplete])
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	waitFor(1) // startup pass

	f.clock.Advance(time.Minute)
	f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)
	c.Notify(1)
	c.Notify(1)
	time.Sleep(50 * time.Millisecond)
	if got := buf.Stats()[otel.KindPassComplete]; got != 1 {
		t.Errorf("pass ran below the trigger threshold: %d completed", got)
	}
	c.Notify(1)
	waitFor(2)

	cancel()
	c.Wait()

	if f.graph.Len() == 0 {
		t.Error("triggered pass created no links")
	}
}

func TestNotifyIsRateLimited(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.TriggerIncidents = 1
	cfg.MinTriggerGap = time.Hour

	c := f.coordinator(cfg)
	c.Notify(1)
	c.Notify(1)
	if len(c.kick) != 1 {
		t.Fatalf("kick queue = %d, want 1", len(c.kick))
	}
	<-c.kick
	c.Notify(5)
	if len(c.kick) != 0 {
		t.Error("trigger within MinTriggerGap should be suppressed")
	}
}

func TestUtilityRecomputedOncePerInterval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)

	e := correlation.NewEngine(f.store, f.graph, correlation.DefaultConfig())
	p := priority.New(f.store, priority.DefaultConfig())
	c := NewCoordinator(f.store, e, nil, p, DefaultConfig())
	c.SetClock(f.clock.Now)

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{time.Hour, false},
		{6 * 24 * time.Hour, false},
		{24 * time.Hour, true},
	}
	for i, st := range steps {
		f.clock.Advance(st.advance)
		sum, err := c.RunPass(context.Background(), time.Time{})
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if sum.UtilityRecomputed != st.want {
			t.Errorf("pass %d UtilityRecomputed = %v, want %v", i, sum.UtilityRecomputed, st.want)
		}
	}

	u, err := p.Get("tg:alpha")
	if err != nil {
		t.Fatalf("Get utility: %v", err)
	}
	if u.LinkedIncidents != 1 {
		t.Errorf("tg:alpha linked incidents = %d, want 1", u.LinkedIncidents)
	}
}

func TestPassClassifiesAffectedIncidents(t *testing.T) {
	f := newFixture(t)
	if err := f.store.ReplaceCatalog(classify.DefaultCatalog()); err != nil {
		t.Fatal(err)
	}
	inc := f.seed(t, "inc-1")
	f.clock.Advance(time.Minute)

	e := correlation.NewEngine(f.store, f.graph, correlation.DefaultConfig())
	cl := classify.NewEngine(f.store, f.graph, classify.DefaultConfig())
	c := NewCoordinator(f.store, e, cl, nil, DefaultConfig())
	c.SetClock(f.clock.Now)

	sum, err := c.RunPass(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if sum.IncidentsClassified != 1 {
		t.Errorf("IncidentsClassified = %d, want 1", sum.IncidentsClassified)
	}
	got, err := cl.Get(inc.ID)
	if err != nil {
		t.Fatalf("Get classification: %v", err)
	}
	if got.Class == model.ClassUnclassified || got.Class == "" {
		t.Errorf("incident still unclassified: %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ClassifyWorkers = 0
	cfg.Interval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
