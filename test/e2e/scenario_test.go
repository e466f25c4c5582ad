package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/sightline/internal/config"
	"github.com/abelbrown/sightline/internal/logging"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/service"
)

// ticker is a clock that moves forward a millisecond on every read, so
// ingestion times and pass cutoffs never collide.
type ticker struct {
	mu sync.Mutex
	t  time.Time
}

func (c *ticker) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type world struct {
	svc       *service.Service
	start     time.Time
	itzehoe   model.Incident
	kiel      model.Incident
	chatter   model.Signal
	recruiter model.Signal
	wallet    model.Signal
}

func newWorld(t *testing.T) *world {
	t.Helper()
	logging.Discard()

	cfg := config.DefaultConfig()
	cfg.DB = ":memory:"
	start := T.Add(30 * 24 * time.Hour)
	clock := &ticker{t: start}
	svc, err := service.Open(cfg, service.Options{Clock: clock.now})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	ctx := context.Background()
	w := &world{svc: svc, start: start}
	loc := func(lat, lon float64) *model.GeoPoint { return &model.GeoPoint{Lat: lat, Lon: lon} }

	w.itzehoe, _, err = svc.SubmitIncident(ctx, model.Incident{
		ExternalID: "itz-001",
		Timestamp:  T,
		Location:   model.GeoPoint{Lat: 53.89, Lon: 9.13},
		Equipment:  "military reconnaissance, 120km range",
		Confidence: 0.9,
	})
	require.NoError(t, err)
	w.chatter, _, err = svc.SubmitSignal(ctx, model.Signal{
		ExternalID: "tg-chat-1",
		Kind:       model.SignalPost,
		Channel:    "tg:chatter",
		Timestamp:  T.Add(time.Hour),
		Location:   loc(53.9, 9.14),
		Content:    "heard something loud over the river",
	}, model.Scores{Suspicion: model.Score(0.4)})
	require.NoError(t, err)

	kielT := T.Add(5 * 24 * time.Hour)
	w.kiel, _, err = svc.SubmitIncident(ctx, model.Incident{
		ExternalID: "kie-001",
		Timestamp:  kielT,
		Location:   model.GeoPoint{Lat: 54.32, Lon: 10.13},
		Equipment:  "consumer quadcopter",
		Confidence: 0.7,
	})
	require.NoError(t, err)
	w.recruiter, _, err = svc.SubmitSignal(ctx, model.Signal{
		ExternalID: "tg-job-1",
		Kind:       model.SignalPost,
		Channel:    "tg:jobs",
		Timestamp:  kielT.Add(-2 * time.Hour),
		Location:   loc(54.33, 10.13),
		Content:    "Will pay 500 USD for clear video of the naval yard tonight",
	}, model.Scores{Suspicion: model.Score(9), Credibility: model.Score(0.8)})
	require.NoError(t, err)
	w.wallet, _, err = svc.SubmitSignal(ctx, model.Signal{
		ExternalID: "tx-001",
		Kind:       model.SignalTransaction,
		Channel:    "wallet:42",
		Timestamp:  kielT.Add(-24 * time.Hour),
		Amount:     5000,
		Currency:   "USD",
	}, model.Scores{})
	require.NoError(t, err)
	return w
}

func (w *world) pass(t *testing.T) {
	t.Helper()
	sum, err := w.svc.RunCorrelationPass(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Equal(t, 5, sum.EntitiesProcessed)
}

func TestScenarioStateActor(t *testing.T) {
	w := newWorld(t)
	w.pass(t)
	ctx := context.Background()

	c, err := w.svc.GetClassification(ctx, w.itzehoe.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassStateActor, c.Class)
	assert.Equal(t, "military-signature", c.Rule)
	require.NotNil(t, c.LaunchZone)
	assert.Equal(t, 120.0, c.LaunchZone.RadiusKm)

	require.NotEmpty(t, c.Recommendations)
	top := c.Recommendations[0]
	assert.Equal(t, model.TierCritical, top.Tier)

	cms, err := w.svc.Catalog()
	require.NoError(t, err)
	var topRange float64
	for _, cm := range cms {
		if cm.Name == top.CounterMeasure {
			topRange = cm.RangeKm
		}
	}
	assert.GreaterOrEqual(t, topRange, 100.0, "top pick %s", top.CounterMeasure)

	// The chatter post is linked, but does not offer payment.
	nbrs, err := w.svc.GetIncidentGraph(ctx, w.itzehoe.ID, 3, 0.5)
	require.NoError(t, err)
	var refs []model.EntityRef
	for _, n := range nbrs {
		refs = append(refs, n.Entity)
	}
	assert.Contains(t, refs, w.chatter.Ref())
	assert.NotContains(t, refs, w.recruiter.Ref())
}

func TestScenarioRecruitedLocal(t *testing.T) {
	w := newWorld(t)
	w.pass(t)
	ctx := context.Background()

	c, err := w.svc.GetClassification(ctx, w.kiel.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassRecruitedLocal, c.Class)
	assert.Equal(t, "payment-recruitment", c.Rule)
	assert.Nil(t, c.LaunchZone, "consumer equipment has no known range")
	assert.Contains(t, c.Assessment, "tg:jobs")

	nbrs, err := w.svc.GetIncidentGraph(ctx, w.kiel.ID, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, nbrs, 1)
	assert.Equal(t, w.recruiter.Ref(), nbrs[0].Entity)
	assert.GreaterOrEqual(t, nbrs[0].Confidence, 0.8)

	// The wallet is linked, but too weakly to traverse by default.
	links, err := w.svc.LinksOf(ctx, w.wallet.Ref())
	require.NoError(t, err)
	var financial int
	for _, l := range links {
		if l.Type == model.LinkFinancial {
			financial++
			assert.Less(t, l.Confidence, 0.5)
		}
	}
	assert.Equal(t, 2, financial, "wallet links to both incidents within a week")
}

func TestPassIdempotentAndBounded(t *testing.T) {
	w := newWorld(t)
	w.pass(t)
	ctx := context.Background()

	// Reprocessing the same window creates nothing.
	again, err := w.svc.RunCorrelationPass(ctx, w.start)
	require.NoError(t, err)
	assert.Equal(t, 5, again.EntitiesProcessed)
	assert.Zero(t, again.LinksCreated)
	assert.Positive(t, again.LinksExisting)

	refs := []model.EntityRef{w.itzehoe.Ref(), w.kiel.Ref(), w.chatter.Ref(), w.recruiter.Ref(), w.wallet.Ref()}
	for _, ref := range refs {
		links, err := w.svc.LinksOf(ctx, ref)
		require.NoError(t, err)
		for _, l := range links {
			assert.NotEqual(t, l.A, l.B, "self-link %s", l.ID)
			assert.GreaterOrEqual(t, l.Confidence, 0.0)
			assert.LessOrEqual(t, l.Confidence, 1.0)
		}
	}
}

func TestClassificationDeterministic(t *testing.T) {
	w := newWorld(t)
	w.pass(t)
	ctx := context.Background()

	first, err := w.svc.Classify(ctx, w.itzehoe.ID)
	require.NoError(t, err)
	second, err := w.svc.Classify(ctx, w.itzehoe.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Class, second.Class)
	assert.Equal(t, first.Assessment, second.Assessment)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}

func TestWatermarkPicksUpLateArrivals(t *testing.T) {
	w := newWorld(t)
	w.pass(t)
	ctx := context.Background()

	// A payment post arriving after the pass turns the Itzehoe incident
	// on the next pass.
	late, _, err := w.svc.SubmitSignal(ctx, model.Signal{
		ExternalID: "tg-job-2",
		Kind:       model.SignalPost,
		Channel:    "tg:jobs",
		Timestamp:  T.Add(-3 * time.Hour),
		Location:   &model.GeoPoint{Lat: 53.88, Lon: 9.13},
		Content:    "bounty for whoever films the base",
	}, model.Scores{Suspicion: model.Score(0.9)})
	require.NoError(t, err)

	sum, err := w.svc.RunCorrelationPass(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.EntitiesProcessed)
	assert.Positive(t, sum.LinksCreated)

	c, err := w.svc.GetClassification(ctx, w.itzehoe.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassRecruitedLocal, c.Class)

	links, err := w.svc.LinksOf(ctx, late.Ref())
	require.NoError(t, err)
	assert.NotEmpty(t, links)
}

func TestSourceUtilityAfterPass(t *testing.T) {
	w := newWorld(t)
	w.pass(t)
	ctx := context.Background()

	ranking, err := w.svc.SourceRanking(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, ranking)

	jobs, err := w.svc.GetSourceUtility(ctx, "tg:jobs")
	require.NoError(t, err)
	assert.Equal(t, 1, jobs.LinkedIncidents)
	assert.Positive(t, jobs.Score)
	assert.False(t, jobs.UpdatedAt.IsZero())
}
