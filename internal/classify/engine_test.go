package classify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/sightline/internal/graph"
	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

var t0 = time.Date(2025, 9, 22, 20, 30, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	graph  *graph.Graph
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.ReplaceCatalog(DefaultCatalog()))

	g := graph.New(s)
	return &fixture{store: s, graph: g, engine: NewEngine(s, g, DefaultConfig())}
}

func (f *fixture) incident(t *testing.T, ext, equipment string, exercise bool) model.Incident {
	t.Helper()
	inc, _, err := f.store.PutIncident(model.Incident{
		ExternalID:         ext,
		Timestamp:          t0,
		Location:           model.GeoPoint{Lat: 53.89, Lon: 9.13},
		Equipment:          equipment,
		Confidence:         0.8,
		AuthorizedExercise: exercise,
	})
	require.NoError(t, err)
	return inc
}

func (f *fixture) post(t *testing.T, ext, content string) model.Signal {
	t.Helper()
	sig, _, err := f.store.PutSignal(model.Signal{
		ExternalID: ext,
		Kind:       model.SignalPost,
		Timestamp:  t0.Add(-6 * time.Hour),
		Channel:    "tg:recruit",
		Content:    content,
	})
	require.NoError(t, err)
	return sig
}

func (f *fixture) link(t *testing.T, a, b model.EntityRef, conf float64) {
	t.Helper()
	_, err := f.graph.AddLink(model.NewLink(a, b, model.LinkLinguistic, conf, model.Evidence{"suspicion": conf}, t0))
	require.NoError(t, err)
}

func catalogEntry(t *testing.T, name string) model.CounterMeasure {
	t.Helper()
	for _, cm := range DefaultCatalog() {
		if cm.Name == name {
			return cm
		}
	}
	t.Fatalf("no catalog entry %q", name)
	return model.CounterMeasure{}
}

func TestStateActorScenario(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "military reconnaissance, 120km range", false)

	c, err := f.engine.Classify(context.Background(), inc.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ClassStateActor, c.Class)
	assert.Equal(t, "military-signature", c.Rule)
	require.NotNil(t, c.LaunchZone)
	assert.Equal(t, 120.0, c.LaunchZone.RadiusKm)
	assert.Equal(t, inc.Location, c.LaunchZone.Center)
	assert.Contains(t, c.Assessment, "120 km")

	require.NotEmpty(t, c.Recommendations)
	top := c.Recommendations[0]
	assert.Equal(t, model.TierCritical, top.Tier)
	assert.GreaterOrEqual(t, catalogEntry(t, top.CounterMeasure).RangeKm, 100.0)
}

func TestRecruitedLocalScenario(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "consumer quadcopter", false)
	post := f.post(t, "post-1", "Will pay 500 USD for a video of the airbase fence at night")
	f.link(t, inc.Ref(), post.Ref(), 0.8)

	c, err := f.engine.Classify(context.Background(), inc.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ClassRecruitedLocal, c.Class)
	assert.Equal(t, "payment-recruitment", c.Rule)
	assert.Contains(t, c.Assessment, "Will pay 500 USD")
	assert.Nil(t, c.LaunchZone, "consumer equipment has no known range")
}

func TestPaymentOverridesMilitarySignature(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "military-grade fixed-wing", false)
	relay := f.post(t, "relay", "forwarded from another channel")
	offer := f.post(t, "offer", "Reward for anyone who flies near the port: $300")
	f.link(t, inc.Ref(), relay.Ref(), 0.9)
	f.link(t, relay.Ref(), offer.Ref(), 0.9)

	c, err := f.engine.Classify(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassRecruitedLocal, c.Class)
}

func TestWeakLinksAreIgnored(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "military reconnaissance", false)
	offer := f.post(t, "offer", "bounty 1000 EUR")
	f.link(t, inc.Ref(), offer.Ref(), 0.4)

	c, err := f.engine.Classify(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassStateActor, c.Class)
}

func TestAuthorizedExerciseAndFallback(t *testing.T) {
	f := newFixture(t)
	ex := f.incident(t, "inc-ex", "quadcopter", true)
	unk := f.incident(t, "inc-unk", "quadcopter", false)

	c, err := f.engine.Classify(context.Background(), ex.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassAuthorizedFriendly, c.Class)
	require.Len(t, c.Recommendations, 1)
	assert.True(t, c.Recommendations[0].Informational)
	assert.Nil(t, c.Recommendations[0].Deploy)

	c, err = f.engine.Classify(context.Background(), unk.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClassUnknown, c.Class)
	assert.Equal(t, FallbackRule, c.Rule)
}

func TestClassificationDeterministic(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "military reconnaissance, 120km range", false)
	post := f.post(t, "p", "drone seen over the bridge")
	f.link(t, inc.Ref(), post.Ref(), 0.7)

	first, err := f.engine.Classify(context.Background(), inc.ID)
	require.NoError(t, err)
	second, err := f.engine.Classify(context.Background(), inc.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Class, second.Class)
	assert.Equal(t, first.Assessment, second.Assessment)
	assert.Equal(t, first.Recommendations, second.Recommendations)

	stored, err := f.engine.Get(inc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Class, stored.Class)
	assert.Equal(t, first.Rule, stored.Rule)
	require.Len(t, stored.Recommendations, len(first.Recommendations))
	for i := range first.Recommendations {
		assert.Equal(t, first.Recommendations[i].CounterMeasure, stored.Recommendations[i].CounterMeasure)
		assert.Equal(t, first.Recommendations[i].Tier, stored.Recommendations[i].Tier)
	}
}

func TestClassifyUnknownIncident(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Classify(context.Background(), "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound), "got %v", err)
}

func TestClassifyNoWaitConflict(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "quadcopter", false)

	unlock := f.engine.locks.Lock(inc.ID)
	_, err := f.engine.ClassifyNoWait(context.Background(), inc.ID)
	assert.True(t, errors.Is(err, model.ErrConcurrentClassification), "got %v", err)
	unlock()

	_, err = f.engine.ClassifyNoWait(context.Background(), inc.ID)
	assert.NoError(t, err)
}

func TestConcurrentClassifySameIncident(t *testing.T) {
	f := newFixture(t)
	inc := f.incident(t, "inc-1", "military reconnaissance, 120km range", false)

	var wg sync.WaitGroup
	results := make([]model.Classification, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.engine.Classify(context.Background(), inc.ID)
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Recommendations, results[i].Recommendations)
	}
	assert.Empty(t, f.engine.locks.locks, "lock entries should be released")
}
