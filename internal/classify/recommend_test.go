package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abelbrown/sightline/internal/model"
)

func TestRecommendStateActorRanking(t *testing.T) {
	loc := model.GeoPoint{Lat: 53.89, Lon: 9.13}
	recs := Recommend(DefaultCatalog(), model.ClassStateActor, 120, loc, DefaultConfig().Weights)
	require.Len(t, recs, 5)

	want := []struct {
		name  string
		score float64
		tier  model.Tier
	}{
		{"Air defence coordination cell", 0.825, model.TierCritical},
		{"Long-range interceptor team", 0.63625, model.TierCritical},
		{"Handheld RF jammer", 0.6, model.TierHigh},
		{"Passive RF direction finder", 0.55, model.TierMedium},
		{"Wide-area RF jamming array", 0.4875, model.TierLow},
	}
	for i, w := range want {
		assert.Equal(t, w.name, recs[i].CounterMeasure, "rank %d", i)
		assert.InDelta(t, w.score, recs[i].Score, 1e-9, "score of %s", w.name)
		assert.Equal(t, w.tier, recs[i].Tier, "tier of %s", w.name)
	}

	// Fixed assets are informational, mobile ones deploy at the incident.
	assert.True(t, recs[0].Informational)
	assert.Nil(t, recs[0].Deploy)
	require.NotNil(t, recs[1].Deploy)
	assert.Equal(t, loc, *recs[1].Deploy)
}

func TestRecommendTieBreaksByName(t *testing.T) {
	catalog := []model.CounterMeasure{
		{Name: "Bravo", Cost: 10, Effectiveness: 0.5, Mobile: true, EffectiveAgainst: []model.OperationalClass{model.ClassUnknown}},
		{Name: "Alpha", Cost: 10, Effectiveness: 0.5, Mobile: true, EffectiveAgainst: []model.OperationalClass{model.ClassUnknown}},
	}
	recs := Recommend(catalog, model.ClassUnknown, 0, model.GeoPoint{}, DefaultConfig().Weights)
	require.Len(t, recs, 2)
	assert.Equal(t, "Alpha", recs[0].CounterMeasure)
	assert.Equal(t, "Bravo", recs[1].CounterMeasure)
	assert.Equal(t, model.TierCritical, recs[1].Tier, "equal scores share the top tier")
}

func TestRecommendNoCandidates(t *testing.T) {
	assert.Empty(t, Recommend(DefaultCatalog(), model.ClassUnclassified, 10, model.GeoPoint{}, DefaultConfig().Weights))
}

func TestRecommendZeroCost(t *testing.T) {
	catalog := []model.CounterMeasure{
		{Name: "Free", Cost: 0, Effectiveness: 0, EffectiveAgainst: []model.OperationalClass{model.ClassUnknown}},
	}
	recs := Recommend(catalog, model.ClassUnknown, 0, model.GeoPoint{}, DefaultConfig().Weights)
	require.Len(t, recs, 1)
	assert.InDelta(t, 0.5, recs[0].Score, 1e-9)
}

func TestQuartiles(t *testing.T) {
	q1, med, q3 := quartiles([]float64{4, 1, 3, 2, 5})
	assert.Equal(t, 2.0, q1)
	assert.Equal(t, 3.0, med)
	assert.Equal(t, 4.0, q3)

	q1, med, q3 = quartiles([]float64{7})
	assert.Equal(t, []float64{7, 7, 7}, []float64{q1, med, q3})
}

func TestParseCatalog(t *testing.T) {
	cms := DefaultCatalog()
	assert.NotEmpty(t, cms)

	_, err := ParseCatalog([]byte("- name: A\n  effective_against: [pirates]\n"))
	assert.ErrorIs(t, err, model.ErrInvalidEntity)

	_, err = ParseCatalog([]byte("- name: A\n- name: A\n"))
	assert.ErrorIs(t, err, model.ErrInvalidEntity)

	_, err = ParseCatalog([]byte("- name: A\n  effectiveness: 1.5\n"))
	assert.ErrorIs(t, err, model.ErrInvalidEntity)
}

func TestPaymentIndicators(t *testing.T) {
	ind := newIndicators(DefaultConfig())
	for _, s := range []string{
		"Will pay 500 USD",
		"€1,000 for photos",
		"2.5k usdt to whoever films it",
		"BOUNTY on the base",
		"$300",
	} {
		assert.True(t, ind.offersPayment(s), s)
	}
	for _, s := range []string{
		"drone seen over the port",
		"payday loans", // keyword must stand alone
		"flight 1200 at gate 4",
	} {
		assert.False(t, ind.offersPayment(s), s)
	}
	assert.True(t, ind.militarySignature("Military reconnaissance UAV"))
	assert.True(t, ind.militarySignature("long-range fixed wing"))
	assert.False(t, ind.militarySignature("consumer quadcopter"))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short text", excerpt("  short\n text ", 40))
	got := excerpt("the quick brown fox jumps over the lazy dog", 20)
	assert.Equal(t, "the quick brown fox...", got)
}
