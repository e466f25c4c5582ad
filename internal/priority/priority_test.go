package priority

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

var now = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type seeder struct {
	t *testing.T
	s *store.Store
	n int
}

func (sd *seeder) incident() model.Incident {
	sd.n++
	inc, _, err := sd.s.PutIncident(model.Incident{
		ExternalID: fmt.Sprintf("inc-%d", sd.n),
		Timestamp:  now.Add(-24 * time.Hour),
		Location:   model.GeoPoint{Lat: 54.3, Lon: 10.1},
	})
	if err != nil {
		sd.t.Fatalf("put incident: %v", err)
	}
	return inc
}

func (sd *seeder) signal(channel string) model.Signal {
	sd.n++
	sig, _, err := sd.s.PutSignal(model.Signal{
		ExternalID: fmt.Sprintf("sig-%d", sd.n),
		Kind:       model.SignalPost,
		Channel:    channel,
		Timestamp:  now.Add(-24 * time.Hour),
	})
	if err != nil {
		sd.t.Fatalf("put signal: %v", err)
	}
	return sig
}

func (sd *seeder) link(a, b model.EntityRef, conf float64, at time.Time) model.Link {
	l := model.NewLink(a, b, model.LinkLinguistic, conf, model.Evidence{"suspicion": conf}, at)
	if _, err := sd.s.SaveLink(l); err != nil {
		sd.t.Fatalf("save link: %v", err)
	}
	return l
}

func TestScore(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		st   store.SourceStats
		want float64
	}{
		{"empty", store.SourceStats{}, 0},
		{"two incidents", store.SourceStats{LinkedIncidents: 2, AvgConfidence: 0.7}, 45},
		{"saturated", store.SourceStats{LinkedIncidents: 40, AvgConfidence: 1}, 100},
		{"penalized", store.SourceStats{LinkedIncidents: 1, AvgConfidence: 0.9, FalsePositives: 1}, 40},
		{"clamped at zero", store.SourceStats{LinkedIncidents: 1, AvgConfidence: 0.1, FalsePositives: 5}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.st, cfg); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecompute(t *testing.T) {
	s := openStore(t)
	sd := &seeder{t: t, s: s}

	i1, i2 := sd.incident(), sd.incident()
	a1, a2 := sd.signal("tg:a"), sd.signal("tg:a")
	b1 := sd.signal("tg:b")
	sd.signal("tg:quiet")

	sd.link(i1.Ref(), a1.Ref(), 0.8, now.Add(-time.Hour))
	sd.link(i2.Ref(), a2.Ref(), 0.6, now.Add(-time.Hour))
	fp := sd.link(i1.Ref(), b1.Ref(), 0.9, now.Add(-time.Hour))
	sd.link(i2.Ref(), b1.Ref(), 0.2, now.Add(-60*24*time.Hour)) // outside the window
	if err := s.RecordFeedback(fp.ID, model.VerdictFalsePositive); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	p := New(s, DefaultConfig())
	got, err := p.Recompute(context.Background(), now)
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	want := map[string]float64{"tg:a": 45, "tg:b": 40, "tg:quiet": 0}
	if len(got) != len(want) {
		t.Fatalf("recomputed %d sources, want %d: %+v", len(got), len(want), got)
	}
	for _, u := range got {
		if math.Abs(u.Score-want[u.SourceID]) > 1e-9 {
			t.Errorf("%s score = %v, want %v", u.SourceID, u.Score, want[u.SourceID])
		}
		if !u.UpdatedAt.Equal(now) {
			t.Errorf("%s UpdatedAt = %v", u.SourceID, u.UpdatedAt)
		}
	}

	u, err := p.Get("tg:a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if u.LinkedIncidents != 2 || math.Abs(u.AvgConfidence-0.7) > 1e-9 {
		t.Errorf("tg:a = %+v", u)
	}

	ranking, err := p.Ranking()
	if err != nil {
		t.Fatalf("Ranking: %v", err)
	}
	order := []string{"tg:a", "tg:b", "tg:quiet"}
	for i, id := range order {
		if ranking[i].SourceID != id {
			t.Errorf("ranking[%d] = %s, want %s", i, ranking[i].SourceID, id)
		}
	}
}

func TestRecomputeDecaysStaleSources(t *testing.T) {
	s := openStore(t)
	sd := &seeder{t: t, s: s}
	inc := sd.incident()
	sig := sd.signal("tg:a")
	sd.link(inc.Ref(), sig.Ref(), 1, now.Add(-time.Hour))

	p := New(s, DefaultConfig())
	if _, err := p.Recompute(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	later := now.Add(90 * 24 * time.Hour)
	if _, err := p.Recompute(context.Background(), later); err != nil {
		t.Fatal(err)
	}
	u, err := p.Get("tg:a")
	if err != nil {
		t.Fatal(err)
	}
	if u.Score != 0 || !u.UpdatedAt.Equal(later) {
		t.Errorf("stale source = %+v, want score 0 updated at %v", u, later)
	}
}

func TestPollInterval(t *testing.T) {
	base := 10 * time.Minute
	tests := []struct {
		score float64
		want  time.Duration
	}{
		{50, base},
		{100, base / 4},
		{0, 4 * base},
		{75, base / 2},
		{150, base / 4},
	}
	for _, tt := range tests {
		if got := PollInterval(base, tt.score); got != tt.want {
			t.Errorf("PollInterval(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.LinkedScale = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero linked_scale")
	}
}
