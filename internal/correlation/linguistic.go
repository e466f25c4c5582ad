package correlation

import (
	"context"
	"time"

	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

// Linguistic links suspicious text to incidents close in time. The
// suspicion score comes from an external scorer; unscored signals are
// skipped.
type Linguistic struct {
	cfg LinguisticConfig
}

// NewLinguistic returns a linguistic matcher.
func NewLinguistic(cfg LinguisticConfig) *Linguistic { return &Linguistic{cfg: cfg} }

func (m *Linguistic) Name() string         { return "linguistic" }
func (m *Linguistic) Type() model.LinkType { return model.LinkLinguistic }

func (m *Linguistic) Match(ctx context.Context, subject model.Entity, win Window) ([]model.Link, error) {
	switch {
	case subject.Signal != nil:
		sig := *subject.Signal
		if sig.Kind == model.SignalTransaction {
			return nil, nil
		}
		if sig.Scores.Suspicion == nil {
			return nil, skipf("signal %s has no suspicion score", sig.ID)
		}
		if !m.suspicious(sig) {
			return nil, nil
		}
		incidents, err := collect(ctx, win.QueryIncidents(sig.Timestamp.Add(-m.cfg.MaxDelta), sig.Timestamp.Add(m.cfg.MaxDelta), nil))
		if err != nil {
			return nil, err
		}
		var out []model.Link
		for _, inc := range incidents {
			if l, ok := m.link(inc, sig); ok {
				out = append(out, l)
			}
		}
		return out, nil

	case subject.Incident != nil:
		inc := *subject.Incident
		signals, err := collect(ctx, win.QuerySignals(store.SignalQuery{
			Start: inc.Timestamp.Add(-m.cfg.MaxDelta),
			End:   inc.Timestamp.Add(m.cfg.MaxDelta),
		}))
		if err != nil {
			return nil, err
		}
		var out []model.Link
		for _, sig := range signals {
			if sig.Kind == model.SignalTransaction || sig.Scores.Suspicion == nil || !m.suspicious(sig) {
				continue
			}
			if l, ok := m.link(inc, sig); ok {
				out = append(out, l)
			}
		}
		return out, nil
	}
	return nil, nil
}

func (m *Linguistic) suspicious(sig model.Signal) bool {
	return *sig.Scores.Suspicion > m.cfg.MinSuspicion
}

func (m *Linguistic) link(inc model.Incident, sig model.Signal) (model.Link, bool) {
	dt := absDelta(inc.Timestamp, sig.Timestamp)
	if dt > m.cfg.MaxDelta {
		return model.Link{}, false
	}
	s := *sig.Scores.Suspicion
	conf := s * decay(dt, m.cfg.MaxDelta)
	if conf <= 0 {
		return model.Link{}, false
	}
	ev := model.Evidence{
		"suspicion":        round6(s),
		"time_delta_hours": round6(dt.Hours()),
	}
	return model.NewLink(inc.Ref(), sig.Ref(), model.LinkLinguistic, conf, ev, time.Time{}), true
}
