package correlation

import (
	"cmp"
	"context"
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

// Temporal links an incident to signals on channels whose activity around
// the incident is anomalously high against the channel's own history.
type Temporal struct {
	cfg TemporalConfig
}

// NewTemporal returns a temporal matcher.
func NewTemporal(cfg TemporalConfig) *Temporal { return &Temporal{cfg: cfg} }

func (m *Temporal) Name() string         { return "temporal" }
func (m *Temporal) Type() model.LinkType { return model.LinkTemporal }

// baseline is a channel's activity summary for one incident window.
type baseline struct {
	mean, std float64
	count     int
	z         float64
}

func (m *Temporal) Match(ctx context.Context, subject model.Entity, win Window) ([]model.Link, error) {
	switch {
	case subject.Incident != nil:
		return m.matchIncident(ctx, *subject.Incident, win, "")
	case subject.Signal != nil:
		return m.matchSignal(ctx, *subject.Signal, win)
	}
	return nil, nil
}

// matchSignal re-evaluates the windows of every incident the signal falls
// into, restricted to the signal's channel.
func (m *Temporal) matchSignal(ctx context.Context, sig model.Signal, win Window) ([]model.Link, error) {
	incidents, err := collect(ctx, win.QueryIncidents(sig.Timestamp.Add(-m.cfg.After), sig.Timestamp.Add(m.cfg.Before), nil))
	if err != nil {
		return nil, err
	}

	var (
		out     []model.Link
		skipErr error
	)
	for _, inc := range incidents {
		links, err := m.matchIncident(ctx, inc, win, sig.Channel)
		if err != nil && !errors.Is(err, model.ErrMatcherSkipped) {
			return nil, err
		}
		if err != nil {
			skipErr = err
		}
		for _, l := range links {
			if l.A == sig.Ref() || l.B == sig.Ref() {
				out = append(out, l)
			}
		}
	}
	return out, skipErr
}

func (m *Temporal) matchIncident(ctx context.Context, inc model.Incident, win Window, onlyChannel string) ([]model.Link, error) {
	start := inc.Timestamp.Add(-m.cfg.Before)
	end := inc.Timestamp.Add(m.cfg.After)

	signals, err := collect(ctx, win.QuerySignals(store.SignalQuery{Start: start, End: end, Channel: onlyChannel}))
	if err != nil {
		return nil, err
	}
	byChannel := make(map[string][]model.Signal)
	for _, s := range signals {
		byChannel[s.Channel] = append(byChannel[s.Channel], s)
	}
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	slices.Sort(channels)

	var (
		out       []model.Link
		noHistory []string
	)
	for _, ch := range channels {
		sigs := byChannel[ch]
		b, err := m.baseline(win, ch, start, len(sigs))
		if errors.Is(err, model.ErrMatcherSkipped) {
			noHistory = append(noHistory, ch)
			continue
		}
		if err != nil {
			return nil, err
		}
		if b.z <= m.cfg.ZThreshold {
			continue
		}

		slices.SortFunc(sigs, func(a, c model.Signal) int {
			if d := cmp.Compare(absDelta(a.Timestamp, inc.Timestamp), absDelta(c.Timestamp, inc.Timestamp)); d != 0 {
				return d
			}
			return cmp.Compare(a.ID, c.ID)
		})
		if len(sigs) > m.cfg.MaxLinksPerChannel {
			sigs = sigs[:m.cfg.MaxLinksPerChannel]
		}

		conf := math.Min(b.z/m.cfg.ZScale, 1)
		ev := model.Evidence{
			"z_score":       b.z,
			"baseline_mean": b.mean,
			"baseline_std":  b.std,
			"window_count":  float64(b.count),
		}
		for _, s := range sigs {
			out = append(out, model.NewLink(inc.Ref(), s.Ref(), model.LinkTemporal, conf, ev, time.Time{}))
		}
	}

	if len(noHistory) > 0 {
		return out, skipf("incident %s: no baseline history for %s", inc.ID, strings.Join(noHistory, ", "))
	}
	return out, nil
}

// baseline compares count against the channel's activity in the trailing
// history before windowStart, split into window-length buckets.
func (m *Temporal) baseline(win Window, channel string, windowStart time.Time, count int) (baseline, error) {
	length := m.cfg.Before + m.cfg.After
	buckets := int(m.cfg.Baseline / length)
	if buckets < 1 {
		buckets = 1
	}

	counts := make([]float64, buckets)
	var total float64
	for i := range buckets {
		hi := windowStart.Add(-time.Duration(i) * length)
		lo := hi.Add(-length)
		n, err := win.CountSignals(channel, lo, hi)
		if err != nil {
			return baseline{}, err
		}
		counts[i] = float64(n)
		total += float64(n)
	}
	if total == 0 {
		return baseline{}, skipf("channel %s has no history", channel)
	}

	mean := total / float64(buckets)
	var sq float64
	for _, c := range counts {
		sq += (c - mean) * (c - mean)
	}
	std := math.Sqrt(sq / float64(buckets))

	var z float64
	switch {
	case std > 0:
		z = (float64(count) - mean) / std
	case count > 0:
		// A perfectly flat history makes any activity infinitely anomalous.
		z = m.cfg.ZCap
	}
	return baseline{mean: round6(mean), std: round6(std), count: count, z: round6(z)}, nil
}
