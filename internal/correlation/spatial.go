package correlation

import (
	"context"
	"time"

	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

// Spatial links entities observed close together in both space and time.
type Spatial struct {
	cfg SpatialConfig
}

// NewSpatial returns a spatial matcher.
func NewSpatial(cfg SpatialConfig) *Spatial { return &Spatial{cfg: cfg} }

func (m *Spatial) Name() string         { return "spatial" }
func (m *Spatial) Type() model.LinkType { return model.LinkSpatial }

func (m *Spatial) Match(ctx context.Context, subject model.Entity, win Window) ([]model.Link, error) {
	loc, ok := subject.Location()
	if !ok {
		return nil, nil
	}
	if !loc.Valid() {
		return nil, skipf("%s has invalid coordinates", subject.Ref())
	}
	ts := subject.Timestamp()
	if ts.IsZero() {
		return nil, skipf("%s has no timestamp", subject.Ref())
	}

	start, end := ts.Add(-m.cfg.MaxDelta), ts.Add(m.cfg.MaxDelta)
	box := model.BBoxAround(loc, m.cfg.MaxDistanceKm)
	self := subject.Ref()

	var out []model.Link
	signals, err := collect(ctx, win.QuerySignals(store.SignalQuery{Start: start, End: end, BBox: &box}))
	if err != nil {
		return nil, err
	}
	for _, s := range signals {
		if s.Ref() == self {
			continue
		}
		if l, ok := m.link(self, loc, ts, s.Ref(), *s.Location, s.Timestamp); ok {
			out = append(out, l)
		}
	}

	// Incident-to-incident proximity is not a link; only signals look for incidents.
	if subject.Signal != nil {
		incidents, err := collect(ctx, win.QueryIncidents(start, end, &box))
		if err != nil {
			return nil, err
		}
		for _, inc := range incidents {
			if l, ok := m.link(self, loc, ts, inc.Ref(), inc.Location, inc.Timestamp); ok {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

func (m *Spatial) link(a model.EntityRef, aLoc model.GeoPoint, aTS time.Time, b model.EntityRef, bLoc model.GeoPoint, bTS time.Time) (model.Link, bool) {
	d := round6(model.Haversine(aLoc, bLoc))
	dt := absDelta(aTS, bTS)
	if d >= m.cfg.MaxDistanceKm || dt >= m.cfg.MaxDelta {
		return model.Link{}, false
	}
	conf := (1 - d/m.cfg.MaxDistanceKm) * decay(dt, m.cfg.MaxDelta)
	ev := model.Evidence{
		"distance_km":      d,
		"time_delta_hours": round6(dt.Hours()),
	}
	return model.NewLink(a, b, model.LinkSpatial, conf, ev, time.Time{}), true
}
