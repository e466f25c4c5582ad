package correlation

import (
	"context"
	"errors"
	"time"

	"github.com/abelbrown/sightline/internal/model"
)

// Social links a signal to the signals it forwards or replies to. Chains of
// forwards across channels become paths in the evidence graph.
type Social struct {
	cfg SocialConfig
}

// NewSocial returns a social matcher.
func NewSocial(cfg SocialConfig) *Social { return &Social{cfg: cfg} }

func (m *Social) Name() string         { return "social" }
func (m *Social) Type() model.LinkType { return model.LinkSocial }

func (m *Social) Match(ctx context.Context, subject model.Entity, win Window) ([]model.Link, error) {
	if subject.Signal == nil {
		return nil, nil
	}
	sig := *subject.Signal

	var out []model.Link
	// Outbound: signals this one refers to. A target not yet ingested is
	// linked when it arrives, from the inbound side.
	for _, ext := range sig.RefersTo {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target, err := win.SignalByExternalID(ext)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if l, ok := m.link(sig, target); ok {
			out = append(out, l)
		}
	}

	// Inbound: signals that refer to this one.
	referrers, err := win.SignalsReferring(sig.ExternalID)
	if err != nil {
		return nil, err
	}
	for _, r := range referrers {
		if l, ok := m.link(r, sig); ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// link builds the link from a referring signal to its target. Confidence is
// scaled by the referrer's credibility when it was scored.
func (m *Social) link(from, to model.Signal) (model.Link, bool) {
	if from.ID == to.ID {
		return model.Link{}, false
	}
	conf := m.cfg.Confidence
	ev := model.Evidence{}
	if c := from.Scores.Credibility; c != nil {
		conf *= *c
		ev["credibility"] = round6(*c)
	}
	return model.NewLink(from.Ref(), to.Ref(), model.LinkSocial, conf, ev, time.Time{}), true
}
