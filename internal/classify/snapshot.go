package classify

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/abelbrown/sightline/internal/model"
)

// LinkedSignal is a signal reached from the incident in the evidence graph.
type LinkedSignal struct {
	Signal     model.Signal
	Hops       int
	Confidence float64
	LinkTypes  []model.LinkType
}

// Snapshot is everything a classification reads: the incident and the
// signals in its bounded neighborhood, nearest first.
type Snapshot struct {
	Incident model.Incident
	Signals  []LinkedSignal
}

// Nearest returns the linked signal with the fewest hops, then the highest
// path confidence.
func (s *Snapshot) Nearest() (LinkedSignal, bool) {
	if len(s.Signals) == 0 {
		return LinkedSignal{}, false
	}
	return s.Signals[0], true
}

// snapshot reads the incident and its neighborhood. Neighbors arrive ordered
// by hops then confidence, which Nearest relies on.
func (e *Engine) snapshot(inc model.Incident) (*Snapshot, error) {
	snap := &Snapshot{Incident: inc}
	for n := range e.graph.Neighbors(inc.Ref(), e.cfg.Traversal()) {
		if n.Entity.Kind != model.KindSignal {
			continue
		}
		sig, err := e.store.GetSignal(n.Entity.ID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load neighbor %s: %w", n.Entity, err)
		}
		snap.Signals = append(snap.Signals, LinkedSignal{
			Signal:     sig,
			Hops:       n.Hops,
			Confidence: n.Confidence,
			LinkTypes:  n.LinkTypes,
		})
	}
	return snap, nil
}

// excerpt shortens content to at most n runes on a word boundary.
func excerpt(content string, n int) string {
	content = strings.Join(strings.Fields(content), " ")
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	runes := []rune(content)[:n]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
