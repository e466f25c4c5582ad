package model

import (
	"fmt"
	"math"
)

// Scores are externally computed numeric judgements about a signal's text.
// A nil field means the scorer has not run; matchers that need it skip.
type Scores struct {
	Suspicion   *float64 `json:"suspicion,omitempty"`
	Sentiment   *float64 `json:"sentiment,omitempty"`
	Credibility *float64 `json:"credibility,omitempty"`
}

// Score returns a pointer to v, for building Scores literals.
func Score(v float64) *float64 { return &v }

// NormalizeScore maps a raw score onto [0,1]. Values in [0,1] pass through;
// values in (1,10] are read as a 0-10 scale.
func NormalizeScore(v float64) (float64, error) {
	switch {
	case math.IsNaN(v) || v < 0 || v > 10:
		return 0, fmt.Errorf("score %v outside [0,10]", v)
	case v <= 1:
		return v, nil
	default:
		return v / 10, nil
	}
}

// Normalize returns a copy with every present score mapped onto [0,1].
func (s Scores) Normalize() (Scores, error) {
	var out Scores
	for _, f := range []struct {
		name string
		in   *float64
		out  **float64
	}{
		{"suspicion", s.Suspicion, &out.Suspicion},
		{"sentiment", s.Sentiment, &out.Sentiment},
		{"credibility", s.Credibility, &out.Credibility},
	} {
		if f.in == nil {
			continue
		}
		v, err := NormalizeScore(*f.in)
		if err != nil {
			return Scores{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = &v
	}
	return out, nil
}

// Validate checks that every present score is already in [0,1].
func (s Scores) Validate() error {
	for name, v := range map[string]*float64{
		"suspicion":   s.Suspicion,
		"sentiment":   s.Sentiment,
		"credibility": s.Credibility,
	} {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
			return fmt.Errorf("%s score %v outside [0,1]", name, *v)
		}
	}
	return nil
}

// Equal reports whether both score sets carry the same values.
func (s Scores) Equal(o Scores) bool {
	return eqPtr(s.Suspicion, o.Suspicion) && eqPtr(s.Sentiment, o.Sentiment) && eqPtr(s.Credibility, o.Credibility)
}

func eqPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
