package classify

import (
	"errors"
	"fmt"

	"github.com/abelbrown/sightline/internal/graph"
)

// Config tunes classification rules and recommendation scoring.
type Config struct {
	// MilitaryKeywords mark an equipment descriptor as a military signature.
	MilitaryKeywords []string `yaml:"military_keywords"`
	// PaymentKeywords mark post content as offering payment, alongside
	// currency amounts which are always recognised.
	PaymentKeywords []string `yaml:"payment_keywords"`

	// Neighborhood bounds the evidence considered for an incident.
	MaxHops       int     `yaml:"max_hops"`
	MinConfidence float64 `yaml:"min_confidence"`

	Weights Weights `yaml:"weights"`
}

// Weights are the recommendation score coefficients.
type Weights struct {
	Effectiveness float64 `yaml:"effectiveness"`
	Cost          float64 `yaml:"cost"`
	Range         float64 `yaml:"range"`
	// RangeShortfall is the range factor for a measure that does not cover
	// the equipment range.
	RangeShortfall float64 `yaml:"range_shortfall"`
}

// DefaultConfig returns the standard rule keywords and weights.
func DefaultConfig() Config {
	return Config{
		MilitaryKeywords: []string{
			"military", "military-grade", "long-range", "state-issued",
			"loitering munition", "shahed", "orlan", "geran",
		},
		PaymentKeywords: []string{
			"bounty", "reward", "paid", "pay", "payment", "cash", "earn", "fee",
		},
		MaxHops:       3,
		MinConfidence: 0.5,
		Weights: Weights{
			Effectiveness:  0.5,
			Cost:           0.3,
			Range:          0.2,
			RangeShortfall: 0.5,
		},
	}
}

// Traversal returns the graph options for an incident neighborhood.
func (c Config) Traversal() graph.Options {
	return graph.Options{MaxHops: c.MaxHops, MinConfidence: c.MinConfidence}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	var errs []error
	if len(c.MilitaryKeywords) == 0 {
		errs = append(errs, errors.New("classify military_keywords must not be empty"))
	}
	if c.MaxHops < 1 {
		errs = append(errs, fmt.Errorf("classify max_hops must be at least 1, got %d", c.MaxHops))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		errs = append(errs, errors.New("classify min_confidence must be in [0,1]"))
	}
	w := c.Weights
	if w.Effectiveness < 0 || w.Cost < 0 || w.Range < 0 || w.RangeShortfall < 0 || w.RangeShortfall > 1 {
		errs = append(errs, errors.New("classify weights must be non-negative and range_shortfall at most 1"))
	}
	return errors.Join(errs...)
}
