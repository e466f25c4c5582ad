package correlation

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the matcher heuristics. Every threshold is a tunable default,
// not a validated constant.
type Config struct {
	// Workers bounds concurrent (entity, matcher) evaluations.
	Workers    int              `yaml:"workers"`
	Temporal   TemporalConfig   `yaml:"temporal"`
	Spatial    SpatialConfig    `yaml:"spatial"`
	Linguistic LinguisticConfig `yaml:"linguistic"`
	Financial  FinancialConfig  `yaml:"financial"`
	Social     SocialConfig     `yaml:"social"`
}

// TemporalConfig tunes activity-anomaly matching.
type TemporalConfig struct {
	Before             time.Duration `yaml:"before"`   // window opens this long before the incident
	After              time.Duration `yaml:"after"`    // and closes this long after
	Baseline           time.Duration `yaml:"baseline"` // trailing history before the window
	ZThreshold         float64       `yaml:"z_threshold"`
	ZScale             float64       `yaml:"z_scale"` // confidence = min(z/ZScale, 1)
	ZCap               float64       `yaml:"z_cap"`   // z when the baseline has zero variance
	MaxLinksPerChannel int           `yaml:"max_links_per_channel"`
}

// SpatialConfig tunes proximity matching.
type SpatialConfig struct {
	MaxDistanceKm float64       `yaml:"max_distance_km"`
	MaxDelta      time.Duration `yaml:"max_delta"`
}

// LinguisticConfig tunes suspicion-score matching.
type LinguisticConfig struct {
	MinSuspicion float64       `yaml:"min_suspicion"`
	MaxDelta     time.Duration `yaml:"max_delta"`
}

// FinancialConfig tunes transaction matching.
type FinancialConfig struct {
	MinAmount   float64       `yaml:"min_amount"`
	AmountScale float64       `yaml:"amount_scale"`
	MaxDelta    time.Duration `yaml:"max_delta"`
	// CurrencyRates converts a currency code to the reference currency.
	// Empty means amounts are compared as-is.
	CurrencyRates map[string]float64 `yaml:"currency_rates,omitempty"`
}

// SocialConfig tunes forward/reply matching.
type SocialConfig struct {
	Confidence float64 `yaml:"confidence"`
}

// DefaultConfig returns the standard matcher parameters.
func DefaultConfig() Config {
	return Config{
		Workers: 8,
		Temporal: TemporalConfig{
			Before:             48 * time.Hour,
			After:              24 * time.Hour,
			Baseline:           30 * 24 * time.Hour,
			ZThreshold:         2.5,
			ZScale:             10,
			ZCap:               10,
			MaxLinksPerChannel: 25,
		},
		Spatial: SpatialConfig{
			MaxDistanceKm: 50,
			MaxDelta:      48 * time.Hour,
		},
		Linguistic: LinguisticConfig{
			MinSuspicion: 0.3,
			MaxDelta:     48 * time.Hour,
		},
		Financial: FinancialConfig{
			MinAmount:   1000,
			AmountScale: 10000,
			MaxDelta:    7 * 24 * time.Hour,
		},
		Social: SocialConfig{
			Confidence: 0.7,
		},
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	t := c.Temporal
	if t.Before < 0 || t.After < 0 || t.Before+t.After <= 0 {
		errs = append(errs, errors.New("temporal window must have positive length"))
	}
	if t.Baseline < t.Before+t.After {
		errs = append(errs, errors.New("temporal baseline must cover at least one window"))
	}
	if t.ZScale <= 0 {
		errs = append(errs, errors.New("temporal z_scale must be positive"))
	}
	if t.ZCap <= 0 {
		errs = append(errs, errors.New("temporal z_cap must be positive"))
	}
	if t.MaxLinksPerChannel < 1 {
		errs = append(errs, errors.New("temporal max_links_per_channel must be at least 1"))
	}
	if c.Spatial.MaxDistanceKm <= 0 || c.Spatial.MaxDelta <= 0 {
		errs = append(errs, errors.New("spatial max_distance_km and max_delta must be positive"))
	}
	if c.Linguistic.MaxDelta <= 0 {
		errs = append(errs, errors.New("linguistic max_delta must be positive"))
	}
	if c.Linguistic.MinSuspicion < 0 || c.Linguistic.MinSuspicion > 1 {
		errs = append(errs, errors.New("linguistic min_suspicion must be in [0,1]"))
	}
	if c.Financial.AmountScale <= 0 || c.Financial.MaxDelta <= 0 {
		errs = append(errs, errors.New("financial amount_scale and max_delta must be positive"))
	}
	for cur, rate := range c.Financial.CurrencyRates {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("financial currency rate for %s must be positive", cur))
		}
	}
	if c.Social.Confidence < 0 || c.Social.Confidence > 1 {
		errs = append(errs, errors.New("social confidence must be in [0,1]"))
	}
	return errors.Join(errs...)
}
