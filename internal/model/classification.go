package model

import (
	"slices"
	"time"
)

// CounterMeasure is a catalog entry describing a deployable response.
type CounterMeasure struct {
	Name                  string             `yaml:"name" json:"name"`
	Type                  string             `yaml:"type" json:"type"`
	RangeKm               float64            `yaml:"range_km" json:"range_km"`
	Cost                  float64            `yaml:"cost" json:"cost"`
	Mobile                bool               `yaml:"mobile" json:"mobile"`
	RequiresAuthorization bool               `yaml:"requires_authorization" json:"requires_authorization"`
	EffectiveAgainst      []OperationalClass `yaml:"effective_against" json:"effective_against"`
	Effectiveness         float64            `yaml:"effectiveness" json:"effectiveness"`
}

// Targets reports whether the measure is tagged as effective against c.
func (c CounterMeasure) Targets(class OperationalClass) bool {
	return slices.Contains(c.EffectiveAgainst, class)
}

// Tier is a recommendation priority bucket.
type Tier string

const (
	TierCritical Tier = "CRITICAL"
	TierHigh     Tier = "HIGH"
	TierMedium   Tier = "MEDIUM"
	TierLow      Tier = "LOW"
)

// Recommendation is one ranked countermeasure for an incident.
type Recommendation struct {
	CounterMeasure string
	Tier           Tier
	Score          float64
	Effectiveness  float64
	Reasoning      string
	Deploy         *GeoPoint // nil for non-mobile measures
	Informational  bool
}

// Classification is the derived view the classification engine produces
// for an incident.
type Classification struct {
	IncidentID      string
	Class           OperationalClass
	Assessment      string
	Rule            string
	LaunchZone      *LaunchZone
	Recommendations []Recommendation
	ClassifiedAt    time.Time
}
