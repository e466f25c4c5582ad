// Package model defines the entities sightline correlates: incidents,
// signals, links between them, and the derived classification view.
//
// Incidents and signals are append-only once ingested. The classification
// fields on Incident are the only in-place mutable state and are written
// exclusively by the classification engine.
package model

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EntityKind distinguishes the two ingested record types.
type EntityKind string

const (
	KindIncident EntityKind = "incident"
	KindSignal   EntityKind = "signal"
)

// EntityRef is the typed key of an entity. It is the vertex key of the
// evidence graph.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

// String returns "kind:id".
func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// IsZero reports whether the ref is unset.
func (r EntityRef) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// ParseEntityRef parses "kind:id".
func ParseEntityRef(s string) (EntityRef, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return EntityRef{}, fmt.Errorf("invalid entity ref %q", s)
	}
	switch k := EntityKind(parts[0]); k {
	case KindIncident, KindSignal:
		return EntityRef{Kind: k, ID: parts[1]}, nil
	default:
		return EntityRef{}, fmt.Errorf("unknown entity kind %q", parts[0])
	}
}

// IncidentRef returns the ref for an incident id.
func IncidentRef(id string) EntityRef { return EntityRef{Kind: KindIncident, ID: id} }

// SignalRef returns the ref for a signal id.
func SignalRef(id string) EntityRef { return EntityRef{Kind: KindSignal, ID: id} }

// OperationalClass is the inferred category of actor behind an incident.
type OperationalClass string

const (
	ClassUnclassified       OperationalClass = "unclassified"
	ClassStateActor         OperationalClass = "state_actor"
	ClassRecruitedLocal     OperationalClass = "recruited_local"
	ClassAuthorizedFriendly OperationalClass = "authorized_friendly"
	ClassUnknown            OperationalClass = "unknown"
)

// Valid reports whether c is one of the known classes.
func (c OperationalClass) Valid() bool {
	switch c {
	case ClassUnclassified, ClassStateActor, ClassRecruitedLocal, ClassAuthorizedFriendly, ClassUnknown:
		return true
	}
	return false
}

// LaunchZone is the area an incident's equipment could have been launched from.
type LaunchZone struct {
	Center   GeoPoint `json:"center"`
	RadiusKm float64  `json:"radius_km"`
}

// Incident is a physical-world observation (a sighting report).
type Incident struct {
	ID                 string
	ExternalID         string
	Timestamp          time.Time
	Location           GeoPoint
	Description        string
	Equipment          string  // free-text drone/equipment descriptor
	EquipmentRangeKm   float64 // 0 = derive from Equipment
	Confidence         float64
	AuthorizedExercise bool

	// Classification state, written by the classification engine only.
	Class        OperationalClass
	Assessment   string
	LaunchZone   *LaunchZone
	ClassifiedAt time.Time

	IngestedAt time.Time
}

// Ref returns the incident's graph key.
func (i Incident) Ref() EntityRef { return IncidentRef(i.ID) }

// Validate checks required fields.
func (i Incident) Validate() error {
	if strings.TrimSpace(i.ExternalID) == "" {
		return fmt.Errorf("%w: incident external id is required", ErrInvalidEntity)
	}
	if i.Timestamp.IsZero() {
		return fmt.Errorf("%w: incident %s has no timestamp", ErrInvalidEntity, i.ExternalID)
	}
	if !i.Location.Valid() {
		return fmt.Errorf("%w: incident %s has invalid coordinates", ErrInvalidEntity, i.ExternalID)
	}
	if i.Confidence < 0 || i.Confidence > 1 || math.IsNaN(i.Confidence) {
		return fmt.Errorf("%w: incident %s confidence %v outside [0,1]", ErrInvalidEntity, i.ExternalID, i.Confidence)
	}
	if i.EquipmentRangeKm < 0 {
		return fmt.Errorf("%w: incident %s has negative equipment range", ErrInvalidEntity, i.ExternalID)
	}
	return nil
}

// rangeRe matches "120km", "120 km", "1.5 km".
var rangeRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*km\b`)

// RangeKm returns the explicit equipment range, or the largest "<n> km"
// figure in the equipment descriptor. Zero means unknown.
func (i Incident) RangeKm() float64 {
	if i.EquipmentRangeKm > 0 {
		return i.EquipmentRangeKm
	}
	var best float64
	for _, m := range rangeRe.FindAllStringSubmatch(i.Equipment, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil && v > best {
			best = v
		}
	}
	return best
}

// SignalKind discriminates Signal payloads.
type SignalKind string

const (
	SignalPost        SignalKind = "post"
	SignalTransaction SignalKind = "transaction"
	SignalForumEntry  SignalKind = "forum_entry"
)

// Valid reports whether k is a known kind.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalPost, SignalTransaction, SignalForumEntry:
		return true
	}
	return false
}

// Signal is a non-physical indicator: a post, a forum entry or a transaction.
type Signal struct {
	ID         string
	ExternalID string
	Version    int
	Kind       SignalKind
	Timestamp  time.Time
	Channel    string // monitored source identifier
	Content    string
	Scores     Scores
	Location   *GeoPoint

	// Transaction payload.
	Amount   float64
	Currency string

	// External ids of signals this one forwards or replies to.
	RefersTo []string

	IngestedAt time.Time
}

// Ref returns the signal's graph key.
func (s Signal) Ref() EntityRef { return SignalRef(s.ID) }

// Validate checks required fields and normalizes nothing.
func (s Signal) Validate() error {
	if strings.TrimSpace(s.ExternalID) == "" {
		return fmt.Errorf("%w: signal external id is required", ErrInvalidEntity)
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%w: signal %s has unknown kind %q", ErrInvalidEntity, s.ExternalID, s.Kind)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: signal %s has no timestamp", ErrInvalidEntity, s.ExternalID)
	}
	if strings.TrimSpace(s.Channel) == "" {
		return fmt.Errorf("%w: signal %s has no channel", ErrInvalidEntity, s.ExternalID)
	}
	if s.Location != nil && !s.Location.Valid() {
		return fmt.Errorf("%w: signal %s has invalid coordinates", ErrInvalidEntity, s.ExternalID)
	}
	if s.Kind == SignalTransaction && !(s.Amount > 0) {
		return fmt.Errorf("%w: transaction %s needs a positive amount", ErrInvalidEntity, s.ExternalID)
	}
	if err := s.Scores.Validate(); err != nil {
		return fmt.Errorf("%w: signal %s: %v", ErrInvalidEntity, s.ExternalID, err)
	}
	return nil
}

// Entity is either an Incident or a Signal. Exactly one field is set.
type Entity struct {
	Incident *Incident
	Signal   *Signal
}

// Ref returns the key of whichever entity is set.
func (e Entity) Ref() EntityRef {
	switch {
	case e.Incident != nil:
		return e.Incident.Ref()
	case e.Signal != nil:
		return e.Signal.Ref()
	}
	return EntityRef{}
}

// Timestamp returns the observation time of the entity.
func (e Entity) Timestamp() time.Time {
	switch {
	case e.Incident != nil:
		return e.Incident.Timestamp
	case e.Signal != nil:
		return e.Signal.Timestamp
	}
	return time.Time{}
}

// Location returns the geographic hint of the entity, if any.
func (e Entity) Location() (GeoPoint, bool) {
	switch {
	case e.Incident != nil:
		return e.Incident.Location, true
	case e.Signal != nil && e.Signal.Location != nil:
		return *e.Signal.Location, true
	}
	return GeoPoint{}, false
}
