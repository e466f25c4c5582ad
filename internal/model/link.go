package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LinkType names the matching discipline that produced a link.
type LinkType string

const (
	LinkTemporal   LinkType = "temporal"
	LinkSpatial    LinkType = "spatial"
	LinkLinguistic LinkType = "linguistic"
	LinkFinancial  LinkType = "financial"
	LinkSocial     LinkType = "social"
)

// Evidence is the numeric support a matcher recorded for a link,
// e.g. {"z_score": 3.1, "baseline_mean": 0.4}.
type Evidence map[string]float64

// Fingerprint is a canonical encoding of the evidence values. Two links
// with equal endpoints, type and fingerprint are the same assertion.
func (e Evidence) Fingerprint() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(e[k], 'g', 10, 64))
	}
	return b.String()
}

// Link is a confidence-scored assertion that two entities are related.
// Links are immutable; re-evaluation creates a new Link.
type Link struct {
	ID              string
	A               EntityRef
	B               EntityRef
	Type            LinkType
	Confidence      float64
	Evidence        Evidence
	AutoDetected    bool
	AnalystVerified bool
	CreatedAt       time.Time
}

// LinkKey identifies a link by content rather than by ID.
type LinkKey struct {
	A, B        EntityRef
	Type        LinkType
	Fingerprint string
}

// Key returns the identity used for idempotent writes.
func (l Link) Key() LinkKey {
	return LinkKey{A: l.A, B: l.B, Type: l.Type, Fingerprint: l.Evidence.Fingerprint()}
}

// Other returns the endpoint opposite ref.
func (l Link) Other(ref EntityRef) EntityRef {
	if l.A == ref {
		return l.B
	}
	return l.A
}

// NewLink builds an auto-detected link with canonical endpoint order:
// the incident side first, otherwise the lexically smaller ref first.
func NewLink(a, b EntityRef, typ LinkType, confidence float64, ev Evidence, now time.Time) Link {
	if swapEndpoints(a, b) {
		a, b = b, a
	}
	return Link{
		ID:           uuid.NewString(),
		A:            a,
		B:            b,
		Type:         typ,
		Confidence:   confidence,
		Evidence:     ev,
		AutoDetected: true,
		CreatedAt:    now,
	}
}

func swapEndpoints(a, b EntityRef) bool {
	if a.Kind != b.Kind {
		return b.Kind == KindIncident
	}
	return b.String() < a.String()
}

// Validate checks the link invariants.
func (l Link) Validate() error {
	if l.A.IsZero() || l.B.IsZero() {
		return fmt.Errorf("link %s has an empty endpoint", l.ID)
	}
	if l.A == l.B {
		return fmt.Errorf("link %s is a self-link on %s", l.ID, l.A)
	}
	if math.IsNaN(l.Confidence) || l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("link %s confidence %v outside [0,1]", l.ID, l.Confidence)
	}
	return nil
}

// Verdict is an analyst's judgement on an auto-detected link.
type Verdict string

const (
	VerdictConfirmed     Verdict = "confirmed"
	VerdictFalsePositive Verdict = "false_positive"
)

// SourceUtility is the rolling usefulness score of one monitored source.
type SourceUtility struct {
	SourceID        string
	Score           float64 // 0-100
	LinkedIncidents int
	AvgConfidence   float64
	FalsePositives  int
	UpdatedAt       time.Time
}
