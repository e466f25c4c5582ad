// Package metrics exposes sightline's Prometheus instrumentation.
//
// A nil *Metrics is valid and records nothing, so components take one
// optionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sightline"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	linksCreated    *prometheus.CounterVec
	linksExisting   *prometheus.CounterVec
	linkConfidence  *prometheus.HistogramVec
	matcherSkips    *prometheus.CounterVec
	passDuration    prometheus.Histogram
	passes          *prometheus.CounterVec
	entities        prometheus.Counter
	classifications *prometheus.CounterVec
	sourceUtility   *prometheus.GaugeVec
	graphLinks      prometheus.Gauge
}

// New registers the sightline collectors on reg. A nil reg gets a fresh
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		linksCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "links_created_total",
			Help:      "Links added to the evidence graph, by link type.",
		}, []string{"type"}),
		linksExisting: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "links_existing_total",
			Help:      "Links a matcher re-derived that were already in the graph, by link type.",
		}, []string{"type"}),
		linkConfidence: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "link_confidence",
			Help:      "Confidence of newly created links.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"type"}),
		matcherSkips: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "matcher_skips_total",
			Help:      "Entities a matcher could not evaluate, by matcher.",
		}, []string{"matcher"}),
		passDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pass",
			Name:      "duration_seconds",
			Help:      "Wall time of correlation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pass",
			Name:      "total",
			Help:      "Correlation passes by outcome (ok, error, in_flight).",
		}, []string{"outcome"}),
		entities: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pass",
			Name:      "entities_processed_total",
			Help:      "Entities evaluated by correlation passes.",
		}),
		classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classify",
			Name:      "classifications_total",
			Help:      "Incident classifications, by resulting class.",
		}, []string{"class"}),
		sourceUtility: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "priority",
			Name:      "source_utility",
			Help:      "Current utility score (0-100) of each monitored source.",
		}, []string{"source"}),
		graphLinks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "links",
			Help:      "Links currently held in the evidence graph.",
		}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// LinkCreated records a new link of the given type.
func (m *Metrics) LinkCreated(linkType string, confidence float64) {
	if m == nil {
		return
	}
	m.linksCreated.WithLabelValues(linkType).Inc()
	m.linkConfidence.WithLabelValues(linkType).Observe(confidence)
}

// LinkExisting records a link that was already present.
func (m *Metrics) LinkExisting(linkType string) {
	if m == nil {
		return
	}
	m.linksExisting.WithLabelValues(linkType).Inc()
}

// MatcherSkipped records a skipped (matcher, entity) evaluation.
func (m *Metrics) MatcherSkipped(matcher string) {
	if m == nil {
		return
	}
	m.matcherSkips.WithLabelValues(matcher).Inc()
}

// PassFinished records a completed or failed pass.
func (m *Metrics) PassFinished(d time.Duration, entities int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(d.Seconds())
	m.entities.Add(float64(entities))
}

// PassRejected records a pass refused because another was in flight.
func (m *Metrics) PassRejected() {
	if m == nil {
		return
	}
	m.passes.WithLabelValues("in_flight").Inc()
}

// Classified records a classification outcome.
func (m *Metrics) Classified(class string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(class).Inc()
}

// SourceUtility sets the utility gauge for a source.
func (m *Metrics) SourceUtility(source string, score float64) {
	if m == nil {
		return
	}
	m.sourceUtility.WithLabelValues(source).Set(score)
}

// GraphLinks sets the evidence graph size gauge.
func (m *Metrics) GraphLinks(n int) {
	if m == nil {
		return
	}
	m.graphLinks.Set(float64(n))
}
