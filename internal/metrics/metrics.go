// Package metrics holds the Prometheus collectors for the analysis pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bloodwork"

// Metrics groups the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	submissions        prometheus.Counter
	allocations        *prometheus.CounterVec
	allocatorFallbacks *prometheus.CounterVec
	outcomes           *prometheus.CounterVec
	inFlight           prometheus.Gauge
	analysisDuration   prometheus.Histogram
	renderedPages      prometheus.Histogram
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Documents accepted for analysis.",
		}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_allocations_total",
			Help:      "Identifiers issued by the sequence allocator.",
		}, []string{"entity_type"}),
		allocatorFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_fallbacks_total",
			Help:      "Identifiers issued from the timestamp fallback because the counter store failed.",
		}, []string{"entity_type"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_outcomes_total",
			Help:      "Background analyses by terminal status.",
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_in_flight",
			Help:      "Background analyses currently running.",
		}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of a background analysis from start to terminal state.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		renderedPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rendered_pages",
			Help:      "Pages rendered per document.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(
		m.submissions,
		m.allocations,
		m.allocatorFallbacks,
		m.outcomes,
		m.inFlight,
		m.analysisDuration,
		m.renderedPages,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Submitted() {
	if m != nil {
		m.submissions.Inc()
	}
}

func (m *Metrics) Allocated(entityType string) {
	if m != nil {
		m.allocations.WithLabelValues(entityType).Inc()
	}
}

func (m *Metrics) AllocatorFallback(entityType string) {
	if m != nil {
		m.allocatorFallbacks.WithLabelValues(entityType).Inc()
	}
}

// Started marks a background analysis as running.
func (m *Metrics) Started() {
	if m != nil {
		m.inFlight.Inc()
	}
}

// Finished records the terminal status and duration of a background analysis.
func (m *Metrics) Finished(status string, seconds float64) {
	if m != nil {
		m.inFlight.Dec()
		m.outcomes.WithLabelValues(status).Inc()
		m.analysisDuration.Observe(seconds)
	}
}

func (m *Metrics) PagesRendered(n int) {
	if m != nil {
		m.renderedPages.Observe(float64(n))
	}
}
