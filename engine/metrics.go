package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus-compatible counters and histograms for
// engine execution: transitions, latency, visit counts, forced
// terminations, and active runs.
type Metrics struct {
	transitions   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	visitCount    *prometheus.GaugeVec
	forcedTerm    prometheus.Counter
	activeRuns    prometheus.Gauge
}

// NewMetrics registers all engine metrics with registry (use
// prometheus.DefaultRegisterer for the global registry, or a dedicated
// prometheus.NewRegistry() for test isolation).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statewalk",
			Name:      "transitions_total",
			Help:      "Count of transition actions invoked, labeled by outcome.",
		}, []string{"state", "outcome"}), // outcome: success, failure
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "statewalk",
			Name:      "transition_latency_ms",
			Help:      "Transition action execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		}, []string{"state"}),
		visitCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "statewalk",
			Name:      "state_visit_count",
			Help:      "Most recently observed visit count for a state, across runs.",
		}, []string{"state"}),
		forcedTerm: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "statewalk",
			Name:      "forced_terminations_total",
			Help:      "Count of runs force-terminated after exhausting a visit ceiling.",
		}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "statewalk",
			Name:      "active_runs",
			Help:      "Number of Run calls currently executing in this process.",
		}),
	}
}

func (m *Metrics) recordTransition(state string, ok bool, latency time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.transitions.WithLabelValues(state, outcome).Inc()
	m.latency.WithLabelValues(state).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) recordVisitCount(state string, count int) {
	if m == nil {
		return
	}
	m.visitCount.WithLabelValues(state).Set(float64(count))
}

func (m *Metrics) recordForcedTermination() {
	if m == nil {
		return
	}
	m.forcedTerm.Inc()
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

func (m *Metrics) runFinished() {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
}
