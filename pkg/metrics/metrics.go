// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sitegen"

// Recorder holds the collectors for one registry. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	items       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	cache       *prometheus.CounterVec
	runs        *prometheus.CounterVec
	cost        prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_attempts_total",
				Help:      "Completion attempts by model, task and outcome",
			},
			[]string{"model", "task", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_latency_seconds",
				Help:      "Completion latency by model and task",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
			[]string{"model", "task"},
		),
		items: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "items_total",
				Help:      "Filled items by provenance",
			},
			[]string{"provenance"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_transitions_total",
				Help:      "Circuit breaker state changes",
			},
			[]string{"model", "to"},
		),
		cache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Item cache lookups by result",
			},
			[]string{"result"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by success",
			},
			[]string{"success"},
		),
		cost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated spend on completions",
		}),
	}
}

// Attempt records one completed call.
func (r *Recorder) Attempt(model, task string, latency time.Duration, cost float64, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.attempts.WithLabelValues(model, task, outcome).Inc()
	r.latency.WithLabelValues(model, task).Observe(latency.Seconds())
	if cost > 0 {
		r.cost.Add(cost)
	}
}

// Item records the provenance of one filled item.
func (r *Recorder) Item(provenance string) {
	if r == nil {
		return
	}
	r.items.WithLabelValues(provenance).Inc()
}

// CircuitTransition records a breaker state change.
func (r *Recorder) CircuitTransition(model, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(model, to).Inc()
}

// CacheLookup records a cache hit or miss.
func (r *Recorder) CacheLookup(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cache.WithLabelValues(result).Inc()
}

// Run records a finished pipeline run.
func (r *Recorder) Run(success bool) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(strconv.FormatBool(success)).Inc()
}
