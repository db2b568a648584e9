// Package metrics exposes Prometheus counters for lifecycle activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradeline"

// Recorder holds the marketplace metrics on a private registry so several
// engines (tests, embedded servers) never collide on the default one.
// A nil *Recorder discards everything.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	events      *prometheus.CounterVec
	decisions   *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

func New() *Recorder {
	r := &Recorder{registry: prometheus.NewRegistry()}
	r.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "project_transitions_total",
		Help:      "Project lifecycle transitions applied.",
	}, []string{"from", "to"})
	r.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_events_total",
		Help:      "Ledger events appended by category.",
	}, []string{"category"})
	r.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "application_decisions_total",
		Help:      "Application status changes by resulting status.",
	}, []string{"status"})
	r.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Failed engine operations by error kind.",
	}, []string{"operation", "kind"})
	r.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Engine operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	r.registry.MustRegister(r.transitions, r.events, r.decisions, r.errors, r.duration)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) EventAppended(category string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(category).Inc()
}

func (r *Recorder) Decision(status string) {
	if r == nil {
		return
	}
	r.decisions.WithLabelValues(status).Inc()
}

func (r *Recorder) Error(operation, kind string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(operation, kind).Inc()
}

// Observe records the time elapsed since start for operation.
func (r *Recorder) Observe(operation string, start time.Time) {
	if r == nil {
		return
	}
	r.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
