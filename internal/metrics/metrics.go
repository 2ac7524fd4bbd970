package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atmoworker"

// Pass outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeOutOfBounds = "out_of_bounds"
	OutcomeInvalid     = "invalid"
)

// Recorder records worker metrics.
type Recorder struct {
	registry  *prometheus.Registry
	passes    *prometheus.CounterVec
	roundTrip prometheus.Histogram
	budget    prometheus.Gauge
	state     prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Iteration passes completed, by outcome.",
		}, []string{"outcome"}),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_roundtrip_seconds",
			Help:      "Time from sending a profile to the engine until its spectrum arrives.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		budget: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "iteration_budget",
			Help:      "Number of passes announced by the driver.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current pipeline state (0 setup, 1 handshake, 2 iterating, 3 teardown, 4 done).",
		}),
	}
	for _, outcome := range []string{OutcomeOK, OutcomeOutOfBounds, OutcomeInvalid} {
		r.passes.WithLabelValues(outcome)
	}
	r.registry.MustRegister(
		r.passes, r.roundTrip, r.budget, r.state,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewHostCollector(),
	)
	return r
}

// Registry returns the registry backing r.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Pass counts one pass with the given outcome.
func (r *Recorder) Pass(outcome string) {
	if r == nil {
		return
	}
	r.passes.WithLabelValues(outcome).Inc()
}

// ObserveRoundTrip records one engine round trip.
func (r *Recorder) ObserveRoundTrip(d time.Duration) {
	if r == nil {
		return
	}
	r.roundTrip.Observe(d.Seconds())
}

// SetBudget records the iteration budget.
func (r *Recorder) SetBudget(n int) {
	if r == nil {
		return
	}
	r.budget.Set(float64(n))
}

// SetState records the pipeline state.
func (r *Recorder) SetState(s int) {
	if r == nil {
		return
	}
	r.state.Set(float64(s))
}
