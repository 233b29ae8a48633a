// Package metrics exports dispatch call outcomes as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/policymesh/core"
)

// Options configures a Collector.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "policymesh".
	Namespace string
	// Registerer receives the collectors. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Buckets of the call duration histogram. Defaults to prometheus.DefBuckets.
	Buckets []float64
}

// Collector is a core.Observer recording a counter and a duration histogram
// per policy and outcome.
type Collector struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ core.Observer = (*Collector)(nil)

// New creates a Collector and registers its metrics.
func New(optFns ...func(o *Options)) (*Collector, error) {
	opts := Options{
		Namespace:  "policymesh",
		Registerer: prometheus.DefaultRegisterer,
		Buckets:    prometheus.DefBuckets,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: opts.Namespace,
				Subsystem: "dispatch",
				Name:      "calls_total",
				Help:      "Dispatched policy calls by outcome.",
			},
			[]string{"policy", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: opts.Namespace,
				Subsystem: "dispatch",
				Name:      "call_duration_seconds",
				Help:      "Policy call duration in seconds.",
				Buckets:   opts.Buckets,
			},
			[]string{"policy", "outcome"},
		),
	}

	for _, m := range []prometheus.Collector{c.calls, c.duration} {
		if err := opts.Registerer.Register(m); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// ObserveCall implements core.Observer.
func (c *Collector) ObserveCall(policy string, outcome core.CallOutcome, elapsed time.Duration) {
	c.calls.WithLabelValues(policy, string(outcome)).Inc()
	c.duration.WithLabelValues(policy, string(outcome)).Observe(elapsed.Seconds())
}
