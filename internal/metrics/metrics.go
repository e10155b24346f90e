// Package metrics exposes job registry activity as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tendant/simple-imageflow/internal/job"
)

// Collector turns registry lifecycle events into metrics.
type Collector struct {
	live            prometheus.Gauge
	created         prometheus.Counter
	destroyed       prometheus.Counter
	errors          *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imageflow",
			Name:      "jobs_live",
			Help:      "Jobs currently held in the registry.",
		}),
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imageflow",
			Name:      "jobs_created_total",
			Help:      "Jobs created.",
		}),
		destroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imageflow",
			Name:      "jobs_destroyed_total",
			Help:      "Jobs destroyed, including those released on shutdown.",
		}),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "imageflow",
				Name:      "operation_errors_total",
				Help:      "Failed registry operations by operation and error code.",
			},
			[]string{"op", "code"},
		),
		messageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "imageflow",
				Name:      "message_duration_seconds",
				Help:      "Engine message duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	for _, col := range []prometheus.Collector{c.live, c.created, c.destroyed, c.errors, c.messageDuration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// OnJobEvent implements job.Observer.
func (c *Collector) OnJobEvent(e job.Event) {
	switch e.Type {
	case job.EventCreated:
		c.created.Inc()
		c.live.Inc()
	case job.EventDestroyed:
		c.destroyed.Inc()
		c.live.Dec()
	case job.EventMessage:
		c.messageDuration.WithLabelValues(e.Method).Observe(e.Duration.Seconds())
	case job.EventFailed:
		c.errors.WithLabelValues(e.Op, job.Code(e.Err)).Inc()
	}
}
