// Package metrics exports command lifecycle metrics to Prometheus.
package metrics

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	command "github.com/goliatone/go-acommand"
)

// Collector counts processed commands by code and terminal status and
// records how long they ran and waited.
type Collector struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	idle      *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// NewCollector builds the collector and registers it with reg. A nil reg
// uses the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer) (*Collector, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "acommand"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "processed_total",
				Help:      "Commands that reached a terminal status.",
			},
			[]string{"code", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Time between execution start and the terminal status.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"code", "status"},
		),
		idle: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "idle_seconds",
				Help:      "Time between command creation and execution start.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"code"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "in_flight",
				Help:      "Commands currently executing.",
			},
		),
	}

	for _, col := range []prometheus.Collector{c.processed, c.duration, c.idle, c.inFlight} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe subscribes the collector to cmd lifecycle events.
func (c *Collector) Observe(cmd *command.Command) {
	var started atomic.Bool

	cmd.On(command.EventExecute, func(cmd *command.Command) {
		started.Store(true)
		c.inFlight.Inc()
		if idle, ok := cmd.IdleTime(); ok {
			c.idle.WithLabelValues(cmd.Code()).Observe(idle.Seconds())
		}
	})

	done := func(cmd *command.Command) {
		if started.CompareAndSwap(true, false) {
			c.inFlight.Dec()
		}
		status := string(cmd.Status())
		c.processed.WithLabelValues(cmd.Code(), status).Inc()
		if d, ok := cmd.Duration(); ok {
			c.duration.WithLabelValues(cmd.Code(), status).Observe(d.Seconds())
		}
	}
	cmd.On(command.EventComplete, done)
	cmd.On(command.EventFail, done)
}
