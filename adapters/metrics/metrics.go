// Package metrics provides Prometheus metrics for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitysdk"

// Collector holds every metric the engine reports.
type Collector struct {
	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Session metrics
	SessionsTotal *prometheus.CounterVec

	// Plugin metrics
	PluginStepsTotal *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
// Tests pass a private registry to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of executed requests",
			},
			[]string{"kind", "entity", "outcome"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Request execution duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"kind"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of write sessions by outcome",
			},
			[]string{"outcome"},
		),
		PluginStepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plugin_steps_total",
				Help:      "Total number of plugin step evaluations",
			},
			[]string{"message", "stage", "outcome"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// RecordExecution counts one executed request. Requests rejected before
// their kind is known are labelled "unknown".
func (c *Collector) RecordExecution(kind, entity, outcome string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	c.ExecutionsTotal.WithLabelValues(kind, entity, outcome).Inc()
	c.ExecutionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordSession counts one session outcome.
func (c *Collector) RecordSession(outcome string) {
	c.SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordPluginStep counts one plugin step evaluation.
func (c *Collector) RecordPluginStep(message, stage, outcome string) {
	c.PluginStepsTotal.WithLabelValues(message, stage, outcome).Inc()
}

// RecordConfigReload counts a config reload attempt.
func (c *Collector) RecordConfigReload(err error) {
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.SetToCurrentTime()
}
