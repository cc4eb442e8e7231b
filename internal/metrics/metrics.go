// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package metrics records lifecycle operations for node-exporter's
// textfile collector.
package metrics

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/webapp-demo/envctl/core/status"
)

const metricsNamespace = "envctl"

// Outcomes of an operation.
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeFailure = "failure"
)

// Collector is a prometheus.Collector that collects metrics about
// lifecycle operations.
type Collector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	state      *prometheus.GaugeVec
	deleted    *prometheus.CounterVec
	cost       *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "The number of lifecycle operations run.",
			}, []string{"operation", "environment", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "The time taken by lifecycle operations.",
				Buckets:   []float64{1, 10, 60, 300, 600, 1200, 1800, 3600},
			}, []string{"operation", "environment"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "deployment_state",
				Help:      "1 for the current deployment state of each environment.",
			}, []string{"environment", "state"},
		),
		deleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deleted_resources_total",
				Help:      "The number of cloud resources deleted by cleanups.",
			}, []string{"environment"},
		),
		cost: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "cost_usd",
				Help:      "The last observed or estimated cost of each environment.",
			}, []string{"environment", "source"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.operations.Describe(ch)
	c.duration.Describe(ch)
	c.state.Describe(ch)
	c.deleted.Describe(ch)
	c.cost.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.operations.Collect(ch)
	c.duration.Collect(ch)
	c.state.Collect(ch)
	c.deleted.Collect(ch)
	c.cost.Collect(ch)
}

// ObserveOperation records one finished operation.
func (c *Collector) ObserveOperation(operation, env, outcome string, d time.Duration) {
	c.operations.WithLabelValues(operation, env, outcome).Inc()
	c.duration.WithLabelValues(operation, env).Observe(d.Seconds())
}

// SetState marks st as the current state of env.
func (c *Collector) SetState(env string, st status.Status) {
	for _, s := range status.All {
		v := 0.0
		if s == st {
			v = 1
		}
		c.state.WithLabelValues(env, string(s)).Set(v)
	}
}

// AddDeleted counts resources deleted from env.
func (c *Collector) AddDeleted(env string, n int) {
	if n > 0 {
		c.deleted.WithLabelValues(env).Add(float64(n))
	}
}

// SetCost records the cost of env from source.
func (c *Collector) SetCost(env, source string, amount float64) {
	c.cost.WithLabelValues(env, source).Set(amount)
}

// WriteTextfile writes every metric of c to path in the text exposition
// format, replacing the file atomically.
func (c *Collector) WriteTextfile(path string) error {
	registry := prometheus.NewPedanticRegistry()
	if err := registry.Register(c); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(prometheus.WriteToTextfile(path, registry), "writing metrics to %q", path)
}
