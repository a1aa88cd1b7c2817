// Package metrics exposes operation, drift and repair counters as
// Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rand/docgraph/internal/diagnostics"
	"github.com/rand/docgraph/internal/lifecycle"
)

const namespace = "docgraph"

// Metrics holds the collectors on a private registry. It satisfies both
// lifecycle.Observer and diagnostics.Observer.
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	drift      *prometheus.GaugeVec
	repairs    *prometheus.CounterVec
}

var (
	_ lifecycle.Observer   = (*Metrics)(nil)
	_ diagnostics.Observer = (*Metrics)(nil)
)

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Lifecycle operations by mode and outcome",
			},
			[]string{"op", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Wall time of lifecycle operations",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"op"},
		),
		drift: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drift_findings",
				Help:      "Findings of the most recent scan by category",
			},
			[]string{"category"},
		),
		repairs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "repairs_total",
				Help:      "Findings removed by repair by category",
			},
			[]string{"category"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveOperation(op lifecycle.Mode, status lifecycle.Status, elapsed time.Duration) {
	m.operations.WithLabelValues(string(op), string(status)).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveScan(report *diagnostics.DriftReport) {
	for category, n := range report.Counts() {
		m.drift.WithLabelValues(string(category)).Set(float64(n))
	}
}

func (m *Metrics) ObserveRepair(result *diagnostics.RepairResult) {
	for category, n := range result.Counts {
		m.repairs.WithLabelValues(string(category)).Add(float64(n))
	}
}

// WriteTextfile writes the registry in the text exposition format for a
// node-exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
