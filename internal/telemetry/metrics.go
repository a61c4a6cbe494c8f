// Package telemetry exposes Prometheus collectors for executor and pricing activity.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/wastespectre/internal/model"
)

// Task outcomes recorded in wastespectre_tasks_total.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"
)

// Metrics groups the collectors for one process. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	executions   *prometheus.CounterVec
	priceLookups *prometheus.CounterVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wastespectre_tasks_total",
			Help: "Analyzer/region tasks by outcome.",
		}, []string{"analyzer", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wastespectre_task_duration_seconds",
			Help:    "Wall-clock duration of finished analyzer tasks.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"analyzer"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wastespectre_executions_total",
			Help: "Executor runs by whether the result was partial.",
		}, []string{"partial"}),
		priceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wastespectre_price_lookups_total",
			Help: "Resolved price quotes by source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(m.tasks, m.taskDuration, m.executions, m.priceLookups)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTask records a task outcome. Duration is only observed for tasks that ran.
func (m *Metrics) ObserveTask(analyzer, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(analyzer, outcome).Inc()
	if outcome == OutcomeCompleted || outcome == OutcomeFailed {
		m.taskDuration.WithLabelValues(analyzer).Observe(d.Seconds())
	}
}

// ObserveExecution records one finished executor run.
func (m *Metrics) ObserveExecution(partial bool) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(fmt.Sprintf("%t", partial)).Inc()
}

// ObservePriceLookup records the source a price quote was resolved from.
func (m *Metrics) ObservePriceLookup(source model.PriceSource) {
	if m == nil {
		return
	}
	m.priceLookups.WithLabelValues(string(source)).Inc()
}

// WriteTextfile writes all collectors in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
