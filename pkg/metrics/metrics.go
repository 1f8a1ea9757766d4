// Package metrics provides Prometheus metrics for uploads, import jobs and the sweeper.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Import outcomes.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Job delivery results.
const (
	JobAcked    = "acked"
	JobRetry    = "retry"
	JobPoison   = "poison"
	JobDropped  = "dropped"
	JobEnqueued = "enqueued"
)

// Metrics contains all Prometheus metrics of the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UploadsRegistered prometheus.Counter     // Uploads accepted by RegisterUpload
	ImportsTotal      *prometheus.CounterVec // Import runs by outcome
	EntriesImported   prometheus.Counter     // Dataset entries written by imports
	ImportDuration    prometheus.Histogram   // Wall time of an import run
	JobsTotal         *prometheus.CounterVec // Queue deliveries by driver and result
	SweepActions      *prometheus.CounterVec // Sweeper decisions by action

	registry *prometheus.Registry
}

// New creates the engine metrics on a fresh registry that also carries
// the Go runtime and process collectors.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}
	return NewWithRegistry(registry)
}

// NewWithRegistry creates the engine metrics and registers them with registry.
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.UploadsRegistered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evalkit_uploads_registered_total",
		Help: "Total number of dataset file uploads registered",
	})

	m.ImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalkit_imports_total",
			Help: "Total number of import runs by outcome",
		},
		[]string{"outcome"}, // complete, error, skipped
	)

	m.EntriesImported = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evalkit_entries_imported_total",
		Help: "Total number of dataset entries written by imports",
	})

	m.ImportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evalkit_import_duration_seconds",
		Help:    "Time taken to import one uploaded file",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	})

	m.JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalkit_import_jobs_total",
			Help: "Total number of import job queue operations by driver and result",
		},
		[]string{"driver", "result"}, // result: enqueued, acked, retry, poison, dropped
	)

	m.SweepActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evalkit_sweep_actions_total",
			Help: "Total number of uploads acted on by the reconciliation sweeper",
		},
		[]string{"action"}, // requeued, abandoned, timed_out
	)
}

// RecordUploadRegistered counts one registered upload.
func (m *Metrics) RecordUploadRegistered() {
	if m == nil {
		return
	}
	m.UploadsRegistered.Inc()
}

// RecordImport records one import run.
func (m *Metrics) RecordImport(outcome string, entries int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ImportsTotal.WithLabelValues(outcome).Inc()
	if entries > 0 {
		m.EntriesImported.Add(float64(entries))
	}
	if outcome != OutcomeSkipped {
		m.ImportDuration.Observe(duration.Seconds())
	}
}

// RecordJob records one queue operation for driver.
func (m *Metrics) RecordJob(driver, result string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(driver, result).Inc()
}

// RecordSweep records count uploads handled by the sweeper with action.
func (m *Metrics) RecordSweep(action string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.SweepActions.WithLabelValues(action).Add(float64(count))
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.UploadsRegistered.Collect(ch)
	m.ImportsTotal.Collect(ch)
	m.EntriesImported.Collect(ch)
	m.ImportDuration.Collect(ch)
	m.JobsTotal.Collect(ch)
	m.SweepActions.Collect(ch)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.UploadsRegistered.Describe(ch)
	m.ImportsTotal.Describe(ch)
	m.EntriesImported.Describe(ch)
	m.ImportDuration.Describe(ch)
	m.JobsTotal.Describe(ch)
	m.SweepActions.Describe(ch)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
