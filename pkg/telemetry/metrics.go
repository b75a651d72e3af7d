package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for reconciliation runs.
//
// endstate is a one-shot process, so metrics are not served over HTTP.
// They are written once per run with WriteTextfile for the node-exporter
// textfile collector.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	// Per-app metrics
	appResults *prometheus.CounterVec

	// Drift metrics
	driftApps *prometheus.GaugeVec

	// State metrics
	stateWrites *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by command and outcome",
			},
			[]string{"command", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runs in seconds",
				Buckets:   buckets,
			},
			[]string{"command"},
		),

		appResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "app_results_total",
				Help:      "Per-app outcomes by driver, status and reason",
			},
			[]string{"driver", "status", "reason"},
		),

		driftApps: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drift_apps",
				Help:      "Apps found out of line with the manifest by the last verify",
			},
			[]string{"kind"},
		),

		stateWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_writes_total",
				Help:      "State document writes by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.runs,
		m.runDuration,
		m.appResults,
		m.driftApps,
		m.stateWrites,
	)

	return m, nil
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(command, status string, duration time.Duration) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(command, status).Inc()
	m.runDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordAppResult records one app's outcome.
func (m *Metrics) RecordAppResult(driver, status, reason string) {
	if m == nil || m.appResults == nil {
		return
	}
	m.appResults.WithLabelValues(driver, status, reason).Inc()
}

// SetDrift sets the number of apps of a drift kind (missing, extra,
// version_mismatch).
func (m *Metrics) SetDrift(kind string, count int) {
	if m == nil || m.driftApps == nil {
		return
	}
	m.driftApps.WithLabelValues(kind).Set(float64(count))
}

// RecordStateWrite records a state write attempt.
func (m *Metrics) RecordStateWrite(err error) {
	if m == nil || m.stateWrites == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.stateWrites.WithLabelValues(result).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// WriteTextfile writes all metrics to path in the Prometheus text format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
