package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the build pipeline's Prometheus metrics. They live on a
// private registry so several builders can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration    *prometheus.HistogramVec
	handlersPackaged prometheus.Counter
	packageBytes     prometheus.Histogram
	staticFiles      *prometheus.CounterVec
	buildsTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all builder metrics
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssr_builder_stage_duration_seconds",
				Help:    "Duration of each build pipeline stage in seconds",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		handlersPackaged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ssr_builder_handlers_packaged_total",
				Help: "Total number of handler packages created",
			},
		),
		packageBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ssr_builder_handler_package_bytes",
				Help:    "Size of handler packages in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		staticFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssr_builder_static_files_total",
				Help: "Total number of static files emitted",
			},
			[]string{"source"},
		),
		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssr_builder_builds_total",
				Help: "Total number of builds by outcome",
			},
			[]string{"status"},
		),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordHandler records one packaged handler
func (m *Metrics) RecordHandler(size int64) {
	m.handlersPackaged.Inc()
	m.packageBytes.Observe(float64(size))
}

// RecordStaticFiles adds n static files from source
func (m *Metrics) RecordStaticFiles(source string, n int) {
	m.staticFiles.WithLabelValues(source).Add(float64(n))
}

// RecordBuild records a finished build
func (m *Metrics) RecordBuild(err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.buildsTotal.WithLabelValues(status).Inc()
}

// WriteTextfile writes every metric in Prometheus text format, for the
// node exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
