// Package metrics provides Prometheus metrics for the benchmark recorder.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run duration buckets in seconds; simulated runs last from seconds to tens of minutes.
var defaultRunBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400} //nolint:gochecknoglobals // immutable bucket layout

// Manager manages all Prometheus metrics for the recorder.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Run metrics
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	controllerLaunches prometheus.Counter
	logLines           *prometheus.CounterVec
	lastPerformance    *prometheus.GaugeVec

	// Config patch metrics
	patchOperations   *prometheus.CounterVec
	patchMissingField prometheus.Counter

	// Container metrics
	containerOperations *prometheus.CounterVec
	containerKills      prometheus.Counter

	// Batch metrics
	batchCompetitors prometheus.Gauge
	batchCompleted   prometheus.Gauge
	artifactsMoved   *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "benchrec",
		subsystem:        "recorder",
		histogramBuckets: defaultRunBuckets,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of metric definitions
	auto := promauto.With(m.registry)

	m.runsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "runs_total",
		Help:        "Total number of competitor runs by terminal outcome",
		ConstLabels: m.constLabels,
	}, []string{"outcome"})

	m.runDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "run_duration_seconds",
		Help:        "Wall-clock duration of a competitor run, patch to restore",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})

	m.controllerLaunches = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "controller_launches_total",
		Help:        "Total number of controller containers launched after the ready sentinel",
		ConstLabels: m.constLabels,
	})

	m.logLines = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "log_lines_total",
		Help:        "Simulator output lines consumed, by classified event",
		ConstLabels: m.constLabels,
	}, []string{"event"})

	m.lastPerformance = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "competitor_performance",
		Help:        "Raw performance value recorded for a competitor in this batch",
		ConstLabels: m.constLabels,
	}, []string{"competitor"})

	m.patchOperations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "patch_operations_total",
		Help:        "Config patch operations by kind and result",
		ConstLabels: m.constLabels,
	}, []string{"operation", "result"})

	m.patchMissingField = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "patch_missing_substrings_total",
		Help:        "Replacements whose original substring was not present in the target file",
		ConstLabels: m.constLabels,
	})

	m.containerOperations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "container_operations_total",
		Help:        "Container engine operations by kind and result",
		ConstLabels: m.constLabels,
	}, []string{"operation", "result"})

	m.containerKills = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "container_kills_total",
		Help:        "Containers forcibly stopped during teardown",
		ConstLabels: m.constLabels,
	})

	m.batchCompetitors = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "batch_competitors",
		Help:        "Number of competitors in the current batch",
		ConstLabels: m.constLabels,
	})

	m.batchCompleted = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "batch_completed",
		Help:        "Number of competitors already evaluated in the current batch",
		ConstLabels: m.constLabels,
	})

	m.artifactsMoved = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "artifacts_total",
		Help:        "Produced artifact files by disposition",
		ConstLabels: m.constLabels,
	}, []string{"kind"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "requests_total",
		Help:        "Operator endpoint requests by endpoint, method and status",
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method", "status"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   "http",
		Name:        "request_duration_seconds",
		Help:        "Operator endpoint latency",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: m.constLabels,
	}, []string{"endpoint", "method"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "errors_by_component_total",
		Help:        "Total number of errors by component",
		ConstLabels: m.constLabels,
	}, []string{"component", "error_type"})
}

// RecordRun records a finished run with its outcome label and duration.
func RecordRun(outcome string, seconds float64) {
	globalManager.runsTotal.WithLabelValues(outcome).Inc()
	globalManager.runDuration.Observe(seconds)
}

// RecordControllerLaunch increments the controller launch counter.
func RecordControllerLaunch() {
	globalManager.controllerLaunches.Inc()
}

// RecordLogLine counts one consumed simulator line.
func RecordLogLine(event string) {
	globalManager.logLines.WithLabelValues(event).Inc()
}

// UpdateCompetitorPerformance sets the raw value recorded for a competitor.
func UpdateCompetitorPerformance(competitorID string, raw float64) {
	globalManager.lastPerformance.WithLabelValues(competitorID).Set(raw)
}

// RecordPatchOperation counts an apply or restore with its result.
func RecordPatchOperation(operation, result string) {
	globalManager.patchOperations.WithLabelValues(operation, result).Inc()
}

// RecordPatchMissingSubstring counts a replacement that matched nothing.
func RecordPatchMissingSubstring() {
	globalManager.patchMissingField.Inc()
}

// RecordContainerOperation counts a container engine call with its result.
func RecordContainerOperation(operation, result string) {
	globalManager.containerOperations.WithLabelValues(operation, result).Inc()
}

// RecordContainerKill counts a container killed during teardown.
func RecordContainerKill() {
	globalManager.containerKills.Inc()
}

// UpdateBatchProgress sets the batch size and completed count.
func UpdateBatchProgress(total, completed int) {
	globalManager.batchCompetitors.Set(float64(total))
	globalManager.batchCompleted.Set(float64(completed))
}

// RecordArtifact counts a produced file by what happened to it.
func RecordArtifact(kind string) {
	globalManager.artifactsMoved.WithLabelValues(kind).Inc()
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(endpoint, method, status string, seconds float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(seconds)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, customRegistry); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}
	return nil
}
