// Package metrics exposes Prometheus collectors for the executor and the
// transfer layer. Collectors live on a per-daemon registry so tests can
// build independent instances.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	tasksEnqueued  *prometheus.CounterVec
	tasksStarted   *prometheus.CounterVec
	tasksFinished  *prometheus.CounterVec
	transfers      *prometheus.CounterVec
	transferBytes  *prometheus.CounterVec
	protocolErrors prometheus.Counter

	// Gauges
	tasksRunning prometheus.Gauge
	queueDepth   prometheus.Gauge

	// Histograms
	taskDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renderq_tasks_enqueued_total",
				Help: "Total number of tasks enqueued",
			},
			[]string{"type"},
		),
		tasksStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renderq_tasks_started_total",
				Help: "Total number of tasks handed to Blender",
			},
			[]string{"type"},
		),
		tasksFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renderq_tasks_finished_total",
				Help: "Total number of tasks that left the current slot",
			},
			[]string{"type", "outcome"},
		),
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renderq_transfers_total",
				Help: "Total number of file transfers by direction and result",
			},
			[]string{"direction", "status"},
		),
		transferBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renderq_transfer_bytes_total",
				Help: "Bytes moved by successful file transfers",
			},
			[]string{"direction"},
		),
		protocolErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "renderq_protocol_errors_total",
				Help: "Connections aborted because of a protocol error",
			},
		),
		tasksRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "renderq_tasks_running",
				Help: "1 while a Blender process is running",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "renderq_queue_depth",
				Help: "Pending tasks observed at the last executor iteration",
			},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "renderq_task_duration_seconds",
				Help:    "Wall time of finished tasks in seconds",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 21600},
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.tasksEnqueued,
		m.tasksStarted,
		m.tasksFinished,
		m.transfers,
		m.transferBytes,
		m.protocolErrors,
		m.tasksRunning,
		m.queueDepth,
		m.taskDuration,
	)

	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TaskEnqueued(taskType string) {
	if m == nil {
		return
	}
	m.tasksEnqueued.WithLabelValues(taskType).Inc()
}

func (m *Metrics) TaskStarted(taskType string) {
	if m == nil {
		return
	}
	m.tasksStarted.WithLabelValues(taskType).Inc()
	m.tasksRunning.Set(1)
}

// TaskFinished records an outcome of completed, failed, launch_failed,
// skipped or interrupted.
func (m *Metrics) TaskFinished(taskType, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(taskType, outcome).Inc()
	m.tasksRunning.Set(0)
	if elapsed > 0 {
		m.taskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) Transfer(direction, status string, bytes int64) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(direction, status).Inc()
	if bytes > 0 {
		m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	}
}

func (m *Metrics) ProtocolError() {
	if m == nil {
		return
	}
	m.protocolErrors.Inc()
}
