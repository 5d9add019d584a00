// Package observability provides the Prometheus metrics surface of the
// server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the server's Prometheus instruments.
//
// The metrics system tracks:
//   - HTTP API latency and volume
//   - WebSocket connections and outbound frame volume
//   - Tailer throughput (batches emitted, transcript lines parsed)
//   - Agent subprocess lifecycle (spawns, exits)
//   - Filesystem watcher activity
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status
	HTTPRequestCounter *prometheus.CounterVec

	// WSConnections is a gauge of currently open WebSocket clients.
	WSConnections prometheus.Gauge

	// WSFramesSent counts server-to-client frames by frame type.
	WSFramesSent *prometheus.CounterVec

	// TailBatches counts MessageBatch emissions.
	TailBatches prometheus.Counter

	// TailLines counts transcript lines parsed by the tail pipeline.
	TailLines prometheus.Counter

	// ControllerSpawns counts agent subprocesses started.
	ControllerSpawns prometheus.Counter

	// ControllerExits counts agent subprocess exits.
	// Labels: status (completed|errored|user)
	ControllerExits *prometheus.CounterVec

	// WatcherEvents counts debounced session activity signals.
	WatcherEvents prometheus.Counter
}

// NewMetrics creates all instruments on a private registry so repeated
// construction (tests, restarts) never double-registers.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fleet_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fleet_ws_connections",
				Help: "Current number of open WebSocket connections",
			},
		),

		WSFramesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_ws_frames_sent_total",
				Help: "Total number of WebSocket frames sent by type",
			},
			[]string{"type"},
		),

		TailBatches: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_tail_batches_total",
				Help: "Total number of message batches emitted by the tailer",
			},
		),

		TailLines: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_tail_lines_total",
				Help: "Total number of transcript lines parsed by the tailer",
			},
		),

		ControllerSpawns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_controller_spawns_total",
				Help: "Total number of agent subprocesses spawned",
			},
		),

		ControllerExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleet_controller_exits_total",
				Help: "Total number of agent subprocess exits by outcome",
			},
			[]string{"status"},
		),

		WatcherEvents: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fleet_watcher_events_total",
				Help: "Total number of debounced session activity signals",
			},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
}

// RecordFrame counts one outbound WebSocket frame.
func (m *Metrics) RecordFrame(frameType string) {
	m.WSFramesSent.WithLabelValues(frameType).Inc()
}

// RecordBatch counts one tailer emission with its parsed line count.
func (m *Metrics) RecordBatch(lines int) {
	m.TailBatches.Inc()
	m.TailLines.Add(float64(lines))
}
