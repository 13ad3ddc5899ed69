package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Syscall metrics
	SyscallsTotal   *prometheus.CounterVec
	MapBatchSeconds prometheus.Histogram

	// Memory metrics
	FramesLive *prometheus.GaugeVec
	BytesUsed  prometheus.Gauge

	// Scheduler metrics
	ContextSwitches prometheus.Counter
	Preemptions     prometheus.Counter
	Donations       prometheus.Counter

	// Process metrics
	ProcessesActive prometheus.Gauge
	ProcessesTotal  prometheus.Counter

	// Event stream metrics
	StreamConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exocore_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exocore_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SyscallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exocore_syscalls_total",
				Help: "Total number of dispatched system calls",
			},
			[]string{"call", "result"},
		),
		MapBatchSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exocore_map_batch_duration_seconds",
				Help:    "Memory map batch duration in seconds",
				Buckets: []float64{.000001, .00001, .0001, .001, .01, .1},
			},
		),

		FramesLive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "exocore_frames_live",
				Help: "Live physical frames per size class",
			},
			[]string{"class"},
		),
		BytesUsed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exocore_memory_bytes_used",
				Help: "Physical memory bytes in use",
			},
		),

		ContextSwitches: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "exocore_sched_context_switches_total",
				Help: "Total scheduler context switches",
			},
		),
		Preemptions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "exocore_sched_preemptions_total",
				Help: "Total quantum expirations",
			},
		),
		Donations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "exocore_sched_donations_total",
				Help: "Total quantum donations",
			},
		),

		ProcessesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exocore_processes_active",
				Help: "Number of registered processes",
			},
		),
		ProcessesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "exocore_processes_total",
				Help: "Total processes ever registered",
			},
		),

		StreamConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exocore_stream_connections",
				Help: "Number of active event-stream connections",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "exocore_uptime_seconds",
				Help: "Kernel daemon uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveSyscall counts one dispatched call by its result word.
func (m *Metrics) ObserveSyscall(call, result string) {
	m.SyscallsTotal.WithLabelValues(call, result).Inc()
}

// ObserveMapBatch records one map batch duration.
func (m *Metrics) ObserveMapBatch(d time.Duration) {
	m.MapBatchSeconds.Observe(d.Seconds())
}

// SetFramesLive sets the live-frame gauge for one size class.
func (m *Metrics) SetFramesLive(class string, count int) {
	m.FramesLive.WithLabelValues(class).Set(float64(count))
}

// SetBytesUsed sets the used-bytes gauge.
func (m *Metrics) SetBytesUsed(bytes uint64) {
	m.BytesUsed.Set(float64(bytes))
}

// SetProcessesActive sets the registered-process gauge.
func (m *Metrics) SetProcessesActive(count int) {
	m.ProcessesActive.Set(float64(count))
}

// IncProcessesTotal counts one registration.
func (m *Metrics) IncProcessesTotal() {
	m.ProcessesTotal.Inc()
}

// IncStreamConnections counts one event-stream client in.
func (m *Metrics) IncStreamConnections() {
	m.StreamConnections.Inc()
}

// DecStreamConnections counts one event-stream client out.
func (m *Metrics) DecStreamConnections() {
	m.StreamConnections.Dec()
}
