package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	RunningTasks     prometheus.Gauge
	TaskEvents       *prometheus.CounterVec
	ApprovalWait     prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPLatency      *prometheus.HistogramVec
	DisplayBytes     *prometheus.CounterVec
	WorkerReconnects prometheus.Counter

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of operator sessions seen recently.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		RunningTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_tasks",
			Help:      "Tasks with a live agent goroutine.",
		}),
		TaskEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_events_total",
			Help:      "Task lifecycle events by type.",
		}, []string{"event"}),
		ApprovalWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_wait_ms",
			Help:      "Time from an action proposal to the operator's decision in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 5000, 10000, 30000, 60000, 300000},
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP handler latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"route"}),
		DisplayBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_bytes_total",
			Help:      "Bytes relayed between display clients and the VNC server.",
		}, []string{"direction"}),
		WorkerReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_worker_reconnects_total",
			Help:      "Reconnect attempts to the remote agent worker.",
		}),
		latency: newLatencyWindow(256),
	}
}

func (m *Metrics) ObserveTaskEvent(event string) {
	if m == nil {
		return
	}
	m.TaskEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveApprovalWait(d time.Duration) {
	if m == nil {
		return
	}
	m.ApprovalWait.Observe(float64(d.Milliseconds()))
	m.latency.Observe(StageApprovalWait, float64(d.Milliseconds()))
}

// ObserveStage records a latency sample for the rolling /perf window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.latency.ObserveIndicator(name)
}

func (m *Metrics) SetRunningTasks(n int) {
	if m == nil {
		return
	}
	m.RunningTasks.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(float64(d.Microseconds()) / 1000)
}

func (m *Metrics) AddDisplayBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DisplayBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) SnapshotLatency() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.latency.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveWorkerReconnect() {
	if m == nil {
		return
	}
	m.WorkerReconnects.Inc()
}
