package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GateMetrics records connection and command activity for the file-access
// service. All methods are nil-safe so callers never need to branch on
// whether metrics are enabled.
type GateMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsRejected prometheus.Counter
	connectionsClosed   prometheus.Counter
	activeSessions      prometheus.Gauge
	commandsTotal       *prometheus.CounterVec
	bytesTotal          *prometheus.CounterVec
}

// NewGateMetrics creates a Prometheus-backed recorder, or nil when metrics
// are disabled (nil methods are no-ops).
func NewGateMetrics() *GateMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()
	return &GateMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fsgate_connections_accepted_total",
			Help: "Total number of accepted client connections",
		}),
		connectionsRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fsgate_connections_rejected_total",
			Help: "Total number of connections rejected at capacity",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "fsgate_connections_closed_total",
			Help: "Total number of closed client connections",
		}),
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "fsgate_active_sessions",
			Help: "Current number of registered sessions",
		}),
		commandsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fsgate_commands_total",
			Help: "Total number of dispatched commands by command and status",
		}, []string{"command", "status"}),
		bytesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "fsgate_bytes_total",
			Help: "Total bytes transferred by direction",
		}, []string{"direction"}),
	}
}

// RecordConnectionAccepted counts one accepted connection.
func (m *GateMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connectionsAccepted.Inc()
}

// RecordConnectionRejected counts one capacity rejection.
func (m *GateMetrics) RecordConnectionRejected() {
	if m == nil {
		return
	}
	m.connectionsRejected.Inc()
}

// RecordConnectionClosed counts one closed connection.
func (m *GateMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

// SetActiveSessions sets the active-session gauge.
func (m *GateMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// RecordCommand counts one dispatched command. Implements
// dispatch.CommandRecorder.
func (m *GateMetrics) RecordCommand(cmd string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.commandsTotal.WithLabelValues(cmd, status).Inc()
}

// RecordBytesIn counts received bytes.
func (m *GateMetrics) RecordBytesIn(n int) {
	if m == nil {
		return
	}
	m.bytesTotal.WithLabelValues("in").Add(float64(n))
}

// RecordBytesOut counts sent bytes.
func (m *GateMetrics) RecordBytesOut(n int) {
	if m == nil {
		return
	}
	m.bytesTotal.WithLabelValues("out").Add(float64(n))
}
