package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The registry is process-global, so the disabled and enabled phases must
// run in order within a single test.
func TestGateMetricsLifecycle(t *testing.T) {
	t.Run("disabled recorders are nil no-ops", func(t *testing.T) {
		require.False(t, IsEnabled())

		m := NewGateMetrics()
		assert.Nil(t, m)
		assert.NotPanics(t, func() {
			m.RecordConnectionAccepted()
			m.RecordConnectionRejected()
			m.RecordConnectionClosed()
			m.SetActiveSessions(5)
			m.RecordCommand("ping", true)
			m.RecordBytesIn(10)
			m.RecordBytesOut(10)
		})
	})

	t.Run("enabled recorders count", func(t *testing.T) {
		InitRegistry()
		require.True(t, IsEnabled())
		require.NotNil(t, GetRegistry())

		m := NewGateMetrics()
		require.NotNil(t, m)

		m.RecordConnectionAccepted()
		m.RecordConnectionAccepted()
		m.RecordConnectionRejected()
		m.SetActiveSessions(3)
		m.RecordCommand("ping", true)
		m.RecordCommand("ping", true)
		m.RecordCommand("upload", false)
		m.RecordBytesIn(100)
		m.RecordBytesOut(40)

		assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsRejected))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionsClosed))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.activeSessions))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("ping", "ok")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("upload", "error")))
		assert.Equal(t, 100.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("in")))
		assert.Equal(t, 40.0, testutil.ToFloat64(m.bytesTotal.WithLabelValues("out")))
	})
}
