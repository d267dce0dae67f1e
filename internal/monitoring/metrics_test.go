package monitoring

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alexnthnz/notification-engine/internal/config"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordNotificationSent("email", "sent")
	m.RecordNotificationSent("email", "sent")
	m.RecordNotificationFailed("push", "transport")
	m.RecordDispatch("failed")
	m.RecordTerminalFailure()
	m.RecordRetry("transport")
	m.SetQueueSize(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSent.WithLabelValues("email", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsFailed.WithLabelValues("push", "transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchOutcomes.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TerminalFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryCount.WithLabelValues("transport")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueSize))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordChannelDuration("in_app", 20*time.Millisecond)
	m.IncrementActiveConnections()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "channel_processing_duration_seconds")
	assert.Contains(t, string(body), "active_connections 1")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, err = NewLogger(config.LogConfig{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
