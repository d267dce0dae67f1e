package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the notification engine
type Metrics struct {
	NotificationsSent         *prometheus.CounterVec
	NotificationsFailed       *prometheus.CounterVec
	DispatchOutcomes          *prometheus.CounterVec
	TerminalFailures          prometheus.Counter
	NotificationLatency       *prometheus.HistogramVec
	ChannelProcessingDuration *prometheus.HistogramVec
	QueueSize                 prometheus.Gauge
	ActiveConnections         prometheus.Gauge
	DatabaseConnections       *prometheus.GaugeVec
	RetryCount                *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them with reg. A nil reg uses the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	metrics := &Metrics{
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total number of channel sends by outcome",
			},
			[]string{"channel", "status"},
		),
		NotificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_failed_total",
				Help: "Total number of failed channel sends",
			},
			[]string{"channel", "error_type"},
		),
		DispatchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_dispatch_outcomes_total",
				Help: "Total number of dispatch attempts by resulting status",
			},
			[]string{"status"},
		),
		TerminalFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notification_terminal_failures_total",
				Help: "Notifications that exhausted their retries",
			},
		),
		NotificationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_processing_duration_seconds",
				Help:    "Time taken to process notifications",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ChannelProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "channel_processing_duration_seconds",
				Help:    "Time taken by channels to send notifications",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		QueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notification_queue_size",
				Help: "Dispatch jobs waiting for a worker",
			},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of live in-app websocket sessions",
			},
		),
		DatabaseConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "database_connections",
				Help: "Number of database connections by state",
			},
			[]string{"database", "state"},
		),
		RetryCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_retries_total",
				Help: "Total number of notification retries",
			},
			[]string{"retry_reason"},
		),
	}

	reg.MustRegister(
		metrics.NotificationsSent,
		metrics.NotificationsFailed,
		metrics.DispatchOutcomes,
		metrics.TerminalFailures,
		metrics.NotificationLatency,
		metrics.ChannelProcessingDuration,
		metrics.QueueSize,
		metrics.ActiveConnections,
		metrics.DatabaseConnections,
		metrics.RetryCount,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		metrics.gatherer = g
	} else {
		metrics.gatherer = prometheus.DefaultGatherer
	}
	return metrics
}

// RecordNotificationSent records one channel send
func (m *Metrics) RecordNotificationSent(channel, status string) {
	m.NotificationsSent.WithLabelValues(channel, status).Inc()
}

// RecordNotificationFailed records a failed channel send
func (m *Metrics) RecordNotificationFailed(channel, errorType string) {
	m.NotificationsFailed.WithLabelValues(channel, errorType).Inc()
}

// RecordDispatch records the status a dispatch attempt ended in
func (m *Metrics) RecordDispatch(status string) {
	m.DispatchOutcomes.WithLabelValues(status).Inc()
}

// RecordTerminalFailure records a notification that ran out of retries
func (m *Metrics) RecordTerminalFailure() {
	m.TerminalFailures.Inc()
}

// RecordProcessingDuration records processing duration
func (m *Metrics) RecordProcessingDuration(operation string, d time.Duration) {
	m.NotificationLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordChannelDuration records channel processing duration
func (m *Metrics) RecordChannelDuration(channel string, d time.Duration) {
	m.ChannelProcessingDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// IncrementActiveConnections increments active connections
func (m *Metrics) IncrementActiveConnections() {
	m.ActiveConnections.Inc()
}

// DecrementActiveConnections decrements active connections
func (m *Metrics) DecrementActiveConnections() {
	m.ActiveConnections.Dec()
}

// SetDatabaseConnections sets database connection metrics
func (m *Metrics) SetDatabaseConnections(database, state string, count int) {
	m.DatabaseConnections.WithLabelValues(database, state).Set(float64(count))
}

// RecordRetry records a notification retry
func (m *Metrics) RecordRetry(reason string) {
	m.RetryCount.WithLabelValues(reason).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
