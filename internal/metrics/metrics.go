package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the notification service
type Metrics struct {
	// Broker connection metrics
	ConnectAttemptsTotal  *prometheus.CounterVec
	ConnectionErrorsTotal prometheus.Counter
	ConnectionUp          prometheus.Gauge
	SubscriptionsActive   prometheus.Gauge

	// Read-state store metrics
	ReadStateOperations        *prometheus.CounterVec
	ReadStateOperationDuration *prometheus.HistogramVec
	ReadStateKeysSeeded        prometheus.Counter

	// Stream loader / aggregator metrics
	MessagesConsumedTotal *prometheus.CounterVec
	SubjectDrainsTotal    *prometheus.CounterVec
	DrainDuration         prometheus.Histogram
	LiveMessagesTotal     prometheus.Counter
	UnreadMessages        prometheus.Gauge
	CollectionSize        prometheus.Gauge

	// API metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Notifier metrics
	NotifierConnectionsActive prometheus.Gauge
	NotifierEventsPublished   *prometheus.CounterVec
	NotifierEventDelay        prometheus.Histogram
}

// GetMetrics returns the metrics singleton
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// newMetrics initializes and registers all metrics
func newMetrics() *Metrics {
	m := &Metrics{}

	// Broker connection metrics
	m.ConnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_connect_attempts_total",
			Help: "Total number of broker connection attempts",
		},
		[]string{"outcome"},
	)

	m.ConnectionErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_connection_errors_total",
			Help: "Total number of errors surfaced on the connection error stream",
		},
	)

	m.ConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_connection_up",
			Help: "Whether a broker connection is currently established (0 or 1)",
		},
	)

	m.SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_subscriptions_active",
			Help: "Number of registered per-subject subscriptions",
		},
	)

	// Read-state store metrics
	m.ReadStateOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_readstate_operations_total",
			Help: "Total number of read-state store operations",
		},
		[]string{"operation", "success"},
	)

	m.ReadStateOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_readstate_operation_duration_seconds",
			Help:    "Duration of read-state store operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // from 0.1ms to ~1.6s
		},
		[]string{"operation"},
	)

	m.ReadStateKeysSeeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_readstate_keys_seeded_total",
			Help: "Total number of read-state keys initialized to an empty list",
		},
	)

	// Stream loader / aggregator metrics
	m.MessagesConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_messages_consumed_total",
			Help: "Total number of messages pulled off subject streams",
		},
		[]string{"outcome"}, // admitted, duplicate, missing_id, invalid
	)

	m.SubjectDrainsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_subject_drains_total",
			Help: "Total number of per-subject drains by outcome",
		},
		[]string{"outcome"}, // completed, missing_stream, failed
	)

	m.DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_drain_duration_seconds",
			Help:    "Time from consumer creation to backlog drain completion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
	)

	m.LiveMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notify_live_messages_total",
			Help: "Total number of messages surfaced inside the liveness window",
		},
	)

	m.UnreadMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_unread_messages",
			Help: "Current number of unread messages in the in-memory collection",
		},
	)

	m.CollectionSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_collection_size",
			Help: "Current size of the in-memory message collection",
		},
	)

	// API metrics
	m.APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	m.APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notify_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // from 1ms to ~16s
		},
		[]string{"method", "path"},
	)

	// Notifier metrics
	m.NotifierConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_notifier_connections_active",
			Help: "Number of active notifier client connections",
		},
	)

	m.NotifierEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_notifier_events_published_total",
			Help: "Total number of events published to notifier clients",
		},
		[]string{"protocol"}, // websocket, sse, broadcast
	)

	m.NotifierEventDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notify_notifier_event_delay_seconds",
			Help:    "Delay between update publication and client notification in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10), // from 0.1ms to ~51ms
		},
	)

	return m
}
