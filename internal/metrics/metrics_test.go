package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMetrics(t *testing.T) {
	// Get metrics instance
	metrics := GetMetrics()

	// Verify it's not nil
	assert.NotNil(t, metrics, "Metrics should not be nil")

	// Call again to test singleton behavior
	metrics2 := GetMetrics()

	// Verify both instances are the same
	assert.Equal(t, metrics, metrics2, "GetMetrics should return the same instance")
}

func TestAllMetricsInitialized(t *testing.T) {
	// Get metrics instance
	m := GetMetrics()

	// Broker connection metrics should be initialized
	assert.NotNil(t, m.ConnectAttemptsTotal, "ConnectAttemptsTotal should be initialized")
	assert.NotNil(t, m.ConnectionErrorsTotal, "ConnectionErrorsTotal should be initialized")
	assert.NotNil(t, m.ConnectionUp, "ConnectionUp should be initialized")
	assert.NotNil(t, m.SubscriptionsActive, "SubscriptionsActive should be initialized")

	// Read-state metrics should be initialized
	assert.NotNil(t, m.ReadStateOperations, "ReadStateOperations should be initialized")
	assert.NotNil(t, m.ReadStateOperationDuration, "ReadStateOperationDuration should be initialized")
	assert.NotNil(t, m.ReadStateKeysSeeded, "ReadStateKeysSeeded should be initialized")

	// Loader and aggregator metrics should be initialized
	assert.NotNil(t, m.MessagesConsumedTotal, "MessagesConsumedTotal should be initialized")
	assert.NotNil(t, m.SubjectDrainsTotal, "SubjectDrainsTotal should be initialized")
	assert.NotNil(t, m.DrainDuration, "DrainDuration should be initialized")
	assert.NotNil(t, m.LiveMessagesTotal, "LiveMessagesTotal should be initialized")
	assert.NotNil(t, m.UnreadMessages, "UnreadMessages should be initialized")
	assert.NotNil(t, m.CollectionSize, "CollectionSize should be initialized")

	// API metrics should be initialized
	assert.NotNil(t, m.APIRequestsTotal, "APIRequestsTotal should be initialized")
	assert.NotNil(t, m.APIRequestDuration, "APIRequestDuration should be initialized")

	// Notifier metrics should be initialized
	assert.NotNil(t, m.NotifierConnectionsActive, "NotifierConnectionsActive should be initialized")
	assert.NotNil(t, m.NotifierEventsPublished, "NotifierEventsPublished should be initialized")
	assert.NotNil(t, m.NotifierEventDelay, "NotifierEventDelay should be initialized")
}

func TestMetricsRecording(t *testing.T) {
	m := GetMetrics()

	// Recording against labeled collectors must not panic
	m.ConnectAttemptsTotal.WithLabelValues("success").Inc()
	m.ReadStateOperations.WithLabelValues("get", "true").Inc()
	m.MessagesConsumedTotal.WithLabelValues("admitted").Inc()
	m.SubjectDrainsTotal.WithLabelValues("completed").Inc()
	m.UnreadMessages.Set(3)
	m.CollectionSize.Set(10)
}
