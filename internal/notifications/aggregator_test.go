package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var noRead = map[string]struct{}{}

func testAggregator(t *testing.T) *aggregator {
	t.Helper()
	agg, err := newAggregator(5*time.Second, 128)
	require.NoError(t, err)
	return agg
}

func TestIngestAdmitsValidMessage(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)

	msg, _ := agg.ingest("p1.notifications.public", "m1", payloadJSON("success", "Build passed", date), noRead)
	require.NotNil(t, msg)
	assert.Equal(t, "m1", msg.ID)

	msgs, unread := agg.snapshot()
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1, unread)
}

func TestIngestDropsInvalid(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)

	cases := map[string][]byte{
		"m1": payloadJSON("info", "", date),        // empty title
		"m2": payloadJSON("warning", "Hi", date),   // unknown type
		"m3": payloadJSON("info", "Hi", "not-a-date"),
	}
	for id, data := range cases {
		msg, live := agg.ingest("p1.notifications.public", id, data, noRead)
		assert.Nil(t, msg)
		assert.False(t, live)
	}

	msgs, unread := agg.snapshot()
	assert.Empty(t, msgs)
	assert.Zero(t, unread)
}

func TestIngestDropsMissingID(t *testing.T) {
	agg := testAggregator(t)
	msg, _ := agg.ingest("p1.notifications.public", "", payloadJSON("info", "Hi", time.Now().Format(time.RFC3339)), noRead)
	assert.Nil(t, msg)

	msgs, _ := agg.snapshot()
	assert.Empty(t, msgs)
}

func TestIngestDeduplicates(t *testing.T) {
	agg := testAggregator(t)
	data := payloadJSON("info", "Hi", time.Now().Format(time.RFC3339))

	first, _ := agg.ingest("p1.notifications.public", "m1", data, noRead)
	require.NotNil(t, first)

	// Redelivery of the same ID is dropped
	second, _ := agg.ingest("p1.notifications.public", "m1", data, noRead)
	assert.Nil(t, second)

	msgs, _ := agg.snapshot()
	assert.Len(t, msgs, 1)
}

func TestIngestRemembersDroppedIDs(t *testing.T) {
	agg := testAggregator(t)
	invalid := payloadJSON("info", "", time.Now().Format(time.RFC3339))
	valid := payloadJSON("info", "Hi", time.Now().Format(time.RFC3339))

	// An ID first seen on an invalid payload stays dropped on redelivery
	msg, _ := agg.ingest("p1.notifications.public", "m1", invalid, noRead)
	assert.Nil(t, msg)
	msg, _ = agg.ingest("p1.notifications.public", "m1", valid, noRead)
	assert.Nil(t, msg)
}

func TestIngestAppliesReadState(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)
	readIDs := map[string]struct{}{"m1": {}}

	agg.ingest("p1.notifications.public", "m1", payloadJSON("info", "One", date), readIDs)
	agg.ingest("p1.notifications.public", "m2", payloadJSON("info", "Two", date), readIDs)

	msgs, unread := agg.snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Read)
	assert.False(t, msgs[1].Read)
	assert.Equal(t, 1, unread)
}

func TestIngestLiveWindow(t *testing.T) {
	agg := testAggregator(t)
	now := time.Now()
	agg.now = func() time.Time { return now }

	_, live := agg.ingest("p1.notifications.public", "m1",
		payloadJSON("info", "Fresh", now.Format(time.RFC3339)), noRead)
	assert.True(t, live)

	_, live = agg.ingest("p1.notifications.public", "m2",
		payloadJSON("info", "Stale", now.Add(-10*time.Second).Format(time.RFC3339)), noRead)
	assert.False(t, live)
}

func TestFinalizeSortsByDateDescending(t *testing.T) {
	agg := testAggregator(t)
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	agg.ingest("p1.notifications.public", "old", payloadJSON("info", "Old", base.Add(-2*time.Hour).Format(time.RFC3339)), noRead)
	agg.ingest("p2.notifications.public", "new", payloadJSON("info", "New", base.Format(time.RFC3339)), noRead)
	agg.ingest("global.notifications.public", "mid", payloadJSON("info", "Mid", base.Add(-time.Hour).Format(time.RFC3339)), noRead)

	msgs, unread := agg.finalize()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"new", "mid", "old"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
	assert.Equal(t, 3, unread)
}

func TestMarkRead(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)

	agg.ingest("p1.notifications.public", "m1", payloadJSON("info", "One", date), noRead)
	agg.ingest("p1.notifications.public", "m2", payloadJSON("info", "Two", date), noRead)

	persisted := map[string]struct{}{"m1": {}}
	msgs, unread := agg.markRead(map[string]struct{}{"m1": {}}, persisted)

	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Read)
	assert.False(t, msgs[1].Read)
	assert.Equal(t, 1, unread)
}

func TestMarkReadCountsPersistedState(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)

	agg.ingest("p1.notifications.public", "m1", payloadJSON("info", "One", date), noRead)
	agg.ingest("p1.notifications.public", "m2", payloadJSON("info", "Two", date), noRead)

	// m2 was persisted as read by another client; the unread count
	// honors the persisted list even though the local flag lags.
	persisted := map[string]struct{}{"m1": {}, "m2": {}}
	_, unread := agg.markRead(map[string]struct{}{"m1": {}}, persisted)
	assert.Zero(t, unread)
}

func TestMarkReadUnknownIDs(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)
	agg.ingest("p1.notifications.public", "m1", payloadJSON("info", "One", date), noRead)

	msgs, unread := agg.markRead(map[string]struct{}{"ghost": {}}, map[string]struct{}{"ghost": {}})
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, 1, unread)
}

func TestReset(t *testing.T) {
	agg := testAggregator(t)
	date := time.Now().Format(time.RFC3339)
	data := payloadJSON("info", "One", date)

	agg.ingest("p1.notifications.public", "m1", data, noRead)
	agg.reset()

	msgs, unread := agg.snapshot()
	assert.Empty(t, msgs)
	assert.Zero(t, unread)

	// The dedup cache is purged too, so a reload admits the ID again
	msg, _ := agg.ingest("p1.notifications.public", "m1", data, noRead)
	assert.NotNil(t, msg)
}

func TestSnapshotIsACopy(t *testing.T) {
	agg := testAggregator(t)
	agg.ingest("p1.notifications.public", "m1", payloadJSON("info", "One", time.Now().Format(time.RFC3339)), noRead)

	msgs, _ := agg.snapshot()
	msgs[0].Title = "mutated"

	fresh, _ := agg.snapshot()
	assert.Equal(t, "One", fresh[0].Title)
}
