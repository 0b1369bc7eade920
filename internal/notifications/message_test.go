package notifications

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadJSON(msgType, title, date string) []byte {
	return []byte(fmt.Sprintf(`{"type":%q,"title":%q,"message":"body","date":%q}`, msgType, title, date))
}

func TestDecodeMessage(t *testing.T) {
	date := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	msg, err := decodeMessage("global.notifications.public", "m1", payloadJSON("info", "Deploy finished", date.Format(time.RFC3339)))
	require.NoError(t, err)

	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "global.notifications.public", msg.Subject)
	assert.Equal(t, TypeInfo, msg.Type)
	assert.Equal(t, "Deploy finished", msg.Title)
	assert.Equal(t, "body", msg.Body)
	assert.True(t, date.Equal(msg.Date))
	assert.False(t, msg.Read)
}

func TestDecodeMessageRejectsInvalid(t *testing.T) {
	now := time.Now().UTC().Format(time.RFC3339)

	cases := []struct {
		name string
		data []byte
	}{
		{"malformed json", []byte("{")},
		{"unparseable date", payloadJSON("info", "Title", "tomorrow")},
		{"empty date", payloadJSON("info", "Title", "")},
		{"empty title", payloadJSON("info", "", now)},
		{"unknown type", payloadJSON("warning", "Title", now)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeMessage("global.notifications.public", "m1", tc.data)
			assert.Error(t, err)
		})
	}
}

func TestMessageLiveWindow(t *testing.T) {
	now := time.Now()
	window := 5 * time.Second

	// Inside the window
	assert.True(t, Message{Date: now}.live(now, window))
	assert.True(t, Message{Date: now.Add(-window)}.live(now, window))

	// Slight clock skew toward the future still counts
	assert.True(t, Message{Date: now.Add(2 * time.Second)}.live(now, window))

	// Outside the window
	assert.False(t, Message{Date: now.Add(-10 * time.Second)}.live(now, window))
	assert.False(t, Message{Date: now.Add(-window - time.Millisecond)}.live(now, window))
}
