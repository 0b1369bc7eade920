package notifications

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishAndSubscribe(t *testing.T) {
	h := newHub(10)
	sub := h.subscribe()
	defer h.unsubscribe(sub.ID)

	h.publish(Update{Kind: UpdateMessages, Messages: []Message{{ID: "m1"}}, Unread: 1})

	u := <-sub.Updates
	assert.Equal(t, UpdateMessages, u.Kind)
	require.Len(t, u.Messages, 1)
	assert.Equal(t, 1, u.Unread)
}

func TestHubReplaysLastSnapshot(t *testing.T) {
	h := newHub(10)
	h.publish(Update{Kind: UpdateMessages, Messages: []Message{{ID: "m1"}}, Unread: 1})

	// A late subscriber starts from the last full snapshot
	sub := h.subscribe()
	defer h.unsubscribe(sub.ID)

	u := <-sub.Updates
	assert.Equal(t, UpdateMessages, u.Kind)
	assert.Equal(t, "m1", u.Messages[0].ID)
}

func TestHubReplaysLastLiveMessage(t *testing.T) {
	h := newHub(10)
	h.publish(Update{Kind: UpdateLive, Live: &Message{ID: "m1"}})
	h.publish(Update{Kind: UpdateLive, Live: &Message{ID: "m2"}})

	// Only the most recent live message is retained
	sub := h.subscribe()
	defer h.unsubscribe(sub.ID)

	u := <-sub.Updates
	assert.Equal(t, UpdateLive, u.Kind)
	require.NotNil(t, u.Live)
	assert.Equal(t, "m2", u.Live.ID)
}

func TestHubDropLive(t *testing.T) {
	h := newHub(10)
	h.publish(Update{Kind: UpdateLive, Live: &Message{ID: "m1"}})
	h.dropLive()

	sub := h.subscribe()
	defer h.unsubscribe(sub.ID)

	select {
	case u := <-sub.Updates:
		t.Fatalf("unexpected replayed update: %+v", u)
	default:
	}
}

func TestHubPublishDoesNotBlock(t *testing.T) {
	h := newHub(1)
	sub := h.subscribe()
	defer h.unsubscribe(sub.ID)

	// Fill the buffer, then keep publishing
	for i := 0; i < 5; i++ {
		h.publish(Update{Kind: UpdateMessages, Unread: i})
	}

	u := <-sub.Updates
	assert.Equal(t, 0, u.Unread)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := newHub(10)
	sub := h.subscribe()
	h.unsubscribe(sub.ID)

	_, open := <-sub.Updates
	assert.False(t, open)

	// Unknown IDs are ignored
	h.unsubscribe("nope")
}

func TestHubCloseAll(t *testing.T) {
	h := newHub(10)
	a := h.subscribe()
	b := h.subscribe()

	h.closeAll()

	_, open := <-a.Updates
	assert.False(t, open)
	_, open = <-b.Updates
	assert.False(t, open)

	// The replay snapshot is dropped with the subscribers
	late := h.subscribe()
	select {
	case <-late.Updates:
		t.Fatal("unexpected replay after closeAll")
	default:
	}
}

func TestHubConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := newHub(1)
	deadline := time.Now().Add(200 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)

		// Publishers race subscriber churn; a channel must never be
		// closed while a publish can still see it.
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				h.publish(Update{Kind: UpdateMessages, Messages: []Message{}, Unread: 0})
				h.publish(Update{Kind: UpdateLive, Live: &Message{ID: "m1"}})
			}
		}()
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				sub := h.subscribe()
				h.unsubscribe(sub.ID)
			}
		}()
	}
	wg.Wait()
	h.closeAll()
}

func TestHubDistinctSubscriptionIDs(t *testing.T) {
	orig := generateID
	defer func() { generateID = orig }()

	n := 0
	generateID = func() string {
		n++
		return fmt.Sprintf("sub-%d", n)
	}

	h := newHub(10)
	a := h.subscribe()
	b := h.subscribe()
	assert.Equal(t, "sub-1", a.ID)
	assert.Equal(t, "sub-2", b.ID)
}
