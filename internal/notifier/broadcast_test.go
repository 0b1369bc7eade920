package notifier

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshmart/notify/internal/notifications"
)

func TestBroadcastBufferDeliversUpdates(t *testing.T) {
	b := NewBroadcastBuffer(10, 10*time.Millisecond)
	defer b.Close()

	ch := b.Subscribe("client-1", 10)
	b.Publish(notifications.Update{Kind: notifications.UpdateMessages, Unread: 3})

	select {
	case u := <-ch:
		assert.Equal(t, notifications.UpdateMessages, u.Kind)
		assert.Equal(t, 3, u.Unread)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for flushed update")
	}
}

func TestBroadcastBufferFanOut(t *testing.T) {
	b := NewBroadcastBuffer(10, 10*time.Millisecond)
	defer b.Close()

	a := b.Subscribe("client-a", 10)
	c := b.Subscribe("client-b", 10)

	b.Publish(notifications.Update{Kind: notifications.UpdateLive, Live: &notifications.Message{ID: "m1"}})

	for _, ch := range []chan notifications.Update{a, c} {
		select {
		case u := <-ch:
			require.NotNil(t, u.Live)
			assert.Equal(t, "m1", u.Live.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out")
		}
	}
}

func TestBroadcastBufferForceFlushOnFullBuffer(t *testing.T) {
	// A long flush interval so delivery can only come from the
	// size-triggered flush.
	b := NewBroadcastBuffer(2, time.Hour)
	defer b.Close()

	ch := b.Subscribe("client-1", 10)
	b.Publish(notifications.Update{Unread: 1})
	b.Publish(notifications.Update{Unread: 2})

	for want := 1; want <= 2; want++ {
		select {
		case u := <-ch:
			assert.Equal(t, want, u.Unread)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for force flush")
		}
	}
}

func TestBroadcastBufferDropsWhenSubscriberFull(t *testing.T) {
	b := NewBroadcastBuffer(10, 10*time.Millisecond)
	defer b.Close()

	ch := b.Subscribe("slow-client", 1)
	for i := 0; i < 5; i++ {
		b.Publish(notifications.Update{Unread: i})
	}

	// The subscriber keeps exactly its buffered capacity; the rest are
	// dropped rather than blocking the flush loop.
	select {
	case u := <-ch:
		assert.Equal(t, 0, u.Unread)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first update")
	}
}

func TestBroadcastBufferUnsubscribe(t *testing.T) {
	b := NewBroadcastBuffer(10, 10*time.Millisecond)
	defer b.Close()

	ch := b.Subscribe("client-1", 10)
	b.Unsubscribe("client-1")

	_, open := <-ch
	assert.False(t, open)

	// Unknown IDs are ignored
	b.Unsubscribe("client-1")
}

func TestBroadcastBufferConcurrentPublishAndUnsubscribe(t *testing.T) {
	// A tiny buffer and interval keep the flush loop hot while
	// subscribers churn; a flush must never hit a closed channel.
	b := NewBroadcastBuffer(1, time.Millisecond)
	defer b.Close()

	deadline := time.Now().Add(200 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				b.Publish(notifications.Update{Kind: notifications.UpdateMessages})
			}
		}()
		go func(worker int) {
			defer wg.Done()
			for n := 0; time.Now().Before(deadline); n++ {
				id := fmt.Sprintf("client-%d-%d", worker, n)
				b.Subscribe(id, 1)
				b.Unsubscribe(id)
			}
		}(i)
	}
	wg.Wait()
}

func TestBroadcastBufferClose(t *testing.T) {
	b := NewBroadcastBuffer(10, time.Hour)
	ch := b.Subscribe("client-1", 10)

	require.NoError(t, b.Close())

	// Closed channels drain any final flush, then report closed
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for channel close")
		}
	}
}
