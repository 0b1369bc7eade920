package notifier

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meshmart/notify/internal/metrics"
	"github.com/meshmart/notify/internal/notifications"
)

// BroadcastBuffer batches notification updates and distributes them to
// all subscribed clients without copying per subscriber.
type BroadcastBuffer struct {
	bufferSize    int
	flushInterval time.Duration

	subscribers     map[string]chan notifications.Update
	subscribersLock sync.RWMutex

	currentBuffer     []notifications.Update
	currentBufferLock sync.Mutex

	forceFlush chan struct{}
	closeCh    chan struct{}
	closeOnce  sync.Once

	metrics *metrics.Metrics
}

// NewBroadcastBuffer creates a broadcast buffer and starts its flush loop
func NewBroadcastBuffer(bufferSize int, flushInterval time.Duration) *BroadcastBuffer {
	b := &BroadcastBuffer{
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		subscribers:   make(map[string]chan notifications.Update),
		currentBuffer: make([]notifications.Update, 0, bufferSize),
		forceFlush:    make(chan struct{}, 1),
		closeCh:       make(chan struct{}),
		metrics:       metrics.GetMetrics(),
	}

	go b.bufferFlushLoop()

	return b
}

// Subscribe adds a new subscriber to the broadcast
func (b *BroadcastBuffer) Subscribe(id string, buffer int) chan notifications.Update {
	b.subscribersLock.Lock()
	defer b.subscribersLock.Unlock()

	channel := make(chan notifications.Update, buffer)
	b.subscribers[id] = channel
	b.metrics.NotifierConnectionsActive.Inc()

	return channel
}

// Unsubscribe removes a subscriber from the broadcast
func (b *BroadcastBuffer) Unsubscribe(id string) {
	b.subscribersLock.Lock()
	defer b.subscribersLock.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
		b.metrics.NotifierConnectionsActive.Dec()
	}
}

// Publish adds an update to the broadcast buffer
func (b *BroadcastBuffer) Publish(update notifications.Update) {
	b.currentBufferLock.Lock()
	defer b.currentBufferLock.Unlock()

	b.currentBuffer = append(b.currentBuffer, update)

	if len(b.currentBuffer) >= b.bufferSize {
		select {
		case b.forceFlush <- struct{}{}:
		default:
			// A flush is already queued
		}
	}
}

// bufferFlushLoop periodically flushes the buffer to all subscribers
func (b *BroadcastBuffer) bufferFlushLoop() {
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.forceFlush:
			b.flush()
		case <-b.closeCh:
			b.flush()
			return
		}
	}
}

// flush sends buffered updates to all subscribers
func (b *BroadcastBuffer) flush() {
	b.currentBufferLock.Lock()
	buffer := b.currentBuffer
	if len(buffer) == 0 {
		b.currentBufferLock.Unlock()
		return
	}
	b.currentBuffer = make([]notifications.Update, 0, b.bufferSize)
	b.currentBufferLock.Unlock()

	// Hold the subscribers lock across the sends: Unsubscribe and Close
	// only close a channel while holding the write lock, so a channel
	// seen here cannot be closed underneath us. Sends never block.
	b.subscribersLock.RLock()
	defer b.subscribersLock.RUnlock()

	if len(b.subscribers) == 0 {
		return
	}

	start := time.Now()

	for id, ch := range b.subscribers {
		sent := 0
		skipped := 0
		for _, update := range buffer {
			select {
			case ch <- update:
				sent++
			default:
				skipped++
			}
		}
		if skipped > 0 {
			log.Warn().
				Str("subscriber_id", id).
				Int("dropped", skipped).
				Msg("Subscriber channel is full, dropping updates")
		}
		b.metrics.NotifierEventsPublished.WithLabelValues("broadcast").Add(float64(sent))
	}

	b.metrics.NotifierEventDelay.Observe(time.Since(start).Seconds())
}

// Close shuts down the broadcast buffer
func (b *BroadcastBuffer) Close() error {
	b.closeOnce.Do(func() {
		close(b.closeCh)
	})

	b.subscribersLock.Lock()
	defer b.subscribersLock.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}

	return nil
}
