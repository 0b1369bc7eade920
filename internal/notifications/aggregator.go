package notifications

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
)

// aggregator owns the in-memory message collection shared by all
// subject drains. Messages from every subject accumulate into the one
// collection; each publish hands out a copy, so observers only ever see
// complete snapshots.
type aggregator struct {
	mu       sync.Mutex
	messages []Message
	index    map[string]int

	// seen filters broker redeliveries within a load cycle, including
	// messages dropped as invalid.
	seen *lru.Cache

	liveWindow time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	// now is replaceable in tests
	now func() time.Time
}

func newAggregator(liveWindow time.Duration, seenCapacity int) (*aggregator, error) {
	seen, err := lru.New(seenCapacity)
	if err != nil {
		return nil, err
	}
	return &aggregator{
		index:      make(map[string]int),
		seen:       seen,
		liveWindow: liveWindow,
		logger:     logging.Component("aggregator"),
		metrics:    metrics.GetMetrics(),
		now:        time.Now,
	}, nil
}

// ingest validates one raw message and admits it to the collection.
// Messages without a dedup ID, duplicates, and messages failing the
// validity invariant are dropped. The returned flag reports whether the
// message fell inside the liveness window, evaluated once, here.
func (a *aggregator) ingest(subject, id string, data []byte, readIDs map[string]struct{}) (*Message, bool) {
	if id == "" {
		a.metrics.MessagesConsumedTotal.WithLabelValues("missing_id").Inc()
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.index[id]; dup || a.seen.Contains(id) {
		a.metrics.MessagesConsumedTotal.WithLabelValues("duplicate").Inc()
		return nil, false
	}
	a.seen.Add(id, struct{}{})

	msg, err := decodeMessage(subject, id, data)
	if err != nil {
		a.metrics.MessagesConsumedTotal.WithLabelValues("invalid").Inc()
		a.logger.Debug().Err(err).Str("subject", subject).Str("id", id).Msg("Dropping invalid message")
		return nil, false
	}

	_, msg.Read = readIDs[msg.ID]

	a.index[msg.ID] = len(a.messages)
	a.messages = append(a.messages, msg)
	a.metrics.MessagesConsumedTotal.WithLabelValues("admitted").Inc()

	live := msg.live(a.now(), a.liveWindow)
	if live {
		a.metrics.LiveMessagesTotal.Inc()
	}
	return &msg, live
}

// finalize sorts the collection by date descending, recomputes the
// unread count and returns a snapshot. Called once per subject when its
// drain reports no more pending messages.
func (a *aggregator) finalize() ([]Message, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sort.SliceStable(a.messages, func(i, j int) bool {
		return a.messages[i].Date.After(a.messages[j].Date)
	})
	for i, m := range a.messages {
		a.index[m.ID] = i
	}

	return a.snapshotLocked()
}

// snapshot returns a copy of the collection and the unread count
func (a *aggregator) snapshot() ([]Message, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *aggregator) snapshotLocked() ([]Message, int) {
	out := make([]Message, len(a.messages))
	copy(out, a.messages)

	unread := 0
	for _, m := range a.messages {
		if !m.Read {
			unread++
		}
	}

	a.metrics.CollectionSize.Set(float64(len(out)))
	a.metrics.UnreadMessages.Set(float64(unread))
	return out, unread
}

// markRead flips the read flag for the given IDs and recomputes the
// unread count against the now-current persisted read list, guarding
// the race where in-memory and persisted state diverge. The count never
// goes negative.
func (a *aggregator) markRead(ids, persisted map[string]struct{}) ([]Message, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id := range ids {
		if i, ok := a.index[id]; ok {
			a.messages[i].Read = true
		}
	}

	out := make([]Message, len(a.messages))
	copy(out, a.messages)

	unread := 0
	for _, m := range a.messages {
		if m.Read {
			continue
		}
		if _, ok := persisted[m.ID]; ok {
			continue
		}
		unread++
	}
	if unread < 0 {
		unread = 0
	}

	a.metrics.UnreadMessages.Set(float64(unread))
	return out, unread
}

// reset discards the collection ahead of a full reload cycle
func (a *aggregator) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = nil
	a.index = make(map[string]int)
	a.seen.Purge()
	a.metrics.CollectionSize.Set(0)
	a.metrics.UnreadMessages.Set(0)
}
