package notifications

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/logging"
)

// UpdateKind distinguishes the observable streams carried by the hub
type UpdateKind string

const (
	// UpdateMessages carries a full collection snapshot plus the
	// recomputed unread count.
	UpdateMessages UpdateKind = "messages"

	// UpdateLive carries the most recent live message. It is a
	// last-observed signal, not a delivery-guaranteed feed.
	UpdateLive UpdateKind = "live"
)

// Update is one event on a subscription's stream
type Update struct {
	Kind     UpdateKind `json:"kind"`
	Messages []Message  `json:"messages,omitempty"`
	Unread   int        `json:"unread"`
	Live     *Message   `json:"live,omitempty"`
}

// Subscription receives updates from the notification service
type Subscription struct {
	ID      string
	Updates chan Update
}

// hub fans updates out to subscribers. New subscribers immediately
// receive the last published collection snapshot and the most recent
// live message, so observers always start from a complete view.
//
// Sends and closes on a subscription channel both happen under mu:
// a channel is only ever closed after it has been removed from subs,
// so publish can never race a close. Sends never block (publish drops
// on a full buffer), so holding the lock across the fan-out is safe.
type hub struct {
	mu           sync.Mutex
	subs         map[string]*Subscription
	buffer       int
	lastMessages *Update
	lastLive     *Update
	logger       zerolog.Logger
}

func newHub(buffer int) *hub {
	return &hub{
		subs:   make(map[string]*Subscription),
		buffer: buffer,
		logger: logging.Component("notifications"),
	}
}

// subscribe registers a new subscriber and replays the latest snapshot
// and live message
func (h *hub) subscribe() *Subscription {
	sub := &Subscription{
		ID:      generateID(),
		Updates: make(chan Update, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs[sub.ID] = sub
	for _, u := range []*Update{h.lastMessages, h.lastLive} {
		if u == nil {
			continue
		}
		select {
		case sub.Updates <- *u:
		default:
		}
	}
	return sub
}

// unsubscribe removes a subscriber and closes its channel
func (h *hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.Updates)
}

// publish fans an update out without blocking; subscribers with a full
// buffer miss it.
func (h *hub) publish(u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()

	retained := u
	switch u.Kind {
	case UpdateMessages:
		h.lastMessages = &retained
	case UpdateLive:
		h.lastLive = &retained
	}

	for _, sub := range h.subs {
		select {
		case sub.Updates <- u:
		default:
			h.logger.Warn().
				Str("subscription_id", sub.ID).
				Str("kind", string(u.Kind)).
				Msg("Subscriber channel buffer full, dropping update")
		}
	}
}

// dropLive discards the retained live message; called when a new user
// session replaces the collection.
func (h *hub) dropLive() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastLive = nil
}

// closeAll removes every subscriber
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.Updates)
	}
	h.lastMessages = nil
	h.lastLive = nil
}

// Variable for generating unique subscription IDs
// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
