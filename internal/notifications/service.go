package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/broker"
	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
	"github.com/meshmart/notify/internal/readstate"
)

// Config contains notification service configuration
type Config struct {
	// Window within which a message counts as live
	LiveWindow time.Duration

	// Buffer size for subscriber update channels
	SubscriberBuffer int

	// Capacity of the seen-message-ID dedup cache
	SeenCacheSize int

	// Read-state store settings
	ReadState readstate.Config
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		LiveWindow:       5 * time.Second,
		SubscriberBuffer: 100,
		SeenCacheSize:    4096,
		ReadState:        readstate.DefaultConfig(),
	}
}

// Service owns the notification state for the active user session: the
// broker connection, the per-user read-state store, the in-memory
// message collection and the observable update streams. All mutation
// goes through the operations below; there is no ambient global state.
type Service struct {
	config Config
	conn   *broker.Conn
	hub    *hub

	mu            sync.Mutex
	store         *readstate.Store
	agg           *aggregator
	user          string
	projects      []string
	sessionCancel context.CancelFunc

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewService creates a notification service over a connection manager
func NewService(config Config, conn *broker.Conn) (*Service, error) {
	if config.LiveWindow == 0 {
		config.LiveWindow = DefaultConfig().LiveWindow
	}
	if config.SubscriberBuffer == 0 {
		config.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	if config.SeenCacheSize == 0 {
		config.SeenCacheSize = DefaultConfig().SeenCacheSize
	}

	agg, err := newAggregator(config.LiveWindow, config.SeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}

	return &Service{
		config:  config,
		conn:    conn,
		hub:     newHub(config.SubscriberBuffer),
		agg:     agg,
		logger:  logging.Component("notifications"),
		metrics: metrics.GetMetrics(),
	}, nil
}

// Initialize opens the broker connection. A failure is surfaced on the
// connection-error stream and returned; the caller decides whether to
// retry or degrade.
func (s *Service) Initialize(ctx context.Context, endpoint string) error {
	return s.conn.Connect(ctx, endpoint)
}

// InitializeUser starts (or restarts) a user session: it seeds the
// read-state cache for the fixed subject set, then begins loading
// messages for every subject. Seeding fully completes before any stream
// is consumed. A previous session's drains are stopped and its
// collection is discarded before the new one starts.
func (s *Service) InitializeUser(ctx context.Context, user string, projects []string) error {
	bus, err := s.conn.Bus()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.sessionCancel != nil {
		s.sessionCancel()
		s.sessionCancel = nil
	}
	s.conn.StopSubscriptions()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close previous read-state store")
		}
		s.store = nil
	}

	store, err := readstate.Open(ctx, s.config.ReadState, bus, user)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := store.Seed(ctx, ReadKeys(user, projects)); err != nil {
		s.closeAbandonedStore(store)
		s.mu.Unlock()
		return err
	}

	agg, err := newAggregator(s.config.LiveWindow, s.config.SeenCacheSize)
	if err != nil {
		s.closeAbandonedStore(store)
		s.mu.Unlock()
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s.store = store
	s.agg = agg
	s.user = user
	s.projects = append([]string(nil), projects...)
	s.sessionCancel = cancel
	s.mu.Unlock()

	// The collection is replaced wholesale on each reload cycle; a
	// live message from the previous session must not survive it.
	s.hub.dropLive()
	s.hub.publish(Update{Kind: UpdateMessages, Messages: []Message{}, Unread: 0})

	s.logger.Info().Str("user", user).Int("projects", len(projects)).Msg("Initialized user session")
	return s.loadMessages(sessionCtx, bus, store, agg, user, projects)
}

// closeAbandonedStore releases a store that was opened but never
// installed on the service, so a failed InitializeUser does not hold
// file-backed resources across a retry. Called with s.mu held.
func (s *Service) closeAbandonedStore(store *readstate.Store) {
	if err := store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to close abandoned read-state store")
	}
}

// ReadMessages durably marks a batch of message IDs as read for a
// subject key, then updates the in-memory collection and republishes.
// A storage error aborts the whole operation with no in-memory
// mutation applied.
func (s *Service) ReadMessages(ctx context.Context, key string, messageIDs []string) error {
	s.mu.Lock()
	store, agg := s.store, s.agg
	s.mu.Unlock()
	if store == nil {
		return readstate.ErrNotInitialized
	}

	persisted, err := store.MarkRead(ctx, key, messageIDs)
	if err != nil {
		return err
	}

	msgs, unread := agg.markRead(toSet(messageIDs), toSet(persisted))
	s.hub.publish(Update{Kind: UpdateMessages, Messages: msgs, Unread: unread})
	return nil
}

// ReadMessageIDs returns the persisted read list for a subject key
func (s *Service) ReadMessageIDs(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return nil, readstate.ErrNotInitialized
	}
	return store.ReadIDs(ctx, key)
}

// IsMessageRead reports whether a message ID is persisted as read for a
// subject key
func (s *Service) IsMessageRead(ctx context.Context, key, messageID string) (bool, error) {
	s.mu.Lock()
	store := s.store
	s.mu.Unlock()
	if store == nil {
		return false, readstate.ErrNotInitialized
	}
	return store.IsRead(ctx, key, messageID)
}

// Messages returns the current collection snapshot and unread count
func (s *Service) Messages() ([]Message, int) {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	return agg.snapshot()
}

// Subscribe registers an observer of the update streams. The latest
// collection snapshot is replayed immediately.
func (s *Service) Subscribe() *Subscription {
	return s.hub.subscribe()
}

// Unsubscribe removes an observer
func (s *Service) Unsubscribe(id string) {
	s.hub.unsubscribe(id)
}

// ConnectionErrors returns the connection-error stream
func (s *Service) ConnectionErrors() <-chan error {
	return s.conn.Errors()
}

// Connected reports whether the broker connection is up
func (s *Service) Connected() bool {
	return s.conn.Connected()
}

// PublishNotification writes a notification to a subject with the
// dedup header set. Used by provisioning workflows and test tooling.
func (s *Service) PublishNotification(ctx context.Context, subject, id string, p Payload) error {
	bus, err := s.conn.Bus()
	if err != nil {
		return err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	return bus.Publish(ctx, subject, id, data)
}

// Close stops the active session's drains, tears down subscriptions and
// closes the broker connection. Always succeeds.
func (s *Service) Close() {
	s.mu.Lock()
	if s.sessionCancel != nil {
		s.sessionCancel()
		s.sessionCancel = nil
	}
	store := s.store
	s.store = nil
	s.mu.Unlock()

	if store != nil {
		if err := store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close read-state store")
		}
	}
	s.conn.Close()
	s.hub.closeAll()
	s.logger.Info().Msg("Notification service closed")
}

// toSet builds a membership set from a list of IDs
func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
