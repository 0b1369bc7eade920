package readstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/broker"
	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
)

// ErrNotInitialized is returned when a read-state operation is invoked
// before a user session opened the store.
var ErrNotInitialized = errors.New("KV store not initialized")

// emptyList is the serialized value a key is seeded with.
const emptyList = "[]"

// BucketName derives the durable bucket name for a user. Characters the
// broker does not allow in bucket names are mapped to underscores.
func BucketName(user string) string {
	return "notifications-" + sanitize(user)
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Store is a per-user durable cache of read message IDs, keyed by
// subject read-key. Keys are only ever appended to, never deleted.
type Store struct {
	kv     broker.KeyValue
	closer func() error

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a store over an open bucket. The optional closer releases
// backend resources on Close.
func New(kv broker.KeyValue, closer func() error) *Store {
	return &Store{
		kv:      kv,
		closer:  closer,
		logger:  logging.Component("readstate"),
		metrics: metrics.GetMetrics(),
	}
}

// Seed initializes each key to an empty list when absent. Pre-existing
// state is never overwritten, so seeding is idempotent.
func (s *Store) Seed(ctx context.Context, keys []string) error {
	for _, key := range keys {
		_, err := s.kv.Get(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, broker.ErrKeyNotFound) {
			s.metrics.ReadStateOperations.WithLabelValues("seed", "false").Inc()
			return fmt.Errorf("failed to check read-state key %s: %w", key, err)
		}

		if err := s.kv.Put(ctx, key, []byte(emptyList)); err != nil {
			s.metrics.ReadStateOperations.WithLabelValues("seed", "false").Inc()
			return fmt.Errorf("failed to seed read-state key %s: %w", key, err)
		}
		s.metrics.ReadStateKeysSeeded.Inc()
		s.logger.Debug().Str("key", key).Msg("Seeded read-state key")
	}
	s.metrics.ReadStateOperations.WithLabelValues("seed", "true").Inc()
	return nil
}

// ReadIDs returns the list of message IDs marked read for a key. A key
// with no entry yields an empty list.
func (s *Store) ReadIDs(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	defer func() {
		s.metrics.ReadStateOperationDuration.WithLabelValues("get").Observe(time.Since(start).Seconds())
	}()

	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, broker.ErrKeyNotFound) {
			return []string{}, nil
		}
		s.metrics.ReadStateOperations.WithLabelValues("get", "false").Inc()
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}

	ids, err := decodeIDs(raw)
	if err != nil {
		s.metrics.ReadStateOperations.WithLabelValues("get", "false").Inc()
		return nil, fmt.Errorf("corrupt read-state value for key %s: %w", key, err)
	}

	s.metrics.ReadStateOperations.WithLabelValues("get", "true").Inc()
	return ids, nil
}

// IsRead reports whether a message ID is recorded as read for a key.
func (s *Store) IsRead(ctx context.Context, key, messageID string) (bool, error) {
	ids, err := s.ReadIDs(ctx, key)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == messageID {
			return true, nil
		}
	}
	return false, nil
}

// MarkRead appends the given message IDs to a key's read list,
// filtering duplicates. When every supplied ID is already recorded, no
// write is issued. The returned list is the persisted state after the
// call.
func (s *Store) MarkRead(ctx context.Context, key string, messageIDs []string) ([]string, error) {
	start := time.Now()
	defer func() {
		s.metrics.ReadStateOperationDuration.WithLabelValues("mark_read").Observe(time.Since(start).Seconds())
	}()

	current, err := s.ReadIDs(ctx, key)
	if err != nil {
		return nil, err
	}

	merged, added := mergeNew(current, messageIDs)
	if added == 0 {
		s.metrics.ReadStateOperations.WithLabelValues("mark_read", "true").Inc()
		return current, nil
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		s.metrics.ReadStateOperations.WithLabelValues("mark_read", "false").Inc()
		return nil, fmt.Errorf("failed to encode read-state for key %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, encoded); err != nil {
		s.metrics.ReadStateOperations.WithLabelValues("mark_read", "false").Inc()
		return nil, fmt.Errorf("failed to persist read-state for key %s: %w", key, err)
	}

	s.metrics.ReadStateOperations.WithLabelValues("mark_read", "true").Inc()
	s.logger.Debug().Str("key", key).Int("added", added).Msg("Marked messages read")
	return merged, nil
}

// Close releases backend resources
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// decodeIDs parses a stored JSON array of message IDs. An empty value
// decodes to an empty list.
func decodeIDs(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// mergeNew appends the IDs not already present, preserving order and
// filtering duplicates within the new batch itself.
func mergeNew(current, incoming []string) ([]string, int) {
	known := make(map[string]struct{}, len(current))
	for _, id := range current {
		known[id] = struct{}{}
	}

	merged := current
	added := 0
	for _, id := range incoming {
		if _, ok := known[id]; ok {
			continue
		}
		known[id] = struct{}{}
		merged = append(merged, id)
		added++
	}
	return merged, added
}
