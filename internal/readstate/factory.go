package readstate

import (
	"context"
	"fmt"
	"time"

	"github.com/meshmart/notify/internal/broker"
)

// Backend selects the read-state storage implementation
type Backend string

const (
	// BackendJetStream stores read-state in a broker-side KV bucket
	BackendJetStream Backend = "jetstream"

	// BackendBadger stores read-state in an embedded local database
	BackendBadger Backend = "badger"
)

// Config contains read-state store configuration
type Config struct {
	// Backend to use
	Backend Backend

	// Data directory for the embedded backend
	DataDir string

	// Value-log GC interval for the embedded backend
	GCInterval time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Backend:    BackendJetStream,
		DataDir:    "./data",
		GCInterval: 10 * time.Minute,
	}
}

// Open creates the per-user store for the configured backend. The
// JetStream backend requires an open message bus; the Badger backend
// works without one.
func Open(ctx context.Context, config Config, bus broker.MessageBus, user string) (*Store, error) {
	switch config.Backend {
	case BackendBadger:
		kv, err := openBadgerKV(config.DataDir, user, config.GCInterval)
		if err != nil {
			return nil, err
		}
		return New(kv, kv.close), nil

	case BackendJetStream, "":
		if bus == nil {
			return nil, broker.ErrNotConnected
		}
		kv, err := bus.KeyValue(ctx, BucketName(user))
		if err != nil {
			return nil, fmt.Errorf("failed to open read-state bucket for %s: %w", user, err)
		}
		return New(kv, nil), nil

	default:
		return nil, fmt.Errorf("unknown read-state backend: %s", config.Backend)
	}
}
