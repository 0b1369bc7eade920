package readstate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/broker"
	"github.com/meshmart/notify/internal/logging"
)

// badgerKV backs the read-state store with an embedded Badger database,
// used for local development and single-node deployments where no
// broker-side KV bucket is wanted.
type badgerKV struct {
	db     *badger.DB
	stopGC chan struct{}
	logger zerolog.Logger
}

// openBadgerKV opens (or creates) the per-user database under dataDir.
func openBadgerKV(dataDir, user string, gcInterval time.Duration) (*badgerKV, error) {
	dir := filepath.Join(dataDir, BucketName(user))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create read-state directory: %w", err)
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open read-state database: %w", err)
	}

	kv := &badgerKV{
		db:     db,
		stopGC: make(chan struct{}),
		logger: logging.Component("readstate").With().Str("backend", "badger").Logger(),
	}

	if gcInterval > 0 {
		go kv.gcLoop(gcInterval)
	}

	return kv, nil
}

func (k *badgerKV) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, broker.ErrKeyNotFound
		}
		return nil, err
	}
	return value, nil
}

func (k *badgerKV) Put(_ context.Context, key string, value []byte) error {
	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// gcLoop periodically reclaims value-log space
func (k *badgerKV) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := k.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				k.logger.Debug().Err(err).Msg("Value log GC pass failed")
			}
		case <-k.stopGC:
			return
		}
	}
}

func (k *badgerKV) close() error {
	close(k.stopGC)
	return k.db.Close()
}
