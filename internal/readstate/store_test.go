package readstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshmart/notify/internal/broker"
)

func TestSeedInitializesMissingKeys(t *testing.T) {
	kv := broker.NewFakeKV()
	store := New(kv, nil)

	keys := []string{
		"global.notifications.public.user123.read",
		"global.notifications.private.user123.read",
		"p1.notifications.public.user123.read",
		"p2.notifications.public.user123.read",
	}
	err := store.Seed(context.Background(), keys)
	require.NoError(t, err)

	// Every key was checked, then initialized to an empty list
	assert.Equal(t, keys, kv.GetCalls)
	assert.Equal(t, keys, kv.PutCalls)
	for _, key := range keys {
		assert.Equal(t, []byte("[]"), kv.Data[key])
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.Data["p1.notifications.public.user123.read"] = []byte(`["m1"]`)
	store := New(kv, nil)

	keys := []string{
		"p1.notifications.public.user123.read",
		"p2.notifications.public.user123.read",
	}
	err := store.Seed(context.Background(), keys)
	require.NoError(t, err)

	// The pre-existing value survives; only the missing key is written
	assert.Equal(t, []byte(`["m1"]`), kv.Data["p1.notifications.public.user123.read"])
	assert.Equal(t, []string{"p2.notifications.public.user123.read"}, kv.PutCalls)

	// A second pass writes nothing at all
	kv.PutCalls = nil
	err = store.Seed(context.Background(), keys)
	require.NoError(t, err)
	assert.Empty(t, kv.PutCalls)
}

func TestSeedPropagatesBackendError(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.GetErr = errors.New("bucket unavailable")
	store := New(kv, nil)

	err := store.Seed(context.Background(), []string{"p1.notifications.public.user123.read"})
	assert.Error(t, err)
}

func TestReadIDsMissingKey(t *testing.T) {
	store := New(broker.NewFakeKV(), nil)

	ids, err := store.ReadIDs(context.Background(), "global.notifications.public.user123.read")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.NotNil(t, ids)
}

func TestIsRead(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.Data["p1.notifications.public.user123.read"] = []byte(`["m1","m2"]`)
	store := New(kv, nil)

	read, err := store.IsRead(context.Background(), "p1.notifications.public.user123.read", "m1")
	require.NoError(t, err)
	assert.True(t, read)

	read, err = store.IsRead(context.Background(), "p1.notifications.public.user123.read", "m3")
	require.NoError(t, err)
	assert.False(t, read)
}

func TestMarkReadFiltersDuplicates(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.Data["p1.notifications.public.user123.read"] = []byte(`["m1"]`)
	store := New(kv, nil)

	merged, err := store.MarkRead(context.Background(), "p1.notifications.public.user123.read", []string{"m1", "m2", "m2", "m3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, merged)
	assert.Equal(t, []byte(`["m1","m2","m3"]`), kv.Data["p1.notifications.public.user123.read"])
}

func TestMarkReadSkipsWriteWhenNothingNew(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.Data["p1.notifications.public.user123.read"] = []byte(`["m1","m2"]`)
	store := New(kv, nil)

	merged, err := store.MarkRead(context.Background(), "p1.notifications.public.user123.read", []string{"m2", "m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, merged)
	assert.Empty(t, kv.PutCalls)
}

func TestMarkReadPersistErrorLeavesStateUntouched(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.Data["p1.notifications.public.user123.read"] = []byte(`["m1"]`)
	kv.PutErr = errors.New("write rejected")
	store := New(kv, nil)

	_, err := store.MarkRead(context.Background(), "p1.notifications.public.user123.read", []string{"m2"})
	assert.Error(t, err)
	assert.Equal(t, []byte(`["m1"]`), kv.Data["p1.notifications.public.user123.read"])
}

func TestReadIDsCorruptValue(t *testing.T) {
	kv := broker.NewFakeKV()
	kv.Data["p1.notifications.public.user123.read"] = []byte("not json")
	store := New(kv, nil)

	_, err := store.ReadIDs(context.Background(), "p1.notifications.public.user123.read")
	assert.Error(t, err)
}

func TestBucketName(t *testing.T) {
	assert.Equal(t, "notifications-user123", BucketName("user123"))
	assert.Equal(t, "notifications-user_example_com", BucketName("user@example.com"))
}

func TestOpenJetStreamBackend(t *testing.T) {
	bus := broker.NewFakeBus()

	store, err := Open(context.Background(), DefaultConfig(), bus, "user123")
	require.NoError(t, err)
	require.NotNil(t, store)

	// The per-user bucket was created on the bus
	assert.Contains(t, bus.Buckets, "notifications-user123")
	assert.NoError(t, store.Close())
}

func TestOpenJetStreamBackendRequiresBus(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig(), nil, "user123")
	assert.ErrorIs(t, err, broker.ErrNotConnected)
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "cassandra"
	_, err := Open(context.Background(), cfg, broker.NewFakeBus(), "user123")
	assert.Error(t, err)
}

func TestOpenBadgerBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendBadger
	cfg.DataDir = t.TempDir()

	store, err := Open(context.Background(), cfg, nil, "user123")
	require.NoError(t, err)
	defer store.Close()

	key := "global.notifications.public.user123.read"
	require.NoError(t, store.Seed(context.Background(), []string{key}))

	merged, err := store.MarkRead(context.Background(), key, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, merged)

	read, err := store.IsRead(context.Background(), key, "m1")
	require.NoError(t, err)
	assert.True(t, read)
}
