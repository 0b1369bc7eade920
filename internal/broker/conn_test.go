package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnNotConnected(t *testing.T) {
	conn := NewConn(DefaultConfig())

	assert.False(t, conn.Connected())

	bus, err := conn.Bus()
	assert.Nil(t, bus)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnWithBus(t *testing.T) {
	bus := NewFakeBus()
	conn := NewConnWithBus(bus)

	got, err := conn.Bus()
	require.NoError(t, err)
	assert.Same(t, bus, got)
}

func TestStopSubscriptionsAttemptsAll(t *testing.T) {
	conn := NewConn(DefaultConfig())

	var firstStopped, secondStopped bool
	conn.Register("global.notifications.public", func() error {
		firstStopped = true
		return errors.New("unsubscribe failed")
	})
	conn.Register("p1.notifications.public", func() error {
		secondStopped = true
		return nil
	})

	// A failing teardown must not prevent the remaining ones
	conn.StopSubscriptions()
	assert.True(t, firstStopped)
	assert.True(t, secondStopped)
}

func TestCloseResolvesDespiteTeardownFailure(t *testing.T) {
	conn := NewConn(DefaultConfig())
	conn.Register("global.notifications.private.user123", func() error {
		return errors.New("unsubscribe failed")
	})

	// Close always succeeds, even with a failing subscription and no
	// open transport session.
	conn.Close()
	assert.False(t, conn.Connected())

	// Idempotent
	conn.Close()
}

func TestStopSubscriptionsClearsRegistry(t *testing.T) {
	conn := NewConn(DefaultConfig())

	calls := 0
	conn.Register("global.notifications.public", func() error {
		calls++
		return nil
	})

	conn.StopSubscriptions()
	conn.StopSubscriptions()
	assert.Equal(t, 1, calls)
}

func TestEmitErrorNonBlocking(t *testing.T) {
	conn := NewConn(Config{ErrorBuffer: 2})

	conn.emitError(errors.New("first"))
	conn.emitError(errors.New("second"))
	// Buffer is full; this must not block
	conn.emitError(errors.New("third"))

	errs := conn.Errors()
	first := <-errs
	assert.EqualError(t, first, "first")
	second := <-errs
	assert.EqualError(t, second, "second")

	select {
	case err := <-errs:
		t.Fatalf("unexpected error on stream: %v", err)
	default:
	}
}
