package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
)

// Config contains broker connection configuration
type Config struct {
	// Credentials for the broker
	User     string
	Password string

	// Client name reported to the broker
	ClientName string

	// Timeout for the initial connect
	ConnectTimeout time.Duration

	// Buffer size of the connection-error stream
	ErrorBuffer int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		ClientName:     "marketplace-notify",
		ConnectTimeout: 5 * time.Second,
		ErrorBuffer:    16,
	}
}

// Conn owns the single live connection to the message broker. It tracks
// per-subject subscriptions so Close can tear them down, and surfaces
// connection errors on an observable stream.
type Conn struct {
	config Config

	mu   sync.Mutex
	nc   *nats.Conn
	bus  MessageBus
	subs map[string]func() error

	errs    chan error
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewConn creates an unconnected connection manager
func NewConn(config Config) *Conn {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if config.ErrorBuffer == 0 {
		config.ErrorBuffer = DefaultConfig().ErrorBuffer
	}

	return &Conn{
		config:  config,
		subs:    make(map[string]func() error),
		errs:    make(chan error, config.ErrorBuffer),
		logger:  logging.Component("broker"),
		metrics: metrics.GetMetrics(),
	}
}

// Connect opens the transport session to the broker at the given
// endpoint. A failure is emitted on the error stream and returned to the
// caller; no retry is attempted here.
func (c *Conn) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		return nil
	}

	opts := []nats.Option{
		nats.Name(c.config.ClientName),
		nats.Timeout(c.config.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.emitError(fmt.Errorf("broker connection lost: %w", err))
			}
		}),
	}
	if c.config.User != "" {
		opts = append(opts, nats.UserInfo(c.config.User, c.config.Password))
	}

	nc, err := nats.Connect(endpoint, opts...)
	if err != nil {
		c.metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
		err = fmt.Errorf("failed to connect to broker at %s: %w", endpoint, err)
		c.emitError(err)
		return err
	}

	bus, err := newJetStreamBus(nc)
	if err != nil {
		nc.Close()
		c.metrics.ConnectAttemptsTotal.WithLabelValues("failure").Inc()
		c.emitError(err)
		return err
	}

	c.nc = nc
	c.bus = bus
	c.metrics.ConnectAttemptsTotal.WithLabelValues("success").Inc()
	c.metrics.ConnectionUp.Set(1)
	c.logger.Info().Str("endpoint", endpoint).Msg("Connected to message broker")

	return nil
}

// Connected reports whether a transport session is open
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc != nil
}

// Bus returns the message bus for the open session
func (c *Conn) Bus() (MessageBus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		return nil, ErrNotConnected
	}
	return c.bus, nil
}

// Errors returns the connection-error stream
func (c *Conn) Errors() <-chan error {
	return c.errs
}

// Register records a per-subject subscription teardown hook so that
// Close (and session swaps) can stop it.
func (c *Conn) Register(subject string, stop func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[subject] = stop
	c.metrics.SubscriptionsActive.Set(float64(len(c.subs)))
}

// StopSubscriptions tears down all registered subscriptions. A failure
// for one subscription is logged and does not prevent attempting the
// others.
func (c *Conn) StopSubscriptions() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]func() error)
	c.metrics.SubscriptionsActive.Set(0)
	c.mu.Unlock()

	for subject, stop := range subs {
		if err := stop(); err != nil {
			c.logger.Error().Err(err).Str("subject", subject).Msg("Failed to unsubscribe")
		}
	}
}

// Close tears down all subscriptions and closes the transport session.
// Idempotent; teardown failures are swallowed after logging.
func (c *Conn) Close() {
	c.StopSubscriptions()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return
	}

	c.nc.Close()
	c.nc = nil
	c.bus = nil
	c.metrics.ConnectionUp.Set(0)
	c.logger.Info().Msg("Broker connection closed")
}

// emitError publishes an error on the connection-error stream without
// blocking; the oldest unobserved errors are dropped when the buffer is
// full.
func (c *Conn) emitError(err error) {
	c.metrics.ConnectionErrorsTotal.Inc()
	select {
	case c.errs <- err:
	default:
		c.logger.Warn().Err(err).Msg("Connection error stream full, dropping error")
	}
}
