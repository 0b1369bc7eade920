package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/meshmart/notify/internal/api"
	"github.com/meshmart/notify/internal/broker"
	"github.com/meshmart/notify/internal/config"
	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
	"github.com/meshmart/notify/internal/notifications"
	"github.com/meshmart/notify/internal/notifier"
	"github.com/meshmart/notify/internal/readstate"
	"github.com/meshmart/notify/internal/telemetry"
)

// Engine is the main coordinator of all service components
type Engine struct {
	config      *config.Config
	conn        *broker.Conn
	service     *notifications.Service
	notifier    *notifier.Notifier
	api         *api.API
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	telemetryFn func(context.Context) error
}

// CreateEngine creates an Engine with all components initialized from
// the configuration
func CreateEngine(cfg *config.Config) (*Engine, error) {
	conn := broker.NewConn(broker.Config{
		User:           cfg.NATS.User,
		Password:       cfg.NATS.Password,
		ClientName:     cfg.NATS.ClientName,
		ConnectTimeout: time.Duration(cfg.NATS.ConnectTimeoutSeconds) * time.Second,
	})

	service, err := notifications.NewService(notifications.Config{
		LiveWindow:       time.Duration(cfg.Notifications.LiveWindowMs) * time.Millisecond,
		SubscriberBuffer: cfg.Notifications.SubscriberBuffer,
		SeenCacheSize:    cfg.Notifications.SeenCacheSize,
		ReadState: readstate.Config{
			Backend:    readstate.Backend(cfg.ReadState.Backend),
			DataDir:    cfg.ReadState.DataDir,
			GCInterval: time.Duration(cfg.ReadState.GCIntervalMinutes) * time.Minute,
		},
	}, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification service: %w", err)
	}

	n := notifier.NewNotifier(notifier.Config{
		MaxIdleTime:            time.Duration(cfg.Notifier.MaxIdleTime) * time.Second,
		HeartbeatInterval:      time.Duration(cfg.Notifier.HeartbeatInterval) * time.Second,
		BroadcastBufferSize:    cfg.Notifier.BroadcastBufferSize,
		BroadcastFlushInterval: time.Duration(cfg.Notifier.BroadcastFlushIntervalMs) * time.Millisecond,
	}, service)

	a := api.NewAPI(api.Config{
		Addr:         cfg.Server.Addr,
		MaxBodySize:  cfg.Server.MaxBodySize,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}, service, n)

	return &Engine{
		config:   cfg,
		conn:     conn,
		service:  service,
		notifier: n,
		api:      a,
		logger:   logging.Component("engine"),
		metrics:  metrics.GetMetrics(),
	}, nil
}

// Start initializes and runs all components until the context is
// canceled
func (e *Engine) Start(ctx context.Context) error {
	loggingConfig := logging.DefaultConfig()
	loggingConfig.Level = logging.LogLevel(e.config.Logging.Level)
	loggingConfig.Format = logging.LogFormat(e.config.Logging.Format)
	loggingConfig.IncludeCaller = e.config.Logging.IncludeCaller
	loggingConfig.GlobalFields = e.config.Logging.GlobalFields
	if err := logging.Setup(loggingConfig); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	e.logger.Info().Msg("Starting notification engine")

	telShutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:       e.config.Telemetry.Enabled,
		ServiceName:   e.config.Telemetry.ServiceName,
		Endpoint:      e.config.Telemetry.Endpoint,
		SamplingRatio: e.config.Telemetry.SamplingRatio,
		Attributes:    e.config.Telemetry.Attributes,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	// A connection failure disables notifications for the process but
	// keeps the HTTP surface up; readiness reports the degraded state.
	if err := e.service.Initialize(ctx, e.config.NATS.URL); err != nil {
		e.logger.Error().Err(err).Msg("Broker connection failed, notifications unavailable")
	} else if e.config.Notifications.User != "" {
		if err := e.service.InitializeUser(ctx, e.config.Notifications.User, e.config.Notifications.Projects); err != nil {
			e.logger.Error().Err(err).Str("user", e.config.Notifications.User).Msg("Failed to bootstrap user session")
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.notifier.Start(ctx)
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("Notification engine shut down")
	return nil
}

// Service returns the notification service
func (e *Engine) Service() *notifications.Service {
	return e.service
}

// Shutdown stops all components
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down notification engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	if err := e.notifier.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down notifier")
	}

	e.service.Close()

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return nil
}
