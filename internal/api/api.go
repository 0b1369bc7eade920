package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meshmart/notify/internal/broker"
	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
	"github.com/meshmart/notify/internal/notifications"
	"github.com/meshmart/notify/internal/notifier"
	"github.com/meshmart/notify/internal/readstate"
	"github.com/meshmart/notify/internal/telemetry"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Request body size limit in bytes
	MaxBodySize int

	// Timeouts in seconds
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		MaxBodySize:  1024 * 1024,
		ReadTimeout:  5,
		WriteTimeout: 10,
		IdleTimeout:  120,
	}
}

// API exposes the notification service over HTTP
type API struct {
	config   Config
	app      *fiber.App
	service  *notifications.Service
	notifier *notifier.Notifier
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewAPI creates a new API instance
func NewAPI(config Config, service *notifications.Service, n *notifier.Notifier) *API {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultConfig().MaxBodySize
	}

	return &API{
		config:   config,
		service:  service,
		notifier: n,
		logger:   logging.Component("api"),
		metrics:  metrics.GetMetrics(),
	}
}

// Start initializes and runs the API server
func (a *API) Start(ctx context.Context) error {
	a.logger.Info().Str("addr", a.config.Addr).Msg("Starting API server")

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(a.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(a.config.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(a.config.IdleTimeout) * time.Second,
		BodyLimit:    a.config.MaxBodySize,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New())
	app.Use(a.observeRequest)

	a.registerRoutes(app)

	a.app = app

	go func() {
		if err := app.Listen(a.config.Addr); err != nil {
			a.logger.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()
	return nil
}

// registerRoutes sets up all API endpoints
func (a *API) registerRoutes(app *fiber.App) {
	// Health checks
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		if !a.service.Connected() {
			return c.Status(fiber.StatusServiceUnavailable).SendString("broker connection down")
		}
		return c.SendString("OK")
	})

	// Metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
		handler(c.Context())
		return nil
	})

	// Session endpoint
	app.Post("/session", a.handleInitializeUser)

	// Notification endpoints
	app.Get("/notifications", a.handleListNotifications)
	app.Get("/notifications/unread", a.handleUnreadCount)
	app.Post("/notifications", a.handlePublishNotification)
	app.Post("/notifications/read", a.handleReadMessages)
	app.Get("/notifications/read/:key", a.handleReadMessageIDs)
	app.Get("/notifications/read/:key/:id", a.handleIsMessageRead)

	// Real-time streams
	a.notifier.RegisterWebSocketHandler(app)
	a.notifier.RegisterSSEHandler(app)
}

// handleInitializeUser starts a user session
func (a *API) handleInitializeUser(c *fiber.Ctx) error {
	var req struct {
		User     string   `json:"user"`
		Projects []string `json:"projects"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.User == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User is required",
		})
	}

	if err := a.service.InitializeUser(c.UserContext(), req.User, req.Projects); err != nil {
		return a.serviceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"user":     req.User,
		"projects": req.Projects,
	})
}

// handleListNotifications returns the current collection snapshot
func (a *API) handleListNotifications(c *fiber.Ctx) error {
	messages, unread := a.service.Messages()
	return c.JSON(fiber.Map{
		"messages": messages,
		"unread":   unread,
	})
}

// handleUnreadCount returns just the unread counter
func (a *API) handleUnreadCount(c *fiber.Ctx) error {
	_, unread := a.service.Messages()
	return c.JSON(fiber.Map{
		"unread": unread,
	})
}

// handlePublishNotification writes a notification to a subject
func (a *API) handlePublishNotification(c *fiber.Ctx) error {
	var req struct {
		Subject string                `json:"subject"`
		ID      string                `json:"id"`
		Payload notifications.Payload `json:"payload"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Subject == "" || req.ID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Subject and id are required",
		})
	}

	if err := a.service.PublishNotification(c.UserContext(), req.Subject, req.ID, req.Payload); err != nil {
		return a.serviceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// handleReadMessages marks a batch of message IDs as read
func (a *API) handleReadMessages(c *fiber.Ctx) error {
	var req struct {
		Key        string   `json:"key"`
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Key == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Key is required",
		})
	}

	if err := a.service.ReadMessages(c.UserContext(), req.Key, req.MessageIDs); err != nil {
		return a.serviceError(c, err)
	}

	messages, unread := a.service.Messages()
	return c.JSON(fiber.Map{
		"messages": messages,
		"unread":   unread,
	})
}

// handleReadMessageIDs returns the persisted read list for a key
func (a *API) handleReadMessageIDs(c *fiber.Ctx) error {
	ids, err := a.service.ReadMessageIDs(c.UserContext(), c.Params("key"))
	if err != nil {
		return a.serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"message_ids": ids,
	})
}

// handleIsMessageRead reports read membership for one message ID
func (a *API) handleIsMessageRead(c *fiber.Ctx) error {
	read, err := a.service.IsMessageRead(c.UserContext(), c.Params("key"), c.Params("id"))
	if err != nil {
		return a.serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"read": read,
	})
}

// observeRequest traces each request and records count and latency
// metrics per route
func (a *API) observeRequest(c *fiber.Ctx) error {
	start := time.Now()

	spanCtx, span := telemetry.StartSpan(c.UserContext(), c.Method()+" "+c.Path())
	c.SetUserContext(spanCtx)
	defer span.End()

	err := c.Next()

	status := c.Response().StatusCode()
	path := c.Route().Path
	telemetry.AddSpanAttributes(spanCtx,
		attribute.String("http.method", c.Method()),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", status),
	)
	a.metrics.APIRequestsTotal.WithLabelValues(
		c.Method(), path, fmt.Sprintf("%d", status),
	).Inc()
	a.metrics.APIRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())

	return err
}

// serviceError maps service errors to HTTP responses
func (a *API) serviceError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	if errors.Is(err, broker.ErrNotConnected) || errors.Is(err, readstate.ErrNotInitialized) {
		status = fiber.StatusServiceUnavailable
	}
	logger := logging.FromContext(c.UserContext())
	logger.Debug().Err(err).Str("path", c.Path()).Msg("Request failed")
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// Shutdown stops the API server
func (a *API) Shutdown(ctx context.Context) error {
	if a.app == nil {
		return nil
	}
	return a.app.ShutdownWithContext(ctx)
}
