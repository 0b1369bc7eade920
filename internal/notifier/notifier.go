package notifier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meshmart/notify/internal/logging"
	"github.com/meshmart/notify/internal/metrics"
	"github.com/meshmart/notify/internal/notifications"
)

// Config contains notifier configuration
type Config struct {
	// Maximum idle time before dropping a connection
	MaxIdleTime time.Duration

	// Heartbeat interval
	HeartbeatInterval time.Duration

	// Broadcast buffer size for batching updates
	BroadcastBufferSize int

	// Flush interval for the broadcast buffer
	BroadcastFlushInterval time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleTime:            30 * time.Second,
		HeartbeatInterval:      5 * time.Second,
		BroadcastBufferSize:    200,
		BroadcastFlushInterval: 50 * time.Millisecond,
	}
}

// Client represents a connected browser client
type Client struct {
	ID             string
	LastActive     time.Time
	conn           *websocket.Conn
	sseChannel     chan []byte
	updatesChannel chan notifications.Update
	isSSE          bool
	mu             sync.Mutex
}

// Notifier fans notification updates and connection-error events out to
// browser clients over WebSocket and SSE.
type Notifier struct {
	config          Config
	service         *notifications.Service
	clients         map[string]*Client
	mu              sync.RWMutex
	broadcastBuffer *BroadcastBuffer
	logger          zerolog.Logger
	metrics         *metrics.Metrics
}

// NewNotifier creates a new notifier over the notification service
func NewNotifier(config Config, service *notifications.Service) *Notifier {
	if config.MaxIdleTime == 0 {
		config.MaxIdleTime = DefaultConfig().MaxIdleTime
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.BroadcastBufferSize == 0 {
		config.BroadcastBufferSize = DefaultConfig().BroadcastBufferSize
	}
	if config.BroadcastFlushInterval == 0 {
		config.BroadcastFlushInterval = DefaultConfig().BroadcastFlushInterval
	}

	return &Notifier{
		config:          config,
		service:         service,
		clients:         make(map[string]*Client),
		broadcastBuffer: NewBroadcastBuffer(config.BroadcastBufferSize, config.BroadcastFlushInterval),
		logger:          logging.Component("notifier"),
		metrics:         metrics.GetMetrics(),
	}
}

// Start begins pumping service updates and connection errors to clients
func (n *Notifier) Start(ctx context.Context) error {
	n.logger.Info().Msg("Starting notifier")

	sub := n.service.Subscribe()

	go func() {
		defer n.service.Unsubscribe(sub.ID)

		for {
			select {
			case update, ok := <-sub.Updates:
				if !ok {
					n.logger.Info().Msg("Service update stream closed, stopping notifier pump")
					return
				}
				n.broadcastBuffer.Publish(update)

			case err, ok := <-n.service.ConnectionErrors():
				if !ok {
					return
				}
				n.broadcastControl(fmt.Sprintf(`{"kind":"connection_error","error":%q}`, err.Error()))

			case <-ctx.Done():
				n.logger.Info().Msg("Context canceled, stopping notifier pump")
				return
			}
		}
	}()

	go n.cleanupIdleClients(ctx)
	go n.sendHeartbeats(ctx)

	return nil
}

// RegisterWebSocketHandler registers the WebSocket handler with a Fiber app
func (n *Notifier) RegisterWebSocketHandler(app *fiber.App) {
	app.Use("/stream", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/stream", websocket.New(func(c *websocket.Conn) {
		n.handleWebSocketClient(c)
	}))
}

// RegisterSSEHandler registers the Server-Sent Events handler with a Fiber app
func (n *Notifier) RegisterSSEHandler(app *fiber.App) {
	app.Get("/stream-sse", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		client := n.createSSEClient()

		connMsg := fmt.Sprintf("event: connected\ndata: {\"client_id\":\"%s\"}\n\n", client.ID)
		_, _ = c.WriteString(connMsg)

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			for {
				select {
				case msg, ok := <-client.sseChannel:
					if !ok {
						return
					}

					fmt.Fprintf(w, "data: %s\n\n", msg)
					if err := w.Flush(); err != nil {
						n.removeClient(client.ID)
						return
					}

					client.mu.Lock()
					client.LastActive = time.Now()
					client.mu.Unlock()

				case <-c.Context().Done():
					n.removeClient(client.ID)
					return
				}
			}
		})

		return nil
	})
}

// handleWebSocketClient processes a WebSocket connection
func (n *Notifier) handleWebSocketClient(conn *websocket.Conn) {
	clientID := uuid.NewString()
	updatesChannel := n.broadcastBuffer.Subscribe(clientID, 100)

	client := &Client{
		ID:             clientID,
		LastActive:     time.Now(),
		conn:           conn,
		updatesChannel: updatesChannel,
		isSSE:          false,
	}

	n.mu.Lock()
	n.clients[clientID] = client
	n.mu.Unlock()

	// Read loop: clients only send pings, but reading keeps the
	// connection state fresh and detects disconnects.
	go func() {
		defer n.removeClient(clientID)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				n.logger.Debug().Err(err).Str("client_id", clientID).Msg("WebSocket read error")
				break
			}
			client.mu.Lock()
			client.LastActive = time.Now()
			client.mu.Unlock()
		}
	}()

	// Write loop: forward updates to the client
	for update := range updatesChannel {
		jsonData, err := json.Marshal(update)
		if err != nil {
			n.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to marshal update")
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, jsonData); err != nil {
			n.logger.Debug().Err(err).Str("client_id", clientID).Msg("WebSocket write error")
			break
		}

		n.metrics.NotifierEventsPublished.WithLabelValues("websocket").Inc()
	}
}

// createSSEClient creates a new SSE client
func (n *Notifier) createSSEClient() *Client {
	clientID := uuid.NewString()
	updatesChannel := n.broadcastBuffer.Subscribe(clientID, 100)

	client := &Client{
		ID:             clientID,
		LastActive:     time.Now(),
		sseChannel:     make(chan []byte, 100),
		updatesChannel: updatesChannel,
		isSSE:          true,
	}

	n.mu.Lock()
	n.clients[clientID] = client
	n.mu.Unlock()

	go func() {
		for update := range updatesChannel {
			jsonData, err := json.Marshal(update)
			if err != nil {
				n.logger.Error().Err(err).Str("client_id", clientID).Msg("Failed to marshal update")
				continue
			}

			select {
			case client.sseChannel <- jsonData:
				n.metrics.NotifierEventsPublished.WithLabelValues("sse").Inc()
			default:
				n.logger.Warn().Str("client_id", clientID).Msg("SSE channel buffer full, dropping update")
			}
		}
	}()

	return client
}

// broadcastControl writes a pre-encoded control event to every client,
// bypassing the update buffer.
func (n *Notifier) broadcastControl(payload string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, client := range n.clients {
		if client.isSSE {
			select {
			case client.sseChannel <- []byte(payload):
			default:
			}
		} else if client.conn != nil {
			_ = client.conn.WriteMessage(websocket.TextMessage, []byte(payload))
		}
	}
}

// removeClient removes a client
func (n *Notifier) removeClient(clientID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	client, exists := n.clients[clientID]
	if !exists {
		return
	}

	if client.isSSE {
		close(client.sseChannel)
	} else if client.conn != nil {
		client.conn.Close()
	}

	n.broadcastBuffer.Unsubscribe(clientID)
	delete(n.clients, clientID)

	n.logger.Debug().Str("client_id", clientID).Msg("Client removed")
}

// cleanupIdleClients periodically removes idle clients
func (n *Notifier) cleanupIdleClients(ctx context.Context) {
	ticker := time.NewTicker(n.config.MaxIdleTime / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.performClientCleanup()
		case <-ctx.Done():
			return
		}
	}
}

// performClientCleanup removes clients that have been idle for too long
func (n *Notifier) performClientCleanup() {
	now := time.Now()
	var idleClients []string

	n.mu.RLock()
	for id, client := range n.clients {
		client.mu.Lock()
		lastActive := client.LastActive
		client.mu.Unlock()

		if now.Sub(lastActive) > n.config.MaxIdleTime {
			idleClients = append(idleClients, id)
		}
	}
	n.mu.RUnlock()

	for _, id := range idleClients {
		n.removeClient(id)
		n.logger.Debug().Str("client_id", id).Msg("Removed idle client")
	}
}

// sendHeartbeats periodically sends heartbeat messages to clients
func (n *Notifier) sendHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(n.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			heartbeat := fmt.Sprintf(`{"kind":"heartbeat","timestamp":%q}`, time.Now().Format(time.RFC3339))
			n.broadcastControl(heartbeat)

		case <-ctx.Done():
			return
		}
	}
}

// Shutdown performs cleanup and stops the notifier
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.logger.Info().Msg("Shutting down notifier")

	if err := n.broadcastBuffer.Close(); err != nil {
		n.logger.Error().Err(err).Msg("Error closing broadcast buffer")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for id, client := range n.clients {
		if client.isSSE {
			close(client.sseChannel)
		} else if client.conn != nil {
			client.conn.Close()
		}
		delete(n.clients, id)
	}

	return nil
}
