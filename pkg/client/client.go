package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Message is a notification as served by the API
type Message struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	Type    string    `json:"type"`
	Title   string    `json:"title"`
	Body    string    `json:"message"`
	Date    time.Time `json:"date"`
	Read    bool      `json:"read"`
}

// Update is one event on the real-time stream
type Update struct {
	Kind     string    `json:"kind"`
	Messages []Message `json:"messages,omitempty"`
	Unread   int       `json:"unread"`
	Live     *Message  `json:"live,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Client is an HTTP client for the notification service API
type Client struct {
	baseURL         string
	httpClient      *http.Client
	headers         http.Header
	websocketDialer *websocket.Dialer
	timeout         time.Duration
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
		c.httpClient.Timeout = timeout
	}
}

// WithHeaders sets additional HTTP headers
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// New creates a new notification service client
func New(baseURL string, options ...ClientOption) *Client {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	client := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		headers:         headers,
		websocketDialer: websocket.DefaultDialer,
		timeout:         10 * time.Second,
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// InitializeUser starts a session for a user and its authorized projects
func (c *Client) InitializeUser(ctx context.Context, user string, projects []string) error {
	body := map[string]any{"user": user, "projects": projects}
	return c.post(ctx, "/session", body, nil)
}

// Notifications returns the current collection snapshot and unread count
func (c *Client) Notifications(ctx context.Context) ([]Message, int, error) {
	var resp struct {
		Messages []Message `json:"messages"`
		Unread   int       `json:"unread"`
	}
	if err := c.get(ctx, "/notifications", &resp); err != nil {
		return nil, 0, err
	}
	return resp.Messages, resp.Unread, nil
}

// ReadMessages marks a batch of message IDs as read for a subject key
func (c *Client) ReadMessages(ctx context.Context, key string, messageIDs []string) error {
	body := map[string]any{"key": key, "message_ids": messageIDs}
	return c.post(ctx, "/notifications/read", body, nil)
}

// ReadMessageIDs returns the persisted read list for a subject key
func (c *Client) ReadMessageIDs(ctx context.Context, key string) ([]string, error) {
	var resp struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.get(ctx, "/notifications/read/"+url.PathEscape(key), &resp); err != nil {
		return nil, err
	}
	return resp.MessageIDs, nil
}

// IsMessageRead reports whether a message is persisted as read
func (c *Client) IsMessageRead(ctx context.Context, key, messageID string) (bool, error) {
	var resp struct {
		Read bool `json:"read"`
	}
	path := "/notifications/read/" + url.PathEscape(key) + "/" + url.PathEscape(messageID)
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Read, nil
}

// Publish writes a notification to a subject
func (c *Client) Publish(ctx context.Context, subject, id, msgType, title, message string, date time.Time) error {
	body := map[string]any{
		"subject": subject,
		"id":      id,
		"payload": map[string]string{
			"type":    msgType,
			"title":   title,
			"message": message,
			"date":    date.Format(time.RFC3339),
		},
	}
	return c.post(ctx, "/notifications", body, nil)
}

// Stream connects to the WebSocket update stream. Updates are delivered
// on the returned channel until the context is canceled or the
// connection drops, at which point the channel is closed.
func (c *Client) Stream(ctx context.Context) (<-chan Update, error) {
	wsURL, err := c.websocketURL("/stream")
	if err != nil {
		return nil, err
	}

	conn, _, err := c.websocketDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}

	updates := make(chan Update, 100)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(updates)
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var update Update
			if err := json.Unmarshal(data, &update); err != nil {
				continue
			}
			if update.Kind == "heartbeat" {
				continue
			}

			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates, nil
}

// websocketURL converts the base URL to a ws/wss URL for a path
func (c *Client) websocketURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// get issues a GET request and decodes the JSON response
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// post issues a POST request with a JSON body
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// do executes a request, checking the status and decoding the response
func (c *Client) do(req *http.Request, out any) error {
	for k, values := range c.headers {
		for _, v := range values {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("request failed (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
