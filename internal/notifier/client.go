package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"go.uber.org/zap"
)

// DefaultReconnectDelay is the wait between connection attempts.
const DefaultReconnectDelay = 10 * time.Second

// UpdateFunc handles one update message.
type UpdateFunc func(ctx context.Context, msg Message)

// Client holds a connection to a notifier server.
type Client struct {
	url      string
	onUpdate UpdateFunc
	delay    time.Duration
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReconnectDelay sets the wait after a failed or closed connection.
func WithReconnectDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the ws:// or wss:// url.
func NewClient(url string, onUpdate UpdateFunc, opts ...ClientOption) *Client {
	c := &Client{
		url:      url,
		onUpdate: onUpdate,
		delay:    DefaultReconnectDelay,
		dialer:   &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run keeps a connection open until ctx is cancelled. Every dial or read
// failure is logged and followed by the reconnect delay.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("notifier connection lost, reconnecting",
			zap.String("url", c.url), zap.Duration("delay", c.delay), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.delay):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	header := http.Header{"User-Agent": []string{branding.UserAgent()}}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.url, err)
	}
	defer conn.Close()
	c.logger.Info("notifier connected", zap.String("url", c.url))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed notifier frame", zap.Error(err))
			continue
		}
		if msg.Type != TypeUpdate {
			continue
		}
		c.logger.Info("update signal received")
		if c.onUpdate != nil {
			// Handled off the read loop so control frames keep flowing.
			go c.onUpdate(ctx, msg)
		}
	}
}
