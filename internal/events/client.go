package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler consumes one raw frame. *Dispatcher satisfies it.
type Handler interface {
	HandleMessage(ctx context.Context, raw []byte) error
}

type subscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// Client keeps one WebSocket subscription alive and feeds every frame to a Handler.
type Client struct {
	url      string
	token    string
	channels []string
	handler  Handler
	dialer   *websocket.Dialer
	limiter  *rate.Limiter
	logger   *slog.Logger

	pongWait   time.Duration
	pingPeriod time.Duration

	connected atomic.Bool
}

// NewClient builds a client. Connection attempts are spaced at least
// reconnectEvery apart.
func NewClient(url, token string, channels []string, handler Handler, reconnectEvery time.Duration, logger *slog.Logger) *Client {
	if reconnectEvery <= 0 {
		reconnectEvery = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        url,
		token:      token,
		channels:   channels,
		handler:    handler,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		limiter:    rate.NewLimiter(rate.Every(reconnectEvery), 1),
		logger:     logger,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Run connects, serves and reconnects until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		if attempt > 0 {
			wsReconnects.Inc()
			c.logger.Info("websocket reconnecting", "attempt", attempt)
		}
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("websocket disconnected", "error", err)
	}
}

func (c *Client) serve(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	for _, channel := range c.channels {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Channel: channel}); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("websocket connected", "url", c.url, "channels", len(c.channels))

	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if err := c.handler.HandleMessage(ctx, data); err != nil && !errors.Is(err, ErrUnknownType) {
			c.logger.Debug("websocket frame dropped", "error", err)
		}
	}
}

// keepalive pings the server and closes the connection when ctx ends so the
// read loop returns.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
