package client

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const (
	defaultMaxRetries = 5
	defaultRetryDelay = time.Second
)

// ErrNoChannel is returned by Emit when no realtime channel is connected.
// Callers treat it as a signal to fall back to the HTTP transport.
var ErrNoChannel = errors.New("realtime channel not connected")

// ErrConnClosed is returned when operating on an explicitly closed connection.
var ErrConnClosed = errors.New("connection closed")

// DispatchFunc receives inbound frames in channel-delivery order.
type DispatchFunc func(models.Frame)

// ConnConfig configures the shared realtime channel.
type ConnConfig struct {
	// URL is the websocket endpoint, normally APIClient.WSURL().
	URL   string
	Token string
	// MaxRetries bounds automatic reconnection attempts; RetryDelay is the
	// fixed pause between them. Zero values take the defaults (5, 1s).
	MaxRetries int
	RetryDelay time.Duration
	Dialer     *websocket.Dialer
}

// Conn owns the single bidirectional channel for the session. It is built
// once by the application's composition root and injected wherever the
// engine needs it; there is no package-level instance. Connect on an
// already-connected Conn is a no-op, and no reconnection is attempted after
// an explicit Close.
type Conn struct {
	cfg      ConnConfig
	dispatch DispatchFunc
	onUp     func()
	onDown   func(error)

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool
}

// NewConn builds the channel handle without dialing.
func NewConn(cfg ConnConfig, dispatch DispatchFunc) *Conn {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Conn{cfg: cfg, dispatch: dispatch}
}

// OnUp registers a callback invoked after every successful (re)connect.
// Must be set before Connect.
func (c *Conn) OnUp(fn func()) {
	c.onUp = fn
}

// OnDown registers a callback invoked when reconnection attempts are
// exhausted. Must be set before Connect.
func (c *Conn) OnDown(fn func(error)) {
	c.onDown = fn
}

// Connect establishes the channel if not already connected.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.adopt(ws)
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	ws, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	return ws, err
}

// adopt installs a freshly dialed socket as the session's channel. Exactly
// one channel may exist: when another dial already won, or the Conn was
// closed meanwhile, the incoming socket is closed and discarded.
func (c *Conn) adopt(ws *websocket.Conn) bool {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		ws.Close()
		return false
	}
	c.ws = ws
	c.connected = true
	c.mu.Unlock()

	observability.SetChannelUp(true)
	go c.readLoop(ws)
	if c.onUp != nil {
		c.onUp()
	}
	return true
}

// Connected reports whether a live channel exists. "false" is a valid state:
// callers degrade to the HTTP transport.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emit sends one frame over the channel.
func (c *Conn) Emit(kind models.EventKind, payload any) error {
	frame, err := models.NewFrame(kind, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if !c.connected || c.ws == nil {
		return ErrNoChannel
	}
	return c.ws.WriteJSON(frame)
}

// Close tears the channel down and disables reconnection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	observability.SetChannelUp(false)
	if c.ws != nil {
		err := c.ws.Close()
		c.ws = nil
		return err
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var frame models.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.connected = false
			c.ws = nil
			c.mu.Unlock()
			observability.SetChannelUp(false)

			if closed {
				return
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("channel read error: %v", err)
			}
			c.reconnect(err)
			return
		}
		observability.IncChannelEvent(string(frame.Event))
		c.dispatch(frame)
	}
}

// reconnect retries with a fixed delay until the bound is hit, then reports
// the connection-failed state through OnDown.
func (c *Conn) reconnect(cause error) {
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		time.Sleep(c.cfg.RetryDelay)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ws, err := c.dial(context.Background())
		if err != nil {
			cause = err
			log.Printf("channel reconnect attempt %d/%d failed: %v", attempt, c.cfg.MaxRetries, err)
			continue
		}
		// A concurrent Connect may have restored the channel already; the
		// redundant socket is discarded by adopt.
		if c.adopt(ws) {
			observability.IncReconnect()
		}
		return
	}
	if c.onDown != nil {
		c.onDown(cause)
	}
}
