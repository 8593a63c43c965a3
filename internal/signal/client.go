// Package signal implements the websocket client side of the signaling
// channel: an event-named JSON envelope protocol with per-sender ordering
// (a websocket guarantee) and backpressure-aware sends.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// Handler receives the raw data payload of one envelope. Handlers run on the
// read pump goroutine, so events from the relay are processed in order.
type Handler func(data json.RawMessage)

type Client struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	idMu  sync.RWMutex
	id    domain.TransportID
	ready chan struct{}
}

// Dial connects to the relay. The returned client is idle until Run is
// called; register handlers before Run to avoid missing early events.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		send:     make(chan core.Frame, 32),
		handlers: make(map[string]Handler),
		ready:    make(chan struct{}),
	}
	c.On(EvConnected, c.handleConnected)
	return c, nil
}

func (c *Client) handleConnected(data json.RawMessage) {
	var p Connected
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connected payload")
		return
	}
	c.idMu.Lock()
	first := c.id == ""
	c.id = p.SocketID
	c.idMu.Unlock()
	if first {
		close(c.ready)
	}
	log.Info().Str("module", "signal").Str("socket_id", string(p.SocketID)).Msg("connected")
}

// Run starts the read/write pumps and blocks until ctx is canceled or the
// connection drops.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// ID returns the relay-assigned transport id, blocking until the handshake
// completes or ctx expires.
func (c *Client) ID(ctx context.Context) (domain.TransportID, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.id, nil
}

// On registers the handler for an event name, replacing any previous one.
func (c *Client) On(event string, h Handler) {
	c.handlerMu.Lock()
	c.handlers[event] = h
	c.handlerMu.Unlock()
}

// Emit publishes v under the given event name. It fails fast with
// ErrBackpressure when the send buffer is full rather than blocking the
// caller.
func (c *Client) Emit(event string, v any) error {
	env, err := NewEnvelope(event, v)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.TrySend(b)
}

func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
