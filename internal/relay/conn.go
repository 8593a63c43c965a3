// Package relay is the signaling server: it assigns transport ids, fans
// call events out to the right sockets, and forwards SDP and ICE between
// peers without inspecting them. It also hosts the call REST endpoints.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

var ErrBackpressure = errors.New("backpressure")

// client is one connected socket. A user may hold several at once; each one
// gets its own transport id.
type client struct {
	id   domain.TransportID
	user domain.User

	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newClient(id domain.TransportID, user domain.User, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		user: user,
		conn: conn,
		send: make(chan core.Frame, 32),
	}
}

func (c *client) info() signal.PeerInfo {
	return signal.PeerInfo{SocketID: c.id, UserID: c.user.ID, Username: c.user.Username}
}

// TrySend enqueues without blocking; a full buffer is the caller's problem.
func (c *client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *client) Close() {
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

func (h *Hub) writePump(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *client) {
	defer func() {
		log.Info().Str("module", "relay").Str("sid", string(c.id)).Msg("readPump closing")
		h.Unregister(c)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "relay").Str("sid", string(c.id)).Msg("readPump read error")
				return
			}
			h.handleFrame(c, data)
		}
	}
}
