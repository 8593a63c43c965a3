package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/arklight/callwire/internal/domain"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// testRelay is a minimal relay endpoint: it completes the handshake and
// records every envelope the client sends.
type testRelay struct {
	srv      *httptest.Server
	received chan Envelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	r := &testRelay{received: make(chan Envelope, 16)}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := testUpgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conn = ws
		r.mu.Unlock()

		env, _ := NewEnvelope(EvConnected, Connected{SocketID: "sid-1"})
		b, _ := json.Marshal(env)
		_ = ws.WriteMessage(websocket.TextMessage, b)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var in Envelope
			if json.Unmarshal(data, &in) == nil {
				r.received <- in
			}
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *testRelay) push(t *testing.T, event string, v any) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotNil(t, r.conn)
	env, err := NewEnvelope(event, v)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, r.conn.WriteMessage(websocket.TextMessage, b))
}

func dialTestRelay(t *testing.T, r *testRelay) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	c, err := Dial(ctx, r.url())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	go c.Run(ctx)
	return c
}

func TestHandshakeAssignsTransportID(t *testing.T) {
	r := newTestRelay(t)
	c := dialTestRelay(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := c.ID(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.TransportID("sid-1"), id)
}

func TestEmitReachesRelay(t *testing.T) {
	r := newTestRelay(t)
	c := dialTestRelay(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.ID(ctx)
	require.NoError(t, err)

	require.NoError(t, c.Emit(EvJoinRoom, JoinRoom{CallID: "call-1", PeerID: "sid-1"}))

	select {
	case env := <-r.received:
		require.Equal(t, EvJoinRoom, env.Event)
		var p JoinRoom
		require.NoError(t, json.Unmarshal(env.Data, &p))
		require.Equal(t, domain.CallID("call-1"), p.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received the frame")
	}
}

func TestDispatchRoutesByEventName(t *testing.T) {
	r := newTestRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	c, err := Dial(ctx, r.url())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	got := make(chan PeerJoined, 1)
	c.On(EvPeerJoined, func(data json.RawMessage) {
		var p PeerJoined
		if json.Unmarshal(data, &p) == nil {
			got <- p
		}
	})
	go c.Run(ctx)

	idCtx, idCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer idCancel()
	_, err = c.ID(idCtx)
	require.NoError(t, err)

	// An event nobody registered for must not break the stream.
	r.push(t, "call:unknown", map[string]string{"x": "y"})
	r.push(t, EvPeerJoined, PeerJoined{
		CallID: "call-1",
		Peer:   PeerInfo{SocketID: "other", UserID: "bob"},
	})

	select {
	case p := <-got:
		require.Equal(t, domain.TransportID("other"), p.Peer.SocketID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}
}

func TestTrySendAfterClose(t *testing.T) {
	r := newTestRelay(t)
	c := dialTestRelay(t, r)

	c.Close()
	require.ErrorIs(t, c.Emit(EvLeave, PeerLeft{CallID: "call-1"}), ErrClosed)
	// Close tolerates repeats.
	c.Close()
}

func TestBackpressureFailsFast(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()
	c, err := Dial(ctx, r.url())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	// Run never starts, so the send buffer fills and then rejects.
	var sawBackpressure bool
	for i := 0; i < 64; i++ {
		if err := c.TrySend([]byte("{}")); err != nil {
			require.ErrorIs(t, err, ErrBackpressure)
			sawBackpressure = true
			break
		}
	}
	require.True(t, sawBackpressure)
}
