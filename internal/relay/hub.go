package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

var (
	ErrRateLimited  = errors.New("too many call attempts")
	ErrBadTarget    = errors.New("exactly one of receiverId or groupId required")
	ErrUnknownGroup = errors.New("unknown group")
	ErrUnknownCall  = errors.New("unknown call")
	ErrNotInvited   = errors.New("not a participant of this call")
)

// callEntry is the relay-side session record.
type callEntry struct {
	call     domain.Call
	caller   signal.PeerInfo
	invited  map[domain.UserID]struct{}
	answered map[domain.UserID]struct{}
	expire   *time.Timer
}

// Hub owns every connected socket and every live call. All maps are guarded
// by one mutex; handlers copy what they need and send outside the lock.
type Hub struct {
	ringTimeout     time.Duration
	maxParticipants int
	policy          Policy
	limiter         *CallRateLimiter

	mu      sync.Mutex
	clients map[domain.TransportID]*client
	byUser  map[domain.UserID]map[domain.TransportID]*client
	rooms   map[domain.CallID]map[domain.TransportID]*client
	calls   map[domain.CallID]*callEntry
	groups  map[domain.GroupID]*domain.Group
}

func NewHub(ringTimeout time.Duration, maxParticipants int) *Hub {
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	if maxParticipants <= 0 {
		maxParticipants = 8
	}
	return &Hub{
		ringTimeout:     ringTimeout,
		maxParticipants: maxParticipants,
		policy:          SignalPolicy{},
		limiter:         NewCallRateLimiter(5, time.Minute),
		clients:         make(map[domain.TransportID]*client),
		byUser:          make(map[domain.UserID]map[domain.TransportID]*client),
		rooms:           make(map[domain.CallID]map[domain.TransportID]*client),
		calls:           make(map[domain.CallID]*callEntry),
		groups:          make(map[domain.GroupID]*domain.Group),
	}
}

// Serve registers the socket, runs the handshake and pumps until the
// connection dies.
func (h *Hub) Serve(ctx context.Context, user domain.User, ws *websocket.Conn) {
	c := newClient(domain.TransportID(uuid.NewString()), user, ws)

	h.mu.Lock()
	h.clients[c.id] = c
	conns, ok := h.byUser[user.ID]
	if !ok {
		conns = make(map[domain.TransportID]*client)
		h.byUser[user.ID] = conns
	}
	conns[c.id] = c
	h.mu.Unlock()

	log.Info().Str("module", "relay").Str("sid", string(c.id)).Str("user_id", string(user.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		h.writePump(ctx, c)
		cancel()
	}()

	h.sendEvent(c, signal.EvConnected, signal.Connected{SocketID: c.id})
	h.readPump(ctx, c)
	cancel()
}

// Unregister drops the socket from every structure and tells its rooms.
func (h *Hub) Unregister(c *client) {
	type departure struct {
		callID  domain.CallID
		members []*client
	}
	var gone []departure

	h.mu.Lock()
	delete(h.clients, c.id)
	if conns, ok := h.byUser[c.user.ID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.byUser, c.user.ID)
		}
	}
	for id, room := range h.rooms {
		if _, ok := room[c.id]; !ok {
			continue
		}
		delete(room, c.id)
		gone = append(gone, departure{callID: id, members: roomSnapshot(room)})
		if len(room) == 0 {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()

	c.Close()
	for _, d := range gone {
		left := signal.PeerLeft{CallID: d.callID, SocketID: c.id, UserID: c.user.ID}
		for _, m := range d.members {
			h.sendEvent(m, signal.EvPeerLeft, left)
		}
	}
}

func roomSnapshot(room map[domain.TransportID]*client) []*client {
	out := make([]*client, 0, len(room))
	for _, m := range room {
		out = append(out, m)
	}
	return out
}

func (h *Hub) sendEvent(c *client, event string, v any) {
	env, err := signal.NewEnvelope(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal event")
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("marshal envelope")
		return
	}
	if err := c.TrySend(data); err == nil {
		return
	} else if !errors.Is(err, ErrBackpressure) {
		return
	}
	switch h.policy.OnBackPressure(c, event) {
	case DropFrame:
		log.Warn().Str("module", "relay").Str("sid", string(c.id)).Str("event", event).Msg("frame dropped on backpressure")
	case KickClient:
		log.Warn().Str("module", "relay").Str("sid", string(c.id)).Str("event", event).Msg("kicking slow client")
		c.Close()
	}
}

func (h *Hub) sendToUser(uid domain.UserID, event string, v any) {
	h.mu.Lock()
	conns := roomSnapshot(h.byUser[uid])
	h.mu.Unlock()
	for _, c := range conns {
		h.sendEvent(c, event, v)
	}
}

func (h *Hub) broadcastRoom(id domain.CallID, except domain.TransportID, event string, v any) {
	h.mu.Lock()
	members := roomSnapshot(h.rooms[id])
	h.mu.Unlock()
	for _, m := range members {
		if m.id == except {
			continue
		}
		h.sendEvent(m, event, v)
	}
}

// notifyParties reaches everyone tied to the call whether or not they have
// joined the media room yet. The recipient list is snapshotted under the
// lock; other handlers mutate the invite set concurrently.
func (h *Hub) notifyParties(e *callEntry, event string, v any) {
	h.mu.Lock()
	uids := []domain.UserID{e.call.InitiatorID}
	for uid := range e.invited {
		if uid != e.call.InitiatorID {
			uids = append(uids, uid)
		}
	}
	h.mu.Unlock()

	for _, uid := range uids {
		h.sendToUser(uid, event, v)
	}
}

// CreateGroup registers (or replaces) a group definition.
func (h *Hub) CreateGroup(g *domain.Group) {
	h.mu.Lock()
	h.groups[g.ID] = g
	h.mu.Unlock()
}

func (h *Hub) primaryConn(uid domain.UserID) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.byUser[uid] {
		return c
	}
	return nil
}

// InitiateCall creates the session record and rings the invitees.
func (h *Hub) InitiateCall(caller domain.User, receiver domain.UserID, groupID domain.GroupID, kind domain.MediaKind) (*domain.Call, error) {
	if (receiver == "") == (groupID == "") {
		return nil, ErrBadTarget
	}
	if !h.limiter.Allow(caller.ID) {
		return nil, ErrRateLimited
	}
	if kind != domain.MediaVideo {
		kind = domain.MediaAudio
	}

	sess := domain.Call{
		ID:              domain.CallID(uuid.NewString()),
		Mode:            domain.CallModeDirect,
		Kind:            kind,
		Status:          domain.CallActive,
		InitiatorID:     caller.ID,
		ReceiverID:      receiver,
		StartedAt:       time.Now().UTC(),
		MaxParticipants: 2,
	}
	invited := map[domain.UserID]struct{}{}
	if receiver != "" {
		invited[receiver] = struct{}{}
	} else {
		h.mu.Lock()
		g, ok := h.groups[groupID]
		h.mu.Unlock()
		if !ok {
			return nil, ErrUnknownGroup
		}
		sess.Mode = domain.CallModeGroup
		sess.GroupID = groupID
		sess.ReceiverID = ""
		sess.MaxParticipants = h.maxParticipants
		for _, m := range g.Members {
			if m != caller.ID {
				invited[m] = struct{}{}
			}
		}
	}

	callerInfo := signal.PeerInfo{UserID: caller.ID, Username: caller.Username}
	if c := h.primaryConn(caller.ID); c != nil {
		callerInfo.SocketID = c.id
	}
	e := &callEntry{
		call:     sess,
		caller:   callerInfo,
		invited:  invited,
		answered: make(map[domain.UserID]struct{}),
	}
	// Grace on top of the client-side ring timeout so the clients always
	// give up first.
	e.expire = time.AfterFunc(h.ringTimeout+5*time.Second, func() {
		h.expireCall(sess.ID)
	})

	h.mu.Lock()
	h.calls[sess.ID] = e
	h.mu.Unlock()

	notice := signal.CallNotice{Call: sess, Caller: &callerInfo}
	for uid := range invited {
		h.sendToUser(uid, signal.EvIncomingCall, notice)
	}
	h.sendToUser(caller.ID, signal.EvCallInitiated, signal.CallNotice{Call: sess})

	log.Info().Str("module", "relay").Str("call_id", string(sess.ID)).Str("mode", string(sess.Mode)).Str("caller", string(caller.ID)).Msg("call initiated")
	return &sess, nil
}

func (h *Hub) AnswerCall(user domain.User, id domain.CallID) error {
	h.mu.Lock()
	e, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownCall
	}
	if _, ok := e.invited[user.ID]; !ok {
		h.mu.Unlock()
		return ErrNotInvited
	}
	e.answered[user.ID] = struct{}{}
	if e.expire != nil {
		e.expire.Stop()
		e.expire = nil
	}
	h.mu.Unlock()

	info := signal.PeerInfo{UserID: user.ID, Username: user.Username}
	if c := h.primaryConn(user.ID); c != nil {
		info.SocketID = c.id
	}
	h.notifyParties(e, signal.EvCallAnswered, signal.CallAnswered{CallID: id, User: info})
	log.Info().Str("module", "relay").Str("call_id", string(id)).Str("user_id", string(user.ID)).Msg("call answered")
	return nil
}

func (h *Hub) DeclineCall(user domain.User, id domain.CallID, reason string) error {
	h.mu.Lock()
	e, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownCall
	}
	if _, invited := e.invited[user.ID]; !invited {
		h.mu.Unlock()
		return ErrNotInvited
	}
	delete(e.invited, user.ID)
	direct := e.call.Mode == domain.CallModeDirect
	if direct {
		h.removeCallLocked(id, e)
	}
	h.mu.Unlock()

	h.notifyParties(e, signal.EvCallDeclined, signal.CallDeclined{CallID: id, UserID: user.ID, Reason: reason})
	h.sendToUser(user.ID, signal.EvCallDeclined, signal.CallDeclined{CallID: id, UserID: user.ID, Reason: reason})
	log.Info().Str("module", "relay").Str("call_id", string(id)).Str("user_id", string(user.ID)).Msg("call declined")
	return nil
}

// EndCall finishes the session. In a group call a non-initiator hanging up
// only leaves; the session outlives them.
func (h *Hub) EndCall(uid domain.UserID, id domain.CallID) error {
	h.mu.Lock()
	e, ok := h.calls[id]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownCall
	}
	if e.call.Mode == domain.CallModeGroup && uid != e.call.InitiatorID {
		room := h.rooms[id]
		var leaving []*client
		for tid, m := range room {
			if m.user.ID == uid {
				leaving = append(leaving, m)
				delete(room, tid)
			}
		}
		delete(e.answered, uid)
		empty := len(room) == 0
		if empty {
			h.removeCallLocked(id, e)
		}
		h.mu.Unlock()

		for _, m := range leaving {
			h.broadcastRoom(id, m.id, signal.EvPeerLeft, signal.PeerLeft{CallID: id, SocketID: m.id, UserID: uid})
		}
		if empty {
			h.notifyParties(e, signal.EvCallEnded, signal.CallEnded{CallID: id, Reason: "ended"})
		}
		return nil
	}

	h.removeCallLocked(id, e)
	h.mu.Unlock()

	h.notifyParties(e, signal.EvCallEnded, signal.CallEnded{CallID: id, Reason: "ended"})
	log.Info().Str("module", "relay").Str("call_id", string(id)).Str("user_id", string(uid)).Msg("call ended")
	return nil
}

func (h *Hub) expireCall(id domain.CallID) {
	h.mu.Lock()
	e, ok := h.calls[id]
	if !ok || len(e.answered) > 0 {
		h.mu.Unlock()
		return
	}
	h.removeCallLocked(id, e)
	h.mu.Unlock()

	h.notifyParties(e, signal.EvCallEnded, signal.CallEnded{CallID: id, Reason: "timeout"})
	log.Info().Str("module", "relay").Str("call_id", string(id)).Msg("unanswered call expired")
}

func (h *Hub) removeCallLocked(id domain.CallID, e *callEntry) {
	if e.expire != nil {
		e.expire.Stop()
		e.expire = nil
	}
	delete(h.calls, id)
	delete(h.rooms, id)
}
