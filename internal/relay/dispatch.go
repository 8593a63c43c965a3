package relay

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

func (h *Hub) handleFrame(c *client, data []byte) {
	var env signal.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "relay").Str("sid", string(c.id)).Msg("bad json")
		return
	}

	switch env.Event {
	case signal.EvJoinRoom:
		h.handleJoinRoom(c, env.Data)
	case signal.EvLeave:
		h.handleLeave(c, env.Data)
	case signal.EvOffer, signal.EvAnswer:
		h.forwardDescription(c, env.Event, env.Data)
	case signal.EvCandidate:
		h.forwardCandidate(c, env.Data)
	case signal.EvToggleAudio:
		h.forwardToggleAudio(c, env.Data)
	case signal.EvToggleVideo:
		h.forwardToggleVideo(c, env.Data)
	default:
		log.Warn().Str("module", "relay").Str("event", env.Event).Msg("unknown signal")
	}
}

// handleJoinRoom puts the socket into the call's media room. The joiner gets
// the member list back and offers to each of them; everyone else just learns
// a peer arrived.
func (h *Hub) handleJoinRoom(c *client, data json.RawMessage) {
	var p signal.JoinRoom
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad join-room payload")
		return
	}

	h.mu.Lock()
	if _, ok := h.calls[p.CallID]; !ok {
		h.mu.Unlock()
		log.Warn().Str("module", "relay").Str("call_id", string(p.CallID)).Msg("join-room for unknown call")
		return
	}
	room, ok := h.rooms[p.CallID]
	if !ok {
		room = make(map[domain.TransportID]*client)
		h.rooms[p.CallID] = room
	}
	members := make([]signal.PeerInfo, 0, len(room))
	others := make([]*client, 0, len(room))
	for _, m := range room {
		members = append(members, m.info())
		others = append(others, m)
	}
	room[c.id] = c
	h.mu.Unlock()

	log.Info().Str("module", "relay").Str("sid", string(c.id)).Str("call_id", string(p.CallID)).Msg("join room")
	h.sendEvent(c, signal.EvRoomMembers, signal.RoomMembers{CallID: p.CallID, Members: members})

	joined := signal.PeerJoined{CallID: p.CallID, Peer: c.info()}
	for _, m := range others {
		h.sendEvent(m, signal.EvPeerJoined, joined)
	}
}

// handleLeave removes the socket from the room without dropping the
// connection.
func (h *Hub) handleLeave(c *client, data json.RawMessage) {
	var p signal.PeerLeft
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad leave payload")
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[p.CallID]
	if ok {
		delete(room, c.id)
		if len(room) == 0 {
			delete(h.rooms, p.CallID)
		}
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	log.Info().Str("module", "relay").Str("sid", string(c.id)).Str("call_id", string(p.CallID)).Msg("leave room")
	h.broadcastRoom(p.CallID, c.id, signal.EvPeerLeft, signal.PeerLeft{CallID: p.CallID, SocketID: c.id, UserID: c.user.ID})
}

// forwardDescription relays an offer or answer to its target socket. The
// sender identity is re-stamped; clients cannot spoof each other.
func (h *Hub) forwardDescription(c *client, event string, data json.RawMessage) {
	var d signal.Description
	if err := json.Unmarshal(data, &d); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad description payload")
		return
	}

	h.mu.Lock()
	target, ok := h.clients[d.TargetSocketID]
	h.mu.Unlock()
	if !ok {
		log.Warn().Str("module", "relay").Str("target", string(d.TargetSocketID)).Str("event", event).Msg("description target not connected")
		return
	}

	d.FromSocketID = c.id
	d.FromUserID = c.user.ID
	h.sendEvent(target, event, d)
}

func (h *Hub) forwardCandidate(c *client, data json.RawMessage) {
	var p signal.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad candidate payload")
		return
	}

	h.mu.Lock()
	target, ok := h.clients[p.TargetSocketID]
	h.mu.Unlock()
	if !ok {
		return
	}

	p.FromSocketID = c.id
	h.sendEvent(target, signal.EvCandidate, p)
}

func (h *Hub) forwardToggleAudio(c *client, data json.RawMessage) {
	var p signal.ToggleAudio
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad toggle-audio payload")
		return
	}
	p.UserID = c.user.ID
	h.broadcastRoom(p.CallID, c.id, signal.EvToggleAudio, p)
}

func (h *Hub) forwardToggleVideo(c *client, data json.RawMessage) {
	var p signal.ToggleVideo
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad toggle-video payload")
		return
	}
	p.UserID = c.user.ID
	h.broadcastRoom(p.CallID, c.id, signal.EvToggleVideo, p)
}
