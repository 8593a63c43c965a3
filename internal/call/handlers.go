package call

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

// BindChannel subscribes the coordinator to every signaling event it
// consumes. Call once, after the transport handshake assigned our id.
func (c *Coordinator) BindChannel(cl *signal.Client) {
	cl.On(signal.EvIncomingCall, c.onIncomingNotice)
	cl.On(signal.EvCallInitiated, c.onInitiatedNotice)
	cl.On(signal.EvCallAnswered, c.onAnsweredNotice)
	cl.On(signal.EvCallDeclined, c.onDeclinedNotice)
	cl.On(signal.EvCallEnded, c.onEndedNotice)

	cl.On(signal.EvRoomMembers, c.onRoomMembers)
	cl.On(signal.EvPeerJoined, c.onPeerJoined)
	cl.On(signal.EvPeerLeft, c.onPeerLeft)

	cl.On(signal.EvOffer, c.onOffer)
	cl.On(signal.EvAnswer, c.onAnswer)
	cl.On(signal.EvCandidate, c.onCandidate)

	cl.On(signal.EvToggleAudio, c.onToggleAudio)
	cl.On(signal.EvToggleVideo, c.onToggleVideo)
}

func (c *Coordinator) onIncomingNotice(data json.RawMessage) {
	var n signal.CallNotice
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad incomingCall payload")
		return
	}
	c.apply(event{kind: evIncomingCall, call: &n.Call, caller: n.Caller})
}

// onInitiatedNotice is the server ack echoed to the caller's own devices.
// Session state was already committed by Initiate.
func (c *Coordinator) onInitiatedNotice(data json.RawMessage) {
	var n signal.CallNotice
	if err := json.Unmarshal(data, &n); err != nil {
		return
	}
	log.Debug().Str("module", "call").Str("call_id", string(n.Call.ID)).Msg("call initiated ack")
}

func (c *Coordinator) onAnsweredNotice(data json.RawMessage) {
	var n signal.CallAnswered
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad callAnswered payload")
		return
	}
	if n.User.UserID == c.deps.Self.ID {
		// Our own answer broadcast back to the room.
		return
	}
	if !c.isLive(n.CallID) {
		return
	}
	c.apply(event{kind: evCallAnswered, answered: &n})
}

func (c *Coordinator) onDeclinedNotice(data json.RawMessage) {
	var n signal.CallDeclined
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad callDeclined payload")
		return
	}
	if !c.isLive(n.CallID) {
		return
	}
	c.apply(event{kind: evCallDeclined, declined: &n})
}

func (c *Coordinator) onEndedNotice(data json.RawMessage) {
	var n signal.CallEnded
	if err := json.Unmarshal(data, &n); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad callEnded payload")
		return
	}
	if !c.isLive(n.CallID) {
		return
	}
	c.apply(event{kind: evCallEnded, reason: n.Reason})
}

// isLive reports whether a lifecycle notice addresses the current session.
// Notices for earlier calls can arrive after a new one started; they must
// not touch it.
func (c *Coordinator) isLive(id domain.CallID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.ID == id
}

// onRoomMembers answers our own join: we offer to everyone already present.
// The joiner always offers; existing members wait for the offer.
func (c *Coordinator) onRoomMembers(data json.RawMessage) {
	var msg signal.RoomMembers
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad room-members payload")
		return
	}
	peers := c.sessionPeers(msg.CallID)
	if peers == nil {
		return
	}
	self := c.TransportID()
	for _, m := range msg.Members {
		if m.SocketID == "" || m.SocketID == self {
			continue
		}
		c.noteJoined(m)
		if err := peers.AddPeer(m.SocketID, m.UserID, true); err != nil {
			log.Warn().Err(err).Str("module", "call").Str("peer", string(m.SocketID)).Msg("could not link room member")
		}
	}
}

func (c *Coordinator) onPeerJoined(data json.RawMessage) {
	var msg signal.PeerJoined
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad peer-joined payload")
		return
	}
	peers := c.sessionPeers(msg.CallID)
	if peers == nil || msg.Peer.SocketID == c.TransportID() {
		return
	}
	c.noteJoined(msg.Peer)
	if err := peers.AddPeer(msg.Peer.SocketID, msg.Peer.UserID, false); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("peer", string(msg.Peer.SocketID)).Msg("could not link joined peer")
	}
}

func (c *Coordinator) onPeerLeft(data json.RawMessage) {
	var msg signal.PeerLeft
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("bad peer-left payload")
		return
	}
	peers := c.sessionPeers(msg.CallID)
	if peers == nil {
		return
	}
	peers.RemovePeer(msg.SocketID)

	c.mu.Lock()
	var snap *domain.Participant
	if msg.UserID != "" {
		// Reconnects rebind the transport id first, so only mark the
		// participant gone when the departing socket is still theirs.
		if p, ok := c.participants[msg.UserID]; ok && p.TransportID == msg.SocketID {
			p.Status = domain.ParticipantLeft
			cp := *p
			snap = &cp
		}
	}
	c.mu.Unlock()
	if snap != nil {
		c.deps.Presenter.ParticipantState(snap)
	}
}

func (c *Coordinator) onOffer(data json.RawMessage) {
	var d signal.Description
	if err := json.Unmarshal(data, &d); err != nil || d.Offer == nil {
		log.Warn().Str("module", "call").Msg("bad offer payload")
		return
	}
	peers := c.sessionPeers(d.CallID)
	if peers == nil {
		log.Debug().Str("module", "call").Str("call_id", string(d.CallID)).Msg("offer for unknown session")
		return
	}
	if err := peers.HandleOffer(d.FromSocketID, d.FromUserID, *d.Offer); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("peer", string(d.FromSocketID)).Msg("offer handling failed")
	}
}

func (c *Coordinator) onAnswer(data json.RawMessage) {
	var d signal.Description
	if err := json.Unmarshal(data, &d); err != nil || d.Answer == nil {
		log.Warn().Str("module", "call").Msg("bad answer payload")
		return
	}
	peers := c.sessionPeers(d.CallID)
	if peers == nil {
		return
	}
	if err := peers.HandleAnswer(d.FromSocketID, *d.Answer); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("peer", string(d.FromSocketID)).Msg("answer handling failed")
	}
}

func (c *Coordinator) onCandidate(data json.RawMessage) {
	var msg signal.Candidate
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Str("module", "call").Msg("bad candidate payload")
		return
	}
	peers := c.sessionPeers(msg.CallID)
	if peers == nil {
		return
	}
	peers.HandleCandidate(msg.FromSocketID, msg.Candidate)
}

func (c *Coordinator) onToggleAudio(data json.RawMessage) {
	var msg signal.ToggleAudio
	if err := json.Unmarshal(data, &msg); err != nil || msg.UserID == c.deps.Self.ID {
		return
	}
	c.updateParticipant(msg.CallID, msg.UserID, func(p *domain.Participant) {
		p.Muted = msg.IsMuted
	})
}

func (c *Coordinator) onToggleVideo(data json.RawMessage) {
	var msg signal.ToggleVideo
	if err := json.Unmarshal(data, &msg); err != nil || msg.UserID == c.deps.Self.ID {
		return
	}
	c.updateParticipant(msg.CallID, msg.UserID, func(p *domain.Participant) {
		p.VideoEnabled = msg.IsVideoEnabled
	})
}

func (c *Coordinator) noteJoined(info signal.PeerInfo) {
	c.mu.Lock()
	snap := *c.upsertParticipantLocked(info, domain.ParticipantJoined)
	c.mu.Unlock()
	c.deps.Presenter.ParticipantState(&snap)
}

func (c *Coordinator) updateParticipant(id domain.CallID, uid domain.UserID, mutate func(*domain.Participant)) {
	c.mu.Lock()
	if c.current == nil || c.current.ID != id {
		c.mu.Unlock()
		return
	}
	p, ok := c.participants[uid]
	if !ok {
		c.mu.Unlock()
		return
	}
	mutate(p)
	snap := *p
	c.mu.Unlock()
	c.deps.Presenter.ParticipantState(&snap)
}
