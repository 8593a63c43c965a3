package signal

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/arklight/callwire/internal/domain"
)

// Event names on the wire. The relay re-stamps FromSocketID on forwarded
// negotiation events so receivers can trust the sender identity.
const (
	EvConnected = "connected"

	EvJoinRoom    = "call:join-room"
	EvOffer       = "call:offer"
	EvAnswer      = "call:answer"
	EvCandidate   = "call:ice-candidate"
	EvToggleAudio = "call:toggle-audio"
	EvToggleVideo = "call:toggle-video"
	EvLeave       = "call:leave"

	EvRoomMembers = "call:room-members"
	EvPeerJoined  = "call:peer-joined"
	EvPeerLeft    = "call:peer-left"

	EvIncomingCall  = "incomingCall"
	EvCallInitiated = "callInitiated"
	EvCallAnswered  = "callAnswered"
	EvCallDeclined  = "callDeclined"
	EvCallEnded     = "callEnded"
)

// Envelope is the framing for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, v any) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: data}, nil
}

// Connected is the relay's handshake; it assigns the transport id.
type Connected struct {
	SocketID domain.TransportID `json:"socketId"`
}

// PeerInfo identifies one connected participant.
type PeerInfo struct {
	SocketID domain.TransportID `json:"socketId"`
	UserID   domain.UserID      `json:"userId"`
	Username string             `json:"username,omitempty"`
}

type JoinRoom struct {
	CallID domain.CallID      `json:"callId"`
	PeerID domain.TransportID `json:"peerId"`
}

// Description carries an SDP offer or answer between two transport sessions.
// FromUserID rides along so the receiving side can break offer glare without
// an extra lookup.
type Description struct {
	TargetSocketID domain.TransportID         `json:"targetSocketId,omitempty"`
	FromSocketID   domain.TransportID         `json:"fromSocketId,omitempty"`
	FromUserID     domain.UserID              `json:"fromUserId,omitempty"`
	CallID         domain.CallID              `json:"callId"`
	Offer          *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer         *webrtc.SessionDescription `json:"answer,omitempty"`
}

type Candidate struct {
	TargetSocketID domain.TransportID      `json:"targetSocketId,omitempty"`
	FromSocketID   domain.TransportID      `json:"fromSocketId,omitempty"`
	CallID         domain.CallID           `json:"callId"`
	Candidate      webrtc.ICECandidateInit `json:"candidate"`
}

type ToggleAudio struct {
	CallID  domain.CallID `json:"callId"`
	UserID  domain.UserID `json:"userId,omitempty"`
	IsMuted bool          `json:"isMuted"`
}

type ToggleVideo struct {
	CallID         domain.CallID `json:"callId"`
	UserID         domain.UserID `json:"userId,omitempty"`
	IsVideoEnabled bool          `json:"isVideoEnabled"`
}

type RoomMembers struct {
	CallID  domain.CallID `json:"callId"`
	Members []PeerInfo    `json:"members"`
}

type PeerJoined struct {
	CallID domain.CallID `json:"callId"`
	Peer   PeerInfo      `json:"peer"`
}

type PeerLeft struct {
	CallID   domain.CallID      `json:"callId"`
	SocketID domain.TransportID `json:"socketId"`
	UserID   domain.UserID      `json:"userId,omitempty"`
}

// CallNotice carries a session descriptor (incomingCall, callInitiated).
type CallNotice struct {
	Call   domain.Call `json:"call"`
	Caller *PeerInfo   `json:"caller,omitempty"`
}

type CallAnswered struct {
	CallID domain.CallID `json:"callId"`
	User   PeerInfo      `json:"user"`
}

type CallDeclined struct {
	CallID domain.CallID `json:"callId"`
	UserID domain.UserID `json:"userId,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type CallEnded struct {
	CallID domain.CallID `json:"callId"`
	Reason string        `json:"reason,omitempty"`
}
