package domain

import "time"

type (
	// CallID identifies one call session, minted by the server on initiate.
	CallID string
	// GroupID identifies a chat group for group calls.
	GroupID string
	// TransportID is the ephemeral id of one client's current signaling
	// connection (a socket id). A reconnecting user keeps its UserID but
	// gets a fresh TransportID, so peer links are always keyed by this.
	TransportID string
)

type CallMode string

const (
	CallModeDirect CallMode = "direct"
	CallModeGroup  CallMode = "group"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type CallStatus string

const (
	CallActive CallStatus = "active"
	CallEnded  CallStatus = "ended"
)

// Call is the session descriptor as the server hands it out.
type Call struct {
	ID              CallID     `json:"id"`
	Mode            CallMode   `json:"mode"`
	Kind            MediaKind  `json:"callType"`
	Status          CallStatus `json:"status"`
	InitiatorID     UserID     `json:"initiatorId"`
	ReceiverID      UserID     `json:"receiverId,omitempty"`
	GroupID         GroupID    `json:"groupId,omitempty"`
	StartedAt       time.Time  `json:"startedAt"`
	MaxParticipants int        `json:"maxParticipants,omitempty"`
}

// IsGroup reports whether the call fans out beyond two parties.
func (c *Call) IsGroup() bool { return c.Mode == CallModeGroup }
