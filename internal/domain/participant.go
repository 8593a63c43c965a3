package domain

type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantLeft     ParticipantStatus = "left"
	ParticipantKicked   ParticipantStatus = "kicked"
)

// Participant is a remote party in a call. TransportID tracks the party's
// current connection and is rewritten on reconnect.
type Participant struct {
	UserID       UserID            `json:"userId"`
	Username     string            `json:"username"`
	TransportID  TransportID       `json:"socketId"`
	Status       ParticipantStatus `json:"status"`
	Muted        bool              `json:"isMuted"`
	VideoEnabled bool              `json:"isVideoEnabled"`
}

func NewParticipant(user *User, tid TransportID) *Participant {
	return &Participant{
		UserID:      user.ID,
		Username:    user.Username,
		TransportID: tid,
		Status:      ParticipantInvited,
	}
}
