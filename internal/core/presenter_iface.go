package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/arklight/callwire/internal/domain"
)

// Presenter is the one-way surface toward the UI layer. The coordinator
// pushes state changes; rendering is entirely out of scope here.
// Implementations must not call back into the coordinator synchronously.
type Presenter interface {
	// CallRinging fires when a session enters a ringing state.
	CallRinging(call *domain.Call, incoming bool)
	// CallActive fires once the session is established.
	CallActive(call *domain.Call)
	// CallEnded fires exactly once per session on any terminal transition.
	CallEnded(call *domain.Call, reason string)

	// PeerMedia announces a remote track to render for a participant.
	PeerMedia(uid domain.UserID, tid domain.TransportID, track *webrtc.TrackRemote)
	// PeerGone tells the UI to drop the participant's media surface.
	PeerGone(uid domain.UserID, tid domain.TransportID)
	// PeerRejected reports a join refused by the participant cap.
	PeerRejected(uid domain.UserID)

	// ParticipantState reports roster changes (mute, video, join, leave).
	ParticipantState(p *domain.Participant)

	// ShowError surfaces a session-fatal, user-visible failure.
	ShowError(msg string)
}

// NopPresenter discards all events. Useful for tests and headless runs.
type NopPresenter struct{}

func (NopPresenter) CallRinging(*domain.Call, bool)                                     {}
func (NopPresenter) CallActive(*domain.Call)                                            {}
func (NopPresenter) CallEnded(*domain.Call, string)                                     {}
func (NopPresenter) PeerMedia(domain.UserID, domain.TransportID, *webrtc.TrackRemote)   {}
func (NopPresenter) PeerGone(domain.UserID, domain.TransportID)                         {}
func (NopPresenter) PeerRejected(domain.UserID)                                         {}
func (NopPresenter) ParticipantState(*domain.Participant)                               {}
func (NopPresenter) ShowError(string)                                                   {}
