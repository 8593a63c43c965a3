package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// PeerLink is one transport-layer connection to a single remote transport
// session. The peer manager owns exactly one per remote TransportID.
type PeerLink interface {
	// Start configures internal callbacks and binds the link lifetime to ctx.
	Start(ctx context.Context) error
	// Close stops all underlying media resources.
	Close()
	IsClosed() bool

	SignalingState() webrtc.SignalingState
	// HasRemoteDescription reports whether a remote description was applied;
	// candidates arriving before that must be queued.
	HasRemoteDescription() bool

	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyRemoteOffer(webrtc.SessionDescription) error
	CreateAndSetAnswer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// Rollback abandons the outstanding local offer (glare loser path).
	Rollback() error
	// RestartICE produces a new offer with fresh ICE credentials for this
	// link only; the caller is responsible for sending it.
	RestartICE() (*webrtc.SessionDescription, error)

	AddICECandidate(webrtc.ICECandidateInit) error

	// AddLocalTrack attaches a local track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that is invoked when a new remote track arrives.
	OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver))
	// OnICEStateChange reports ICE connectivity transitions (failure recovery).
	OnICEStateChange(func(webrtc.ICEConnectionState))
	// OnClosed sets a callback fired when the link reaches a terminal state.
	OnClosed(func())
}
