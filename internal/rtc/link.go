// Package rtc owns the transport-layer peer links of the current call: one
// per remote transport session, each with its own negotiation state and
// pending candidate queue.
package rtc

import (
	"context"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/domain"
)

// Link wraps one webrtc.PeerConnection toward a single remote transport
// session. It implements core.PeerLink.
type Link struct {
	pc     *webrtc.PeerConnection
	tid    domain.TransportID
	cancel context.CancelFunc
	closed atomic.Bool

	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onICEState func(webrtc.ICEConnectionState)
	onClosed   func()
}

func newLink(pc *webrtc.PeerConnection, tid domain.TransportID) *Link {
	return &Link{pc: pc, tid: tid}
}

func (l *Link) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("tid", string(l.tid)).Str("ice_state", s.String()).Msg("ICE state")
		if l.onICEState != nil {
			l.onICEState(s)
		}
		if s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("tid", string(l.tid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if l.onClosed != nil {
				l.onClosed()
			}
		}
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && l.onICE != nil {
			l.onICE(cand.ToJSON())
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("tid", string(l.tid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		if l.onTrack != nil {
			l.onTrack(track, receiver)
		}
	})

	return nil
}

func (l *Link) SignalingState() webrtc.SignalingState {
	return l.pc.SignalingState()
}

func (l *Link) HasRemoteDescription() bool {
	return l.pc.RemoteDescription() != nil
}

func (l *Link) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (l *Link) ApplyRemoteOffer(offer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(offer)
}

func (l *Link) CreateAndSetAnswer() (*webrtc.SessionDescription, error) {
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (l *Link) ApplyAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

// Rollback abandons the outstanding local offer. Used by the yielding side
// of an offer glare before it accepts the remote offer.
func (l *Link) Rollback() error {
	return l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

// RestartICE builds an offer with fresh ICE credentials for this link only.
func (l *Link) RestartICE() (*webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		return nil, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (l *Link) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(ci)
}

func (l *Link) AddLocalTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return l.pc.AddTrack(track)
}

func (l *Link) OnICECandidate(fn func(webrtc.ICECandidateInit)) { l.onICE = fn }

func (l *Link) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	l.onTrack = fn
}

func (l *Link) OnICEStateChange(fn func(webrtc.ICEConnectionState)) { l.onICEState = fn }

func (l *Link) OnClosed(fn func()) { l.onClosed = fn }

func (l *Link) IsClosed() bool { return l.closed.Load() }

func (l *Link) Close() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	if err := l.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("tid", string(l.tid)).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("tid", string(l.tid)).Msg("closed")
	}
}
