package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

var ErrCallFull = errors.New("participant limit reached")

// TrackProvider supplies the current local tracks for attaching to new links.
type TrackProvider interface {
	LocalTracks() []core.LocalTrack
}

// Manager maintains exactly one peer link per remote transport session of
// the current call. Negotiation state is owned per link; peers never touch
// each other's state.
type Manager struct {
	ctx       context.Context
	callID    domain.CallID
	self      domain.TransportID
	localUser domain.UserID
	maxPeers  int

	newLink   LinkFactory
	channel   core.SignalChannel
	presenter core.Presenter
	tracks    TrackProvider

	mu    sync.Mutex
	peers map[domain.TransportID]*peer
}

type peer struct {
	userID domain.UserID
	link   core.PeerLink
	queue  *candidateQueue
}

func NewManager(
	ctx context.Context,
	callID domain.CallID,
	self domain.TransportID,
	localUser domain.UserID,
	maxParticipants int,
	newLink LinkFactory,
	channel core.SignalChannel,
	presenter core.Presenter,
	tracks TrackProvider,
) *Manager {
	return &Manager{
		ctx:       ctx,
		callID:    callID,
		self:      self,
		localUser: localUser,
		maxPeers:  maxParticipants,
		newLink:   newLink,
		channel:   channel,
		presenter: presenter,
		tracks:    tracks,
		peers:     make(map[domain.TransportID]*peer),
	}
}

// AddPeer ensures a link exists for the remote transport session. Repeated
// joins with the same transport id are no-ops. When offerer is set the local
// side starts negotiation immediately.
func (m *Manager) AddPeer(tid domain.TransportID, uid domain.UserID, offerer bool) error {
	m.mu.Lock()
	if _, ok := m.peers[tid]; ok {
		m.mu.Unlock()
		return nil
	}
	// The cap counts participants including ourselves; joins past it are
	// rejected, not queued.
	if m.maxPeers > 0 && len(m.peers)+1 >= m.maxPeers {
		m.mu.Unlock()
		log.Warn().Str("module", "rtc").Str("tid", string(tid)).Str("user", string(uid)).Msg("join rejected: call full")
		m.presenter.PeerRejected(uid)
		return ErrCallFull
	}
	p, err := m.newPeerLocked(tid, uid)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if offerer {
		return m.sendOffer(tid, p)
	}
	return nil
}

// newPeerLocked creates the link and its candidate queue, wires callbacks
// and attaches all current local tracks. Caller holds m.mu.
func (m *Manager) newPeerLocked(tid domain.TransportID, uid domain.UserID) (*peer, error) {
	link, err := m.newLink(tid)
	if err != nil {
		return nil, err
	}
	p := &peer{userID: uid, link: link, queue: newCandidateQueue()}

	link.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		err := m.channel.Emit(signal.EvCandidate, signal.Candidate{
			TargetSocketID: tid,
			FromSocketID:   m.self,
			CallID:         m.callID,
			Candidate:      ci,
		})
		if err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("tid", string(tid)).Msg("send candidate")
		}
	})
	link.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.presenter.PeerMedia(m.userOf(tid), tid, track)
	})
	link.OnICEStateChange(func(s webrtc.ICEConnectionState) {
		if s == webrtc.ICEConnectionStateFailed {
			m.restartICE(tid)
		}
	})
	link.OnClosed(func() {
		m.RemovePeer(tid)
	})

	if err := link.Start(m.ctx); err != nil {
		link.Close()
		return nil, err
	}

	for _, t := range m.tracks.LocalTracks() {
		if _, err := link.AddLocalTrack(t.TrackLocal()); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("tid", string(tid)).Msg("attach local track")
		}
	}

	m.peers[tid] = p
	log.Info().Str("module", "rtc").Str("tid", string(tid)).Str("user", string(uid)).Msg("peer link created")
	return p, nil
}

func (m *Manager) sendOffer(tid domain.TransportID, p *peer) error {
	offer, err := p.link.CreateAndSetOffer()
	if err != nil {
		return err
	}
	return m.channel.Emit(signal.EvOffer, signal.Description{
		TargetSocketID: tid,
		FromSocketID:   m.self,
		FromUserID:     m.localUser,
		CallID:         m.callID,
		Offer:          offer,
	})
}

// HandleOffer applies a remote offer. Glare (both sides offered at once) is
// broken without extra round-trips: the side with the smaller user id yields
// by rolling back its own offer; the other side ignores the incoming offer
// and keeps its own. Both sides reach the same verdict independently.
func (m *Manager) HandleOffer(from domain.TransportID, fromUser domain.UserID, offer webrtc.SessionDescription) error {
	m.mu.Lock()
	p, ok := m.peers[from]
	if !ok {
		var err error
		p, err = m.newPeerLocked(from, fromUser)
		if err != nil {
			m.mu.Unlock()
			return err
		}
	} else if p.userID == "" {
		p.userID = fromUser
	}

	if p.link.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if !m.localUser.Before(fromUser) {
			m.mu.Unlock()
			log.Info().Str("module", "rtc").Str("tid", string(from)).Msg("glare: keeping local offer, ignoring remote")
			return nil
		}
		log.Info().Str("module", "rtc").Str("tid", string(from)).Msg("glare: yielding, rolling back local offer")
		if err := p.link.Rollback(); err != nil {
			m.mu.Unlock()
			return err
		}
	}

	if err := p.link.ApplyRemoteOffer(offer); err != nil {
		m.mu.Unlock()
		return err
	}
	p.queue.Drain(p.link.AddICECandidate)

	answer, err := p.link.CreateAndSetAnswer()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	return m.channel.Emit(signal.EvAnswer, signal.Description{
		TargetSocketID: from,
		FromSocketID:   m.self,
		FromUserID:     m.localUser,
		CallID:         m.callID,
		Answer:         answer,
	})
}

// HandleAnswer applies a remote answer unless it is stale: an answer is only
// meaningful while our own offer is outstanding.
func (m *Manager) HandleAnswer(from domain.TransportID, answer webrtc.SessionDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[from]
	if !ok {
		log.Warn().Str("module", "rtc").Str("tid", string(from)).Msg("answer: no peer link")
		return nil
	}
	if p.link.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Info().Str("module", "rtc").Str("tid", string(from)).Msg("stale answer ignored")
		return nil
	}
	if err := p.link.ApplyAnswer(answer); err != nil {
		return err
	}
	p.queue.Drain(p.link.AddICECandidate)
	return nil
}

// HandleCandidate applies the candidate now if the remote description is in
// place, otherwise parks it on the peer's queue.
func (m *Manager) HandleCandidate(from domain.TransportID, cand webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[from]
	if !ok {
		log.Debug().Str("module", "rtc").Str("tid", string(from)).Msg("candidate for unknown peer dropped")
		return
	}
	if !p.link.HasRemoteDescription() {
		p.queue.Push(cand)
		return
	}
	if err := p.link.AddICECandidate(cand); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("tid", string(from)).Msg("add ice candidate")
	}
}

func (m *Manager) restartICE(tid domain.TransportID) {
	m.mu.Lock()
	p, ok := m.peers[tid]
	if !ok {
		m.mu.Unlock()
		return
	}
	offer, err := p.link.RestartICE()
	m.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("tid", string(tid)).Msg("ICE restart")
		return
	}
	log.Info().Str("module", "rtc").Str("tid", string(tid)).Msg("ICE restart offer sent")
	_ = m.channel.Emit(signal.EvOffer, signal.Description{
		TargetSocketID: tid,
		FromSocketID:   m.self,
		FromUserID:     m.localUser,
		CallID:         m.callID,
		Offer:          offer,
	})
}

// RemovePeer closes and forgets the link and its queue.
func (m *Manager) RemovePeer(tid domain.TransportID) {
	m.mu.Lock()
	p, ok := m.peers[tid]
	if ok {
		delete(m.peers, tid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	p.link.Close()
	m.presenter.PeerGone(p.userID, tid)
	log.Info().Str("module", "rtc").Str("tid", string(tid)).Msg("peer link removed")
}

// AttachLocalTrack adds a newly acquired local track to every existing link.
func (m *Manager) AttachLocalTrack(t core.LocalTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tid, p := range m.peers {
		if _, err := p.link.AddLocalTrack(t.TrackLocal()); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("tid", string(tid)).Msg("attach track")
		}
	}
}

// CloseAll tears down every link. Safe to call more than once.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[domain.TransportID]*peer)
	m.mu.Unlock()

	for tid, p := range peers {
		p.link.Close()
		m.presenter.PeerGone(p.userID, tid)
	}
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

func (m *Manager) HasPeer(tid domain.TransportID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[tid]
	return ok
}

func (m *Manager) userOf(tid domain.TransportID) domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[tid]; ok {
		return p.userID
	}
	return ""
}

// QueuedCandidates reports the pending-queue depth for a peer.
func (m *Manager) QueuedCandidates(tid domain.TransportID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[tid]; ok {
		return p.queue.Len()
	}
	return 0
}
