// Package call owns the session lifecycle: one call at a time, from ring
// to teardown. Signaling events and local commands both funnel through a
// single state machine so racing transitions cannot corrupt the session.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/media"
	"github.com/arklight/callwire/internal/rtc"
	"github.com/arklight/callwire/internal/signal"
)

var (
	ErrBusy       = errors.New("another call is in progress")
	ErrNoPending  = errors.New("no outgoing call prepared")
	ErrNoIncoming = errors.New("no incoming call to answer")
	ErrNoCall     = errors.New("no call in progress")
)

// apiTimeout bounds the fire-and-forget API calls made from timers and
// teardown paths that have no caller context.
const apiTimeout = 5 * time.Second

// Deps wires the coordinator's collaborators.
type Deps struct {
	Self      *domain.User
	API       core.CallAPI
	Channel   core.SignalChannel
	Presenter core.Presenter
	Tracks    *media.Tracks
	NewLink   rtc.LinkFactory

	RingTimeout     time.Duration
	MaxParticipants int
}

// Coordinator drives one call session at a time. Public operations are
// state-guarded; slow work (media acquisition, API round trips) runs outside
// the lock and the session state is re-checked before commit.
type Coordinator struct {
	ctx  context.Context
	deps Deps

	mu           sync.Mutex
	state        State
	selfTID      domain.TransportID
	pending      *core.InitiateRequest
	current      *domain.Call
	peers        *rtc.Manager
	participants map[domain.UserID]*domain.Participant
	ringTimer    *time.Timer
}

func New(ctx context.Context, deps Deps) *Coordinator {
	if deps.Presenter == nil {
		deps.Presenter = core.NopPresenter{}
	}
	return &Coordinator{
		ctx:          ctx,
		deps:         deps,
		state:        StateIdle,
		participants: make(map[domain.UserID]*domain.Participant),
	}
}

// SetTransportID records the transport id assigned by the relay handshake.
// Must be set before any session starts.
func (c *Coordinator) SetTransportID(tid domain.TransportID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfTID = tid
}

func (c *Coordinator) TransportID() domain.TransportID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfTID
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) CurrentCall() *domain.Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	snap := *c.current
	return &snap
}

// PrepareOutgoing records the target of the next outgoing call. Calling it
// again while a call is pending or in progress is a silent no-op, which is
// what keeps a double-clicked call button from opening two sessions.
func (c *Coordinator) PrepareOutgoing(req core.InitiateRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle || c.pending != nil {
		log.Debug().Str("module", "call").Str("state", c.state.String()).Msg("call already in progress, outgoing request dropped")
		return
	}
	c.pending = &req
}

// Initiate runs the prepared outgoing call: acquire local media, create the
// session server-side, then start ringing. If an incoming call was accepted
// while we were off the lock, the fresh session is walked back server-side.
func (c *Coordinator) Initiate(ctx context.Context) (*domain.Call, error) {
	c.mu.Lock()
	if c.state != StateIdle || c.pending == nil {
		c.mu.Unlock()
		return nil, ErrNoPending
	}
	req := *c.pending
	c.mu.Unlock()

	if err := c.deps.Tracks.Acquire(req.CallType); err != nil {
		c.abortPending("media devices unavailable")
		return nil, err
	}

	sess, err := c.deps.API.Initiate(ctx, req)
	if err != nil {
		c.abortPending("could not start call")
		return nil, err
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		endCtx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()
		_ = c.deps.API.End(endCtx, sess.ID)
		return nil, ErrBusy
	}
	c.pending = nil
	c.current = sess
	c.peers = c.newManagerLocked(sess)
	if sess.Mode == domain.CallModeDirect && sess.ReceiverID != "" {
		c.participants[sess.ReceiverID] = &domain.Participant{
			UserID: sess.ReceiverID,
			Status: domain.ParticipantInvited,
		}
	}
	c.startRingTimerLocked()
	c.state = StateOutgoingRinging
	c.mu.Unlock()

	log.Info().Str("module", "call").Str("call_id", string(sess.ID)).Str("mode", string(sess.Mode)).Msg("call initiated")
	c.deps.Presenter.CallRinging(sess, false)
	return sess, nil
}

// Answer accepts the ringing incoming call. Media acquisition happens before
// the API call; denial of the session's only media kind aborts the answer
// and tears the session down.
func (c *Coordinator) Answer(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIncomingRinging || c.current == nil {
		c.mu.Unlock()
		return ErrNoIncoming
	}
	sess := c.current
	c.stopRingTimerLocked()
	c.mu.Unlock()

	if err := c.deps.Tracks.Acquire(sess.Kind); err != nil {
		c.deps.Presenter.ShowError("media devices unavailable")
		declineCtx, cancel := context.WithTimeout(context.Background(), apiTimeout)
		defer cancel()
		_ = c.deps.API.Decline(declineCtx, sess.ID, "media-error")
		c.teardown("media-error")
		return err
	}

	if err := c.deps.API.Answer(ctx, sess.ID); err != nil {
		c.deps.Presenter.ShowError("could not answer call")
		c.teardown("answer-failed")
		return err
	}

	c.mu.Lock()
	if c.current == nil || c.current.ID != sess.ID {
		// Caller hung up while we were answering; teardown already ran.
		c.mu.Unlock()
		return ErrNoCall
	}
	c.state = StateActive
	tid := c.selfTID
	c.mu.Unlock()

	if err := c.deps.Channel.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: tid}); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("join-room emit failed")
	}
	c.deps.Presenter.CallActive(sess)
	return nil
}

// Decline refuses the ringing incoming call. No peer links exist yet, so
// teardown only clears session state.
func (c *Coordinator) Decline(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.state != StateIncomingRinging || c.current == nil {
		c.mu.Unlock()
		return ErrNoIncoming
	}
	id := c.current.ID
	c.mu.Unlock()

	err := c.deps.API.Decline(ctx, id, reason)
	c.teardown("declined")
	return err
}

// Cancel withdraws an outgoing call that nobody answered yet.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateOutgoingRinging || c.current == nil {
		c.mu.Unlock()
		return ErrNoCall
	}
	id := c.current.ID
	c.mu.Unlock()

	err := c.deps.API.End(ctx, id)
	c.teardown("canceled")
	return err
}

// End hangs up the current session regardless of its phase. Calling End with
// no session in progress is a no-op.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()
		return nil
	}
	id := c.current.ID
	tid := c.selfTID
	c.mu.Unlock()

	_ = c.deps.Channel.Emit(signal.EvLeave, signal.PeerLeft{CallID: id, SocketID: tid})
	err := c.deps.API.End(ctx, id)
	c.teardown("ended")
	return err
}

// ToggleMute flips the microphone mute flag in place and broadcasts the new
// state. The audio track object is never replaced.
func (c *Coordinator) ToggleMute() (bool, error) {
	c.mu.Lock()
	if c.state != StateActive || c.current == nil {
		c.mu.Unlock()
		return false, ErrNoCall
	}
	id := c.current.ID
	c.mu.Unlock()

	muted := c.deps.Tracks.ToggleMute()
	if err := c.deps.Channel.Emit(signal.EvToggleAudio, signal.ToggleAudio{CallID: id, UserID: c.deps.Self.ID, IsMuted: muted}); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("toggle-audio emit failed")
	}
	return muted, nil
}

// ToggleVideo enables or disables the camera. The first enable mid-call may
// create the video track, which then gets attached to every peer link.
// Camera failure is not session-fatal.
func (c *Coordinator) ToggleVideo() (bool, error) {
	c.mu.Lock()
	if c.state != StateActive || c.current == nil {
		c.mu.Unlock()
		return false, ErrNoCall
	}
	id := c.current.ID
	c.mu.Unlock()

	enabled, created, err := c.deps.Tracks.ToggleVideo()
	if err != nil {
		c.deps.Presenter.ShowError("camera unavailable")
		return false, err
	}
	if created != nil {
		c.mu.Lock()
		peers := c.peers
		c.mu.Unlock()
		if peers != nil {
			peers.AttachLocalTrack(created)
		}
	}
	if err := c.deps.Channel.Emit(signal.EvToggleVideo, signal.ToggleVideo{CallID: id, UserID: c.deps.Self.ID, IsVideoEnabled: enabled}); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("toggle-video emit failed")
	}
	return enabled, nil
}

// Status is a point-in-time snapshot for the control API.
type Status struct {
	State        string               `json:"state"`
	Call         *domain.Call         `json:"call,omitempty"`
	Participants []domain.Participant `json:"participants,omitempty"`
	Muted        bool                 `json:"isMuted"`
	VideoEnabled bool                 `json:"isVideoEnabled"`
	PeerLinks    int                  `json:"peerLinks"`
}

func (c *Coordinator) Snapshot() Status {
	c.mu.Lock()
	st := Status{State: c.state.String()}
	if c.current != nil {
		snap := *c.current
		st.Call = &snap
	}
	for _, p := range c.participants {
		st.Participants = append(st.Participants, *p)
	}
	peers := c.peers
	c.mu.Unlock()

	st.Muted = c.deps.Tracks.Muted()
	st.VideoEnabled = c.deps.Tracks.VideoEnabled()
	if peers != nil {
		st.PeerLinks = peers.Count()
	}
	return st
}

// FSM transition bodies. All run with c.mu held; side effects go into the
// returned command list.

func (c *Coordinator) onIncomingCall(ev event) (State, []func()) {
	sess := ev.call
	c.current = sess
	c.peers = c.newManagerLocked(sess)
	if ev.caller != nil {
		c.participants[ev.caller.UserID] = &domain.Participant{
			UserID:      ev.caller.UserID,
			Username:    ev.caller.Username,
			TransportID: ev.caller.SocketID,
			Status:      domain.ParticipantJoined,
		}
	}
	c.startRingTimerLocked()
	return StateIncomingRinging, []func(){
		func() { c.deps.Presenter.CallRinging(sess, true) },
	}
}

func (c *Coordinator) onRemoteAnswered(ev event) (State, []func()) {
	sess := c.current
	tid := c.selfTID
	c.stopRingTimerLocked()
	snap := *c.upsertParticipantLocked(ev.answered.User, domain.ParticipantJoined)
	return StateActive, []func(){
		func() {
			if err := c.deps.Channel.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: tid}); err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("join-room emit failed")
			}
			c.deps.Presenter.ParticipantState(&snap)
			c.deps.Presenter.CallActive(sess)
		},
	}
}

func (c *Coordinator) onRemoteDeclined(ev event) (State, []func()) {
	// A group call keeps ringing while other invitees can still pick up;
	// only the declining participant is marked.
	if c.current != nil && c.current.IsGroup() {
		p, ok := c.participants[ev.declined.UserID]
		if !ok {
			p = &domain.Participant{UserID: ev.declined.UserID}
			c.participants[ev.declined.UserID] = p
		}
		p.Status = domain.ParticipantDeclined
		snap := *p
		return StateOutgoingRinging, []func(){
			func() { c.deps.Presenter.ParticipantState(&snap) },
		}
	}
	reason := ev.declined.Reason
	if reason == "" {
		reason = "declined"
	}
	return StateEnded, []func(){
		func() { c.teardown(reason) },
	}
}

func (c *Coordinator) onRemoteEnded(ev event) (State, []func()) {
	reason := ev.reason
	if reason == "" {
		reason = "ended"
	}
	return StateEnded, []func(){
		func() { c.teardown(reason) },
	}
}

func (c *Coordinator) onOutgoingTimeout(event) (State, []func()) {
	id := c.current.ID
	return StateEnded, []func(){
		func() {
			ctx, cancel := context.WithTimeout(context.Background(), apiTimeout)
			defer cancel()
			_ = c.deps.API.End(ctx, id)
			c.teardown("timeout")
		},
	}
}

func (c *Coordinator) onIncomingTimeout(event) (State, []func()) {
	return StateEnded, []func(){
		func() { c.teardown("timeout") },
	}
}

// onParticipantAnswered handles another participant joining an already
// active group session. The state does not change.
func (c *Coordinator) onParticipantAnswered(ev event) (State, []func()) {
	snap := *c.upsertParticipantLocked(ev.answered.User, domain.ParticipantJoined)
	return StateActive, []func(){
		func() { c.deps.Presenter.ParticipantState(&snap) },
	}
}

func (c *Coordinator) onParticipantDeclined(ev event) (State, []func()) {
	p, ok := c.participants[ev.declined.UserID]
	if !ok {
		return StateActive, nil
	}
	p.Status = domain.ParticipantDeclined
	snap := *p
	return StateActive, []func(){
		func() { c.deps.Presenter.ParticipantState(&snap) },
	}
}

// teardown releases everything tied to the current session and returns the
// coordinator to idle. Safe to call more than once; only the first call per
// session does work.
func (c *Coordinator) teardown(reason string) {
	c.mu.Lock()
	sess := c.current
	if sess == nil && c.pending == nil {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.pending = nil
	peers := c.peers
	c.peers = nil
	c.stopRingTimerLocked()
	c.participants = make(map[domain.UserID]*domain.Participant)
	c.state = StateIdle
	c.mu.Unlock()

	if peers != nil {
		peers.CloseAll()
	}
	c.deps.Tracks.Close()
	if sess != nil {
		sess.Status = domain.CallEnded
		log.Info().Str("module", "call").Str("call_id", string(sess.ID)).Str("reason", reason).Msg("call torn down")
		c.deps.Presenter.CallEnded(sess, reason)
	}
}

func (c *Coordinator) abortPending(msg string) {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	c.deps.Tracks.Close()
	c.deps.Presenter.ShowError(msg)
}

func (c *Coordinator) newManagerLocked(sess *domain.Call) *rtc.Manager {
	max := sess.MaxParticipants
	if max <= 0 {
		max = c.deps.MaxParticipants
	}
	return rtc.NewManager(
		c.ctx,
		sess.ID,
		c.selfTID,
		c.deps.Self.ID,
		max,
		c.deps.NewLink,
		c.deps.Channel,
		c.deps.Presenter,
		c.deps.Tracks,
	)
}

// sessionPeers returns the link manager only when the event's call id still
// matches the live session. Events for dead sessions fall out here.
func (c *Coordinator) sessionPeers(id domain.CallID) *rtc.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.ID != id {
		return nil
	}
	return c.peers
}

func (c *Coordinator) upsertParticipantLocked(info signal.PeerInfo, status domain.ParticipantStatus) *domain.Participant {
	p, ok := c.participants[info.UserID]
	if !ok {
		p = &domain.Participant{UserID: info.UserID}
		c.participants[info.UserID] = p
	}
	if info.Username != "" {
		p.Username = info.Username
	}
	if info.SocketID != "" {
		p.TransportID = info.SocketID
	}
	p.Status = status
	return p
}

// startRingTimerLocked always stops the previous timer first, so a restart
// never leaves two timers armed for one session.
func (c *Coordinator) startRingTimerLocked() {
	c.stopRingTimerLocked()
	d := c.deps.RingTimeout
	if d <= 0 {
		d = 30 * time.Second
	}
	c.ringTimer = time.AfterFunc(d, func() {
		c.apply(event{kind: evRingTimeout})
	})
}

func (c *Coordinator) stopRingTimerLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
}
