package main

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/domain"
)

// logPresenter renders session events into the log. A real UI would
// implement core.Presenter instead.
type logPresenter struct{}

func (logPresenter) CallRinging(c *domain.Call, incoming bool) {
	log.Info().Str("module", "ui").Str("call_id", string(c.ID)).Bool("incoming", incoming).Str("kind", string(c.Kind)).Msg("ringing")
}

func (logPresenter) CallActive(c *domain.Call) {
	log.Info().Str("module", "ui").Str("call_id", string(c.ID)).Msg("call active")
}

func (logPresenter) CallEnded(c *domain.Call, reason string) {
	log.Info().Str("module", "ui").Str("call_id", string(c.ID)).Str("reason", reason).Msg("call ended")
}

func (logPresenter) PeerMedia(uid domain.UserID, tid domain.TransportID, track *webrtc.TrackRemote) {
	log.Info().Str("module", "ui").Str("user_id", string(uid)).Str("sid", string(tid)).Str("kind", track.Kind().String()).Msg("remote track")
}

func (logPresenter) PeerGone(uid domain.UserID, tid domain.TransportID) {
	log.Info().Str("module", "ui").Str("user_id", string(uid)).Str("sid", string(tid)).Msg("peer gone")
}

func (logPresenter) PeerRejected(uid domain.UserID) {
	log.Warn().Str("module", "ui").Str("user_id", string(uid)).Msg("peer rejected, call full")
}

func (logPresenter) ParticipantState(p *domain.Participant) {
	log.Info().Str("module", "ui").Str("user_id", string(p.UserID)).Str("status", string(p.Status)).Bool("muted", p.Muted).Bool("video", p.VideoEnabled).Msg("participant state")
}

func (logPresenter) ShowError(msg string) {
	log.Error().Str("module", "ui").Msg(msg)
}
