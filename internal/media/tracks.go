// Package media owns local capture state: which tracks are held, their live
// enable flags, and the permission outcomes. It is the single writer of that
// state no matter how many peer links currently consume the tracks.
package media

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
)

var ErrNoMedia = errors.New("no media available")

type Tracks struct {
	capture core.CaptureSource

	mu          sync.Mutex
	audio       core.LocalTrack
	video       core.LocalTrack
	audioDenied bool
	videoDenied bool
}

func NewTracks(capture core.CaptureSource) *Tracks {
	return &Tracks{capture: capture}
}

// EnsureAudio acquires the microphone if no audio track is held yet.
// Failure is remembered in the availability flag; whether it is fatal is the
// caller's call (it depends on the session's media kind).
func (t *Tracks) EnsureAudio() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audio != nil {
		return nil
	}
	track, err := t.capture.OpenAudio()
	if err != nil {
		t.audioDenied = true
		log.Warn().Err(err).Str("module", "media").Msg("audio capture unavailable")
		return err
	}
	t.audioDenied = false
	track.SetEnabled(true)
	t.audio = track
	return nil
}

// EnsureVideo acquires the camera if no video track is held yet. It never
// upgrades an audio-only session on its own; callers invoke it only on an
// explicit video request.
func (t *Tracks) EnsureVideo() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureVideoLocked()
}

func (t *Tracks) ensureVideoLocked() error {
	if t.video != nil {
		return nil
	}
	track, err := t.capture.OpenVideo()
	if err != nil {
		t.videoDenied = true
		log.Warn().Err(err).Str("module", "media").Msg("video capture unavailable")
		return err
	}
	t.videoDenied = false
	track.SetEnabled(true)
	t.video = track
	return nil
}

// Acquire requests the devices a session of the given kind needs. Partial
// failure degrades (a video call proceeds audio-only and vice versa); it
// errors only when no track at all could be acquired.
func (t *Tracks) Acquire(kind domain.MediaKind) error {
	audioErr := t.EnsureAudio()
	var videoErr error
	if kind == domain.MediaVideo {
		videoErr = t.EnsureVideo()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audio == nil && t.video == nil {
		if audioErr != nil {
			return audioErr
		}
		if videoErr != nil {
			return videoErr
		}
		return ErrNoMedia
	}
	return nil
}

// ToggleMute flips the audio enable flag in place. No renegotiation happens;
// the track object stays attached to every link.
func (t *Tracks) ToggleMute() (muted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audio == nil {
		return true
	}
	t.audio.SetEnabled(!t.audio.Enabled())
	return !t.audio.Enabled()
}

// ToggleVideo flips video on/off. When turning on without a held track it
// acquires one and returns it so the caller can attach it to existing links;
// that is the only local-media operation that touches peer links.
func (t *Tracks) ToggleVideo() (enabled bool, created core.LocalTrack, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.video != nil {
		t.video.SetEnabled(!t.video.Enabled())
		return t.video.Enabled(), nil, nil
	}
	if err := t.ensureVideoLocked(); err != nil {
		return false, nil, err
	}
	return true, t.video, nil
}

func (t *Tracks) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.audio == nil || !t.audio.Enabled()
}

func (t *Tracks) VideoEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.video != nil && t.video.Enabled()
}

func (t *Tracks) AudioAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.audioDenied
}

func (t *Tracks) VideoAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.videoDenied
}

// LocalTracks snapshots the currently held tracks for attaching to a new link.
func (t *Tracks) LocalTracks() []core.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.LocalTrack, 0, 2)
	if t.audio != nil {
		out = append(out, t.audio)
	}
	if t.video != nil {
		out = append(out, t.video)
	}
	return out
}

// Close releases every device and resets permission flags. This is the only
// point at which capture devices are released; it runs once per session end
// and tolerates repeats.
func (t *Tracks) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.audio != nil {
		if err := t.audio.Close(); err != nil {
			log.Error().Err(err).Str("module", "media").Msg("close audio track")
		}
		t.audio = nil
	}
	if t.video != nil {
		if err := t.video.Close(); err != nil {
			log.Error().Err(err).Str("module", "media").Msg("close video track")
		}
		t.video = nil
	}
	t.audioDenied = false
	t.videoDenied = false
}
