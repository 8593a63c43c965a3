package media

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
)

type stubTrack struct {
	kind    webrtc.RTPCodecType
	enabled bool
	closed  bool
}

func (t *stubTrack) Kind() webrtc.RTPCodecType     { return t.kind }
func (t *stubTrack) TrackLocal() webrtc.TrackLocal { return nil }
func (t *stubTrack) SetEnabled(v bool)             { t.enabled = v }
func (t *stubTrack) Enabled() bool                 { return t.enabled }
func (t *stubTrack) Close() error                  { t.closed = true; return nil }

type stubCapture struct {
	audioErr   error
	videoErr   error
	audioOpens int
	videoOpens int
	lastAudio  *stubTrack
	lastVideo  *stubTrack
}

func (c *stubCapture) OpenAudio() (core.LocalTrack, error) {
	c.audioOpens++
	if c.audioErr != nil {
		return nil, c.audioErr
	}
	c.lastAudio = &stubTrack{kind: webrtc.RTPCodecTypeAudio}
	return c.lastAudio, nil
}

func (c *stubCapture) OpenVideo() (core.LocalTrack, error) {
	c.videoOpens++
	if c.videoErr != nil {
		return nil, c.videoErr
	}
	c.lastVideo = &stubTrack{kind: webrtc.RTPCodecTypeVideo}
	return c.lastVideo, nil
}

func TestAcquireAudioOpensOnce(t *testing.T) {
	cap := &stubCapture{}
	tr := NewTracks(cap)

	require.NoError(t, tr.Acquire(domain.MediaAudio))
	require.NoError(t, tr.Acquire(domain.MediaAudio))

	require.Equal(t, 1, cap.audioOpens)
	require.Zero(t, cap.videoOpens)
	require.Len(t, tr.LocalTracks(), 1)
	require.False(t, tr.Muted())
}

func TestAcquireVideoCallDegradesWithoutCamera(t *testing.T) {
	cap := &stubCapture{videoErr: errors.New("denied")}
	tr := NewTracks(cap)

	// Camera denial is not fatal as long as the microphone came up.
	require.NoError(t, tr.Acquire(domain.MediaVideo))
	require.Len(t, tr.LocalTracks(), 1)
	require.True(t, tr.AudioAvailable())
	require.False(t, tr.VideoAvailable())
}

func TestAcquireFailsWhenNothingAvailable(t *testing.T) {
	cap := &stubCapture{
		audioErr: errors.New("denied"),
		videoErr: errors.New("denied"),
	}
	tr := NewTracks(cap)

	require.Error(t, tr.Acquire(domain.MediaVideo))
	require.Empty(t, tr.LocalTracks())
}

func TestToggleMuteFlipsInPlace(t *testing.T) {
	cap := &stubCapture{}
	tr := NewTracks(cap)
	require.NoError(t, tr.Acquire(domain.MediaAudio))
	track := cap.lastAudio

	require.True(t, tr.ToggleMute())
	require.False(t, track.enabled)
	require.False(t, tr.ToggleMute())
	require.True(t, track.enabled)

	// Muting never re-opens or replaces the device track.
	require.Equal(t, 1, cap.audioOpens)
	require.Same(t, track, cap.lastAudio)
}

func TestToggleVideoCreatesTrackOnlyOnce(t *testing.T) {
	cap := &stubCapture{}
	tr := NewTracks(cap)
	require.NoError(t, tr.Acquire(domain.MediaAudio))

	enabled, created, err := tr.ToggleVideo()
	require.NoError(t, err)
	require.True(t, enabled)
	require.NotNil(t, created)
	require.Equal(t, 1, cap.videoOpens)

	// Subsequent toggles flip the flag on the held track.
	enabled, created, err = tr.ToggleVideo()
	require.NoError(t, err)
	require.False(t, enabled)
	require.Nil(t, created)

	enabled, created, err = tr.ToggleVideo()
	require.NoError(t, err)
	require.True(t, enabled)
	require.Nil(t, created)
	require.Equal(t, 1, cap.videoOpens)
}

func TestToggleVideoSurfacesCameraFailure(t *testing.T) {
	cap := &stubCapture{videoErr: errors.New("denied")}
	tr := NewTracks(cap)
	require.NoError(t, tr.Acquire(domain.MediaAudio))

	_, created, err := tr.ToggleVideo()
	require.Error(t, err)
	require.Nil(t, created)
	require.False(t, tr.VideoEnabled())
}

func TestCloseReleasesAndResets(t *testing.T) {
	cap := &stubCapture{}
	tr := NewTracks(cap)
	require.NoError(t, tr.Acquire(domain.MediaVideo))
	audio, video := cap.lastAudio, cap.lastVideo

	tr.Close()
	tr.Close()

	require.True(t, audio.closed)
	require.True(t, video.closed)
	require.Empty(t, tr.LocalTracks())

	// Permission flags reset with the session.
	require.True(t, tr.AudioAvailable())
	require.True(t, tr.VideoAvailable())

	// A new session acquires fresh devices.
	require.NoError(t, tr.Acquire(domain.MediaAudio))
	require.Equal(t, 2, cap.audioOpens)
}

func TestSyntheticSourceTracks(t *testing.T) {
	src := NewSyntheticSource()

	audio, err := src.OpenAudio()
	require.NoError(t, err)
	require.Equal(t, webrtc.RTPCodecTypeAudio, audio.Kind())
	require.NotNil(t, audio.TrackLocal())

	video, err := src.OpenVideo()
	require.NoError(t, err)
	require.Equal(t, webrtc.RTPCodecTypeVideo, video.Kind())

	audio.SetEnabled(true)
	require.True(t, audio.Enabled())
	audio.SetEnabled(false)
	require.False(t, audio.Enabled())

	require.NoError(t, audio.Close())
	require.NoError(t, audio.Close())
	require.NoError(t, video.Close())
}
