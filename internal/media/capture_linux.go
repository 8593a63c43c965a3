//go:build linux && cgo

package media

import (
	"fmt"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
)

// DeviceSource captures the real microphone and camera via pion/mediadevices
// (V4L2 + malgo on Linux). Audio and video are opened independently so a
// missing camera never blocks the microphone.
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

func NewDeviceSource() (core.CaptureSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// PopulateEngine registers the selector's codecs on the MediaEngine used for
// peer links. Device tracks only bind to connections built from this engine.
func (s *DeviceSource) PopulateEngine(me *webrtc.MediaEngine) error {
	s.selector.Populate(me)
	return nil
}

func (s *DeviceSource) OpenAudio() (core.LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("open microphone: no track")
	}
	return newDeviceTrack(tracks[0], webrtc.RTPCodecTypeAudio), nil
}

func (s *DeviceSource) OpenVideo() (core.LocalTrack, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: s.selector,
		Video: func(c *mediadevices.MediaTrackConstraints) {
			// Raw formats only; MJPEG camera nodes can poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("open camera: no track")
	}
	return newDeviceTrack(tracks[0], webrtc.RTPCodecTypeVideo), nil
}

type deviceTrack struct {
	t       mediadevices.Track
	kind    webrtc.RTPCodecType
	enabled atomic.Bool
}

func newDeviceTrack(t mediadevices.Track, kind webrtc.RTPCodecType) *deviceTrack {
	t.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Msg("device track ended")
		}
	})
	dt := &deviceTrack{t: t, kind: kind}
	dt.enabled.Store(true)
	return dt
}

func (d *deviceTrack) Kind() webrtc.RTPCodecType    { return d.kind }
func (d *deviceTrack) TrackLocal() webrtc.TrackLocal { return d.t }

// SetEnabled flips the advertised state. The capture pipeline keeps running;
// receivers honor the mute state broadcast over the signaling channel.
func (d *deviceTrack) SetEnabled(v bool) { d.enabled.Store(v) }
func (d *deviceTrack) Enabled() bool     { return d.enabled.Load() }

func (d *deviceTrack) Close() error { return d.t.Close() }
