package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/core"
)

// opusSilence is a minimal Opus frame decoding to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// vp8Filler is a VP8 payload descriptor with an empty frame; enough to keep
// RTP flowing where nothing decodes it.
var vp8Filler = []byte{0x10, 0x00}

const packetInterval = 20 * time.Millisecond

// SyntheticSource fabricates tracks that emit a steady RTP stream without
// touching any hardware. It backs headless runs and tests.
type SyntheticSource struct{}

func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{} }

func (s *SyntheticSource) OpenAudio() (core.LocalTrack, error) {
	return newSyntheticTrack(webrtc.RTPCodecTypeAudio)
}

func (s *SyntheticSource) OpenVideo() (core.LocalTrack, error) {
	return newSyntheticTrack(webrtc.RTPCodecTypeVideo)
}

type syntheticTrack struct {
	kind    webrtc.RTPCodecType
	track   *webrtc.TrackLocalStaticRTP
	enabled atomic.Bool

	done chan struct{}
	once sync.Once
}

func newSyntheticTrack(kind webrtc.RTPCodecType) (*syntheticTrack, error) {
	var cap webrtc.RTPCodecCapability
	var id string
	if kind == webrtc.RTPCodecTypeAudio {
		cap = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
		id = "audio"
	} else {
		cap = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		id = "video"
	}

	track, err := webrtc.NewTrackLocalStaticRTP(cap, id, "callwire")
	if err != nil {
		return nil, err
	}

	t := &syntheticTrack{
		kind:  kind,
		track: track,
		done:  make(chan struct{}),
	}
	t.enabled.Store(true)
	go t.loop()
	return t, nil
}

// loop writes one packet per tick. A disabled track keeps ticking (the
// timestamp clock must advance) but skips the write, which is what mute
// means here.
func (t *syntheticTrack) loop() {
	payload := opusSilence
	var tsStep uint32 = 960 // 20ms @ 48kHz
	if t.kind == webrtc.RTPCodecTypeVideo {
		payload = vp8Filler
		tsStep = 1800 // 20ms @ 90kHz
	}

	ticker := time.NewTicker(packetInterval)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			seq++
			ts += tsStep
			if !t.enabled.Load() {
				continue
			}
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					SequenceNumber: seq,
					Timestamp:      ts,
					Marker:         t.kind == webrtc.RTPCodecTypeVideo,
				},
				Payload: payload,
			}
			if err := t.track.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "media").Msg("synthetic write")
			}
		}
	}
}

func (t *syntheticTrack) Kind() webrtc.RTPCodecType    { return t.kind }
func (t *syntheticTrack) TrackLocal() webrtc.TrackLocal { return t.track }
func (t *syntheticTrack) SetEnabled(v bool)            { t.enabled.Store(v) }
func (t *syntheticTrack) Enabled() bool                { return t.enabled.Load() }

func (t *syntheticTrack) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
