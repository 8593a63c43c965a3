package core

import "github.com/pion/webrtc/v4"

// LocalTrack is one locally captured track. SetEnabled flips the live mute
// state in place without renegotiation; Close releases the device.
type LocalTrack interface {
	Kind() webrtc.RTPCodecType
	TrackLocal() webrtc.TrackLocal
	SetEnabled(bool)
	Enabled() bool
	Close() error
}

// CaptureSource acquires local capture devices. Open calls block until the
// device is ready or permission is denied; a denied device returns an error
// and must not leave the source in a broken state.
type CaptureSource interface {
	OpenAudio() (LocalTrack, error)
	OpenVideo() (LocalTrack, error)
}
