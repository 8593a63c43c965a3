package media

import "github.com/pion/webrtc/v4"

// EnginePopulator is implemented by capture sources whose tracks only bind
// to peer connections built from a matching MediaEngine (device capture with
// its codec selector). Sources without the method get default codecs.
type EnginePopulator interface {
	PopulateEngine(*webrtc.MediaEngine) error
}
