package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
)

// LinkFactory mints a fresh peer link for a remote transport session.
type LinkFactory func(tid domain.TransportID) (core.PeerLink, error)

type FactoryConfig struct {
	ICEServers []string
	// EngineSetup registers codecs on the MediaEngine. Nil means default
	// codecs; device capture sources supply their own selector here.
	EngineSetup func(*webrtc.MediaEngine) error
}

// NewLinkFactory assembles the webrtc API once (media engine + default
// interceptors) and returns a factory producing links bound to it.
func NewLinkFactory(cfg FactoryConfig) (LinkFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if cfg.EngineSetup != nil {
		if err := cfg.EngineSetup(mediaEngine); err != nil {
			return nil, err
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	webCfg := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		webCfg.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return func(tid domain.TransportID) (core.PeerLink, error) {
		pc, err := api.NewPeerConnection(webCfg)
		if err != nil {
			return nil, err
		}
		return newLink(pc, tid), nil
	}, nil
}
