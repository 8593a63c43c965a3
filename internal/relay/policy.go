package relay

import "github.com/arklight/callwire/internal/signal"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickClient
)

// Policy decides what happens to a socket that cannot keep up with the
// event stream.
type Policy interface {
	OnBackPressure(c *client, event string) BackpressureAction
}

// SignalPolicy drops state broadcasts a slow client can recover from and
// kicks clients that fall behind on negotiation traffic, where a lost frame
// means a dead peer link.
type SignalPolicy struct{}

func (SignalPolicy) OnBackPressure(_ *client, event string) BackpressureAction {
	switch event {
	case signal.EvToggleAudio, signal.EvToggleVideo:
		return DropFrame
	default:
		return KickClient
	}
}
