package call

import (
	"github.com/rs/zerolog/log"

	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

type State int

const (
	StateIdle State = iota
	StateOutgoingRinging
	StateIncomingRinging
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOutgoingRinging:
		return "outgoing-ringing"
	case StateIncomingRinging:
		return "incoming-ringing"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

type eventKind int

const (
	evIncomingCall eventKind = iota
	evCallAnswered
	evCallDeclined
	evCallEnded
	evRingTimeout
)

func (k eventKind) String() string {
	switch k {
	case evIncomingCall:
		return "incomingCall"
	case evCallAnswered:
		return "callAnswered"
	case evCallDeclined:
		return "callDeclined"
	case evCallEnded:
		return "callEnded"
	case evRingTimeout:
		return "ringTimeout"
	}
	return "unknown"
}

type event struct {
	kind     eventKind
	call     *domain.Call
	caller   *signal.PeerInfo
	answered *signal.CallAnswered
	declined *signal.CallDeclined
	reason   string
}

// transition handles one (state, event) pair. It runs with the coordinator
// lock held, mutates coordinator fields, and returns the next state plus
// side-effect commands executed after the lock is released.
type transition func(c *Coordinator, ev event) (State, []func())

// transitions is the session state machine. Pairs absent from the table are
// ignored on purpose: a second incomingCall while one prompt is up, an
// answer for a dead session, a late timeout - all drop silently.
//
// Populated in init: the method expressions reach apply through the timer
// path, so a composite literal would be an initialization cycle.
var transitions map[State]map[eventKind]transition

func init() {
	transitions = map[State]map[eventKind]transition{
		StateIdle: {
			evIncomingCall: (*Coordinator).onIncomingCall,
		},
		StateOutgoingRinging: {
			evCallAnswered: (*Coordinator).onRemoteAnswered,
			evCallDeclined: (*Coordinator).onRemoteDeclined,
			evCallEnded:    (*Coordinator).onRemoteEnded,
			evRingTimeout:  (*Coordinator).onOutgoingTimeout,
		},
		StateIncomingRinging: {
			evCallEnded:   (*Coordinator).onRemoteEnded,
			evRingTimeout: (*Coordinator).onIncomingTimeout,
		},
		StateActive: {
			evCallAnswered: (*Coordinator).onParticipantAnswered,
			evCallDeclined: (*Coordinator).onParticipantDeclined,
			evCallEnded:    (*Coordinator).onRemoteEnded,
		},
	}
}

// apply routes one event through the transition table.
func (c *Coordinator) apply(ev event) {
	c.mu.Lock()
	t, ok := transitions[c.state][ev.kind]
	if !ok {
		st := c.state
		c.mu.Unlock()
		log.Debug().Str("module", "call").Str("state", st.String()).Str("event", ev.kind.String()).Msg("event ignored")
		return
	}
	next, cmds := t(c, ev)
	if next != c.state {
		log.Info().Str("module", "call").Str("from", c.state.String()).Str("to", next.String()).Str("event", ev.kind.String()).Msg("state change")
	}
	c.state = next
	c.mu.Unlock()

	for _, cmd := range cmds {
		cmd()
	}
}
