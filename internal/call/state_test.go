package call

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycleTableRouting(t *testing.T) {
	require.NotNil(t, transitions[StateIdle][evIncomingCall])
	require.NotNil(t, transitions[StateOutgoingRinging][evCallAnswered])
	require.NotNil(t, transitions[StateOutgoingRinging][evCallDeclined])
	require.NotNil(t, transitions[StateOutgoingRinging][evCallEnded])
	require.NotNil(t, transitions[StateOutgoingRinging][evRingTimeout])
	require.NotNil(t, transitions[StateIncomingRinging][evCallEnded])
	require.NotNil(t, transitions[StateIncomingRinging][evRingTimeout])
	require.NotNil(t, transitions[StateActive][evCallAnswered])
	require.NotNil(t, transitions[StateActive][evCallDeclined])
	require.NotNil(t, transitions[StateActive][evCallEnded])

	// Pairs absent from the table drop silently.
	_, ok := transitions[StateIdle][evCallAnswered]
	require.False(t, ok)
	_, ok = transitions[StateEnded][evRingTimeout]
	require.False(t, ok)
}
