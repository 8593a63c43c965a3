package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/arklight/callwire/internal/api"
	"github.com/arklight/callwire/internal/config"
	"github.com/arklight/callwire/internal/core"
	"github.com/arklight/callwire/internal/domain"
	"github.com/arklight/callwire/internal/signal"
)

type node struct {
	client *signal.Client
	api    *api.Client
	sid    domain.TransportID
}

// sub returns a channel fed with the raw payloads of one event.
func (n *node) sub(event string) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 8)
	n.client.On(event, func(data json.RawMessage) {
		ch <- data
	})
	return ch
}

func recv[T any](t *testing.T, ch <-chan json.RawMessage) T {
	t.Helper()
	var v T
	select {
	case data := <-ch:
		require.NoError(t, json.Unmarshal(data, &v))
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return v
}

func startRelay(t *testing.T, ringTimeout time.Duration) (*Hub, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	hub := NewHub(ringTimeout, 8)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, hub))
	t.Cleanup(srv.Close)
	return hub, srv
}

func connectNode(t *testing.T, srv *httptest.Server, uid, name string) *node {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + uid + "&username=" + name
	cl, err := signal.Dial(ctx, wsURL)
	require.NoError(t, err)
	t.Cleanup(cl.Close)
	go cl.Run(ctx)

	idCtx, idCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer idCancel()
	sid, err := cl.ID(idCtx)
	require.NoError(t, err)

	return &node{
		client: cl,
		api:    api.NewClient(srv.URL, domain.UserID(uid)),
		sid:    sid,
	}
}

func TestDirectCallSignalingFlow(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")

	bobIncoming := bob.sub(signal.EvIncomingCall)
	aliceAnswered := alice.sub(signal.EvCallAnswered)

	ctx := context.Background()
	sess, err := alice.api.Initiate(ctx, core.InitiateRequest{ReceiverID: "bob", CallType: domain.MediaAudio})
	require.NoError(t, err)
	require.Equal(t, domain.CallModeDirect, sess.Mode)
	require.Equal(t, 2, sess.MaxParticipants)

	notice := recv[signal.CallNotice](t, bobIncoming)
	require.Equal(t, sess.ID, notice.Call.ID)
	require.NotNil(t, notice.Caller)
	require.Equal(t, domain.UserID("alice"), notice.Caller.UserID)
	require.Equal(t, alice.sid, notice.Caller.SocketID)

	require.NoError(t, bob.api.Answer(ctx, sess.ID))
	answered := recv[signal.CallAnswered](t, aliceAnswered)
	require.Equal(t, sess.ID, answered.CallID)
	require.Equal(t, domain.UserID("bob"), answered.User.UserID)

	// Bob joins the empty room first.
	bobMembers := bob.sub(signal.EvRoomMembers)
	bobPeerJoined := bob.sub(signal.EvPeerJoined)
	require.NoError(t, bob.client.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: bob.sid}))
	members := recv[signal.RoomMembers](t, bobMembers)
	require.Empty(t, members.Members)

	// Alice joins second: she sees Bob, Bob learns about her.
	aliceMembers := alice.sub(signal.EvRoomMembers)
	require.NoError(t, alice.client.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: alice.sid}))
	members = recv[signal.RoomMembers](t, aliceMembers)
	require.Len(t, members.Members, 1)
	require.Equal(t, bob.sid, members.Members[0].SocketID)

	joined := recv[signal.PeerJoined](t, bobPeerJoined)
	require.Equal(t, alice.sid, joined.Peer.SocketID)
	require.Equal(t, domain.UserID("alice"), joined.Peer.UserID)
}

func TestDescriptionForwardingRestampsSender(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")

	bobOffer := bob.sub(signal.EvOffer)
	bobCandidate := bob.sub(signal.EvCandidate)

	offer := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	require.NoError(t, alice.client.Emit(signal.EvOffer, signal.Description{
		TargetSocketID: bob.sid,
		// A spoofed sender identity must be overwritten by the relay.
		FromSocketID: "spoofed",
		FromUserID:   "mallory",
		CallID:       "call-x",
		Offer:        offer,
	}))

	d := recv[signal.Description](t, bobOffer)
	require.Equal(t, alice.sid, d.FromSocketID)
	require.Equal(t, domain.UserID("alice"), d.FromUserID)
	require.NotNil(t, d.Offer)
	require.Equal(t, "v=0", d.Offer.SDP)

	require.NoError(t, alice.client.Emit(signal.EvCandidate, signal.Candidate{
		TargetSocketID: bob.sid,
		CallID:         "call-x",
		Candidate:      webrtc.ICECandidateInit{Candidate: "candidate:1"},
	}))
	c := recv[signal.Candidate](t, bobCandidate)
	require.Equal(t, alice.sid, c.FromSocketID)
	require.Equal(t, "candidate:1", c.Candidate.Candidate)
}

func TestDeclineReachesCaller(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")

	bobIncoming := bob.sub(signal.EvIncomingCall)
	aliceDeclined := alice.sub(signal.EvCallDeclined)

	ctx := context.Background()
	sess, err := alice.api.Initiate(ctx, core.InitiateRequest{ReceiverID: "bob", CallType: domain.MediaAudio})
	require.NoError(t, err)
	recv[signal.CallNotice](t, bobIncoming)

	require.NoError(t, bob.api.Decline(ctx, sess.ID, "busy"))

	declined := recv[signal.CallDeclined](t, aliceDeclined)
	require.Equal(t, sess.ID, declined.CallID)
	require.Equal(t, domain.UserID("bob"), declined.UserID)
	require.Equal(t, "busy", declined.Reason)

	// The session is gone; answering now fails.
	require.Error(t, bob.api.Answer(ctx, sess.ID))
}

func TestEndBroadcastsToParties(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")

	bobIncoming := bob.sub(signal.EvIncomingCall)
	bobEnded := bob.sub(signal.EvCallEnded)

	ctx := context.Background()
	sess, err := alice.api.Initiate(ctx, core.InitiateRequest{ReceiverID: "bob", CallType: domain.MediaAudio})
	require.NoError(t, err)
	recv[signal.CallNotice](t, bobIncoming)
	require.NoError(t, bob.api.Answer(ctx, sess.ID))

	require.NoError(t, alice.api.End(ctx, sess.ID))

	ended := recv[signal.CallEnded](t, bobEnded)
	require.Equal(t, sess.ID, ended.CallID)
	require.Equal(t, "ended", ended.Reason)
}

func postJSON(t *testing.T, srv *httptest.Server, path, uid string, v any) *http.Response {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", uid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestGroupCallFansOutToMembers(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")
	carol := connectNode(t, srv, "carol", "Carol")

	resp := postJSON(t, srv, "/group", "alice", domain.Group{
		ID:      "g1",
		Name:    "team",
		Members: []domain.UserID{"alice", "bob", "carol"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	bobIncoming := bob.sub(signal.EvIncomingCall)
	carolIncoming := carol.sub(signal.EvIncomingCall)

	ctx := context.Background()
	sess, err := alice.api.Initiate(ctx, core.InitiateRequest{GroupID: "g1", CallType: domain.MediaAudio})
	require.NoError(t, err)
	require.Equal(t, domain.CallModeGroup, sess.Mode)
	require.Equal(t, domain.GroupID("g1"), sess.GroupID)

	require.Equal(t, sess.ID, recv[signal.CallNotice](t, bobIncoming).Call.ID)
	require.Equal(t, sess.ID, recv[signal.CallNotice](t, carolIncoming).Call.ID)

	require.NoError(t, bob.api.Answer(ctx, sess.ID))
	require.NoError(t, carol.api.Answer(ctx, sess.ID))

	// Mesh bootstrap: the third joiner sees both earlier members.
	aliceMembers := alice.sub(signal.EvRoomMembers)
	bobMembers := bob.sub(signal.EvRoomMembers)
	carolMembers := carol.sub(signal.EvRoomMembers)

	require.NoError(t, alice.client.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: alice.sid}))
	require.Empty(t, recv[signal.RoomMembers](t, aliceMembers).Members)

	require.NoError(t, bob.client.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: bob.sid}))
	require.Len(t, recv[signal.RoomMembers](t, bobMembers).Members, 1)

	require.NoError(t, carol.client.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: carol.sid}))
	require.Len(t, recv[signal.RoomMembers](t, carolMembers).Members, 2)
}

func TestGroupMemberLeaveKeepsCallAlive(t *testing.T) {
	hub, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")
	carol := connectNode(t, srv, "carol", "Carol")

	hub.CreateGroup(&domain.Group{ID: "g1", Members: []domain.UserID{"alice", "bob", "carol"}})

	bobIncoming := bob.sub(signal.EvIncomingCall)
	carolIncoming := carol.sub(signal.EvIncomingCall)

	ctx := context.Background()
	sess, err := alice.api.Initiate(ctx, core.InitiateRequest{GroupID: "g1", CallType: domain.MediaAudio})
	require.NoError(t, err)
	recv[signal.CallNotice](t, bobIncoming)
	recv[signal.CallNotice](t, carolIncoming)
	require.NoError(t, bob.api.Answer(ctx, sess.ID))
	require.NoError(t, carol.api.Answer(ctx, sess.ID))

	for _, n := range []*node{alice, bob, carol} {
		require.NoError(t, n.client.Emit(signal.EvJoinRoom, signal.JoinRoom{CallID: sess.ID, PeerID: n.sid}))
	}

	alicePeerLeft := alice.sub(signal.EvPeerLeft)
	// Bob hangs up; he is not the initiator, so only he leaves.
	require.NoError(t, bob.api.End(ctx, sess.ID))

	left := recv[signal.PeerLeft](t, alicePeerLeft)
	require.Equal(t, domain.UserID("bob"), left.UserID)

	// Carol can still answer signaling for the live session.
	require.NoError(t, carol.api.End(ctx, sess.ID))
}

func TestExpireUnansweredCall(t *testing.T) {
	hub, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")
	bob := connectNode(t, srv, "bob", "Bob")

	bobIncoming := bob.sub(signal.EvIncomingCall)
	aliceEnded := alice.sub(signal.EvCallEnded)

	ctx := context.Background()
	sess, err := alice.api.Initiate(ctx, core.InitiateRequest{ReceiverID: "bob", CallType: domain.MediaAudio})
	require.NoError(t, err)
	recv[signal.CallNotice](t, bobIncoming)

	hub.expireCall(sess.ID)

	ended := recv[signal.CallEnded](t, aliceEnded)
	require.Equal(t, "timeout", ended.Reason)
	require.Error(t, bob.api.Answer(ctx, sess.ID))
}

func TestInitiateRequiresExactlyOneTarget(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	alice := connectNode(t, srv, "alice", "Alice")

	ctx := context.Background()
	_, err := alice.api.Initiate(ctx, core.InitiateRequest{CallType: domain.MediaAudio})
	require.Error(t, err)

	_, err = alice.api.Initiate(ctx, core.InitiateRequest{
		ReceiverID: "bob", GroupID: "g1", CallType: domain.MediaAudio,
	})
	require.Error(t, err)
}

func TestAnswerUnknownCallRejected(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	bob := connectNode(t, srv, "bob", "Bob")
	require.Error(t, bob.api.Answer(context.Background(), "no-such-call"))
}

func TestMissingIdentityRejected(t *testing.T) {
	_, srv := startRelay(t, time.Minute)
	resp, err := http.Post(srv.URL+"/call/initiate", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallRateLimiter(t *testing.T) {
	rl := NewCallRateLimiter(2, time.Minute)
	require.True(t, rl.Allow("alice"))
	require.True(t, rl.Allow("alice"))
	require.False(t, rl.Allow("alice"))
	// Other users keep their own window.
	require.True(t, rl.Allow("bob"))
}

func TestSignalPolicyActions(t *testing.T) {
	p := SignalPolicy{}
	require.Equal(t, DropFrame, p.OnBackPressure(nil, signal.EvToggleAudio))
	require.Equal(t, DropFrame, p.OnBackPressure(nil, signal.EvToggleVideo))
	require.Equal(t, KickClient, p.OnBackPressure(nil, signal.EvOffer))
	require.Equal(t, KickClient, p.OnBackPressure(nil, signal.EvCallEnded))
}
