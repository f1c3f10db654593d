package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-callrelay/internal/auth"
	"github.com/npezzotti/go-callrelay/internal/recorder"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// newRelayServer serves r over a test server that trusts the user, role
// and tenant query parameters instead of a token.
func newRelayServer(t *testing.T, r *Relay) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}

		q := req.URL.Query()
		r.Admit(conn, auth.Claims{
			UserId:   q.Get("user"),
			Role:     q.Get("role"),
			TenantId: q.Get("tenant"),
		})
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.Shutdown(ctx)
	})

	return srv
}

func dialRelay(t *testing.T, srv *httptest.Server, user, tenant string) *websocket.Conn {
	t.Helper()

	q := url.Values{}
	q.Set("user", user)
	q.Set("role", "agent")
	q.Set("tenant", tenant)

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readCloseError(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}

		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
		return ce
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestRelay_ConnectionEstablished(t *testing.T) {
	ice := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

	rec := &recorder.MockRecorder{}
	rec.On("Record", mock.MatchedBy(func(ev recorder.Event) bool {
		return ev.Kind == recorder.ConnectionOpened && ev.UserId == "agent-1"
	})).Once()
	rec.On("Record", mock.MatchedBy(func(ev recorder.Event) bool {
		return ev.Kind == recorder.ConnectionClosed && ev.UserId == "agent-1"
	})).Maybe()

	r := newTestRelay(t, rec, Options{ICEServers: ice})
	srv := newRelayServer(t, r)

	conn := dialRelay(t, srv, "agent-1", "acme")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type       MessageType      `json:"type"`
		Version    int              `json:"v"`
		UserId     string           `json:"userId"`
		Role       string           `json:"role"`
		TenantId   string           `json:"tenantId"`
		SessionId  string           `json:"sessionId"`
		ICEServers []map[string]any `json:"iceServers"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))

	assert.Equal(t, TypeConnectionEstablished, msg.Type)
	assert.Equal(t, ProtocolVersion, msg.Version)
	assert.Equal(t, "agent-1", msg.UserId)
	assert.Equal(t, "agent", msg.Role)
	assert.Equal(t, "acme", msg.TenantId)
	assert.NotEmpty(t, msg.SessionId)
	require.Len(t, msg.ICEServers, 1)
	assert.Equal(t, []any{"stun:stun.l.google.com:19302"}, msg.ICEServers[0]["urls"])

	c, ok := r.registry.Lookup("agent-1")
	require.True(t, ok)
	assert.Equal(t, msg.SessionId, c.Info().SessionId)
	rec.AssertExpectations(t)
}

func TestRelay_SignalingScenario(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{})
	srv := newRelayServer(t, r)

	agent := dialRelay(t, srv, "agent-1", "acme")
	require.Equal(t, TypeConnectionEstablished, readEvent(t, agent).Type)

	sendFrame(t, agent, `{"type":"join_room","roomId":"support"}`)
	joined := readEvent(t, agent)
	assert.Equal(t, TypeRoomJoined, joined.Type)
	assert.Equal(t, []string{"agent-1"}, joined.Users)

	visitor := dialRelay(t, srv, "visitor-42", "acme")
	require.Equal(t, TypeConnectionEstablished, readEvent(t, visitor).Type)

	sendFrame(t, visitor, `{"type":"join_room","roomId":"support"}`)
	userJoined := readEvent(t, agent)
	assert.Equal(t, TypeUserJoined, userJoined.Type)
	assert.Equal(t, "visitor-42", userJoined.UserId)
	assert.Equal(t, "support", userJoined.RoomId)
	assert.Equal(t, TypeRoomJoined, readEvent(t, visitor).Type)

	sendFrame(t, visitor, `{"type":"webrtc_offer","targetUserId":"agent-1","offer":{"sdp":"o"},"callId":"c1"}`)
	offer := readEvent(t, agent)
	assert.Equal(t, TypeWebRTCOffer, offer.Type)
	assert.Equal(t, "visitor-42", offer.FromUserId)
	assert.Equal(t, "c1", offer.CallId)
	offerSent := readEvent(t, visitor)
	assert.Equal(t, TypeOfferSent, offerSent.Type)
	assert.Equal(t, "agent-1", offerSent.TargetUserId)

	sendFrame(t, agent, `{"type":"webrtc_answer","targetUserId":"visitor-42","answer":{"sdp":"a"},"callId":"c1"}`)
	answer := readEvent(t, visitor)
	assert.Equal(t, TypeWebRTCAnswer, answer.Type)
	assert.JSONEq(t, `{"sdp":"a"}`, string(answer.Answer))
	assert.Equal(t, TypeAnswerSent, readEvent(t, agent).Type)

	sendFrame(t, agent, `not json`)
	assert.Equal(t, TypeError, readEvent(t, agent).Type)
	sendFrame(t, agent, `{"type":"ping"}`)
	assert.Equal(t, TypePong, readEvent(t, agent).Type, "expected the connection to survive a malformed frame")

	agent.Close()

	left := readEvent(t, visitor)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "agent-1", left.UserId)
	assert.Equal(t, "support", left.RoomId)

	assert.Eventually(t, func() bool {
		_, ok := r.registry.Lookup("agent-1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	snap := r.Snapshot("")
	assert.Equal(t, 1, snap.TotalConnections)
	assert.Equal(t, "visitor-42", snap.Connections[0].UserId)
	assert.Equal(t, []RoomInfo{{RoomId: "support", UserCount: 1, Users: []string{"visitor-42"}}}, snap.Rooms)
}

func TestRelay_DuplicateLoginReplace(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{DuplicatePolicy: ReplaceDuplicate})
	srv := newRelayServer(t, r)

	visitor := dialRelay(t, srv, "visitor-42", "acme")
	readEvent(t, visitor)
	sendFrame(t, visitor, `{"type":"join_room","roomId":"support"}`)
	readEvent(t, visitor)

	old := dialRelay(t, srv, "agent-1", "acme")
	readEvent(t, old)
	sendFrame(t, old, `{"type":"join_room","roomId":"support"}`)
	readEvent(t, old)
	assert.Equal(t, TypeUserJoined, readEvent(t, visitor).Type)

	replacement := dialRelay(t, srv, "agent-1", "acme")
	established := readEvent(t, replacement)
	assert.Equal(t, TypeConnectionEstablished, established.Type)

	ce := readCloseError(t, old)
	assert.Equal(t, CloseReplaced, ce.Code)
	assert.Equal(t, "replaced by new connection", ce.Text)

	left := readEvent(t, visitor)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "agent-1", left.UserId)

	assert.Empty(t, r.rooms.RoomsOf("agent-1"), "expected the superseded session's rooms to be released")

	c, ok := r.registry.Lookup("agent-1")
	require.True(t, ok)
	assert.Equal(t, established.SessionId, c.Info().SessionId)

	sendFrame(t, replacement, `{"type":"join_room","roomId":"support"}`)
	assert.Equal(t, TypeRoomJoined, readEvent(t, replacement).Type)
	assert.Equal(t, TypeUserJoined, readEvent(t, visitor).Type)
	assert.Equal(t, []string{"support"}, r.rooms.RoomsOf("agent-1"))
}

func TestRelay_DuplicateLoginReject(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{DuplicatePolicy: RejectDuplicate})
	srv := newRelayServer(t, r)

	first := dialRelay(t, srv, "agent-1", "acme")
	firstEstablished := readEvent(t, first)

	second := dialRelay(t, srv, "agent-1", "acme")
	ce := readCloseError(t, second)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, "already connected", ce.Text)

	sendFrame(t, first, `{"type":"ping"}`)
	assert.Equal(t, TypePong, readEvent(t, first).Type, "expected the first connection to be unaffected")

	c, ok := r.registry.Lookup("agent-1")
	require.True(t, ok)
	assert.Equal(t, firstEstablished.SessionId, c.Info().SessionId)
}

func TestRelay_MaxConnections(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{MaxConnections: 1})
	srv := newRelayServer(t, r)

	first := dialRelay(t, srv, "agent-1", "acme")
	readEvent(t, first)

	second := dialRelay(t, srv, "agent-2", "acme")
	ce := readCloseError(t, second)
	assert.Equal(t, websocket.CloseTryAgainLater, ce.Code)
	assert.Equal(t, 1, r.registry.Len())
}

func TestRelay_TeardownIsIdempotent(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{})
	agent := registerTestClient(t, r, "agent-1", "acme")
	visitor := registerTestClient(t, r, "visitor-42", "acme")
	r.rooms.Join("agent-1", "support")
	r.rooms.Join("agent-1", "agent-room")
	r.rooms.Join("visitor-42", "support")

	assert.NotPanics(t, func() {
		r.Teardown(agent)
		r.Teardown(agent)
	})

	left := nextMessage(t, visitor)
	assert.Equal(t, TypeUserLeft, left.Type)
	assertNoMessage(t, visitor)

	_, ok := r.registry.Lookup("agent-1")
	assert.False(t, ok)
	assert.Empty(t, r.rooms.RoomsOf("agent-1"))
	assert.False(t, r.rooms.Exists("agent-room"))
	assert.Equal(t, []string{"visitor-42"}, r.rooms.MembersOf("support"))
	assert.Equal(t, 1, r.registry.Len())
}

func TestRelay_TeardownKeepsIdentityUntilRoomsReleased(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{})
	first := registerTestClient(t, r, "agent-1", "acme")
	visitor := registerTestClient(t, r, "visitor-42", "acme")
	r.rooms.Join("agent-1", "support")
	r.rooms.Join("visitor-42", "support")

	// a frame from first is being routed while it is torn down
	first.routeMu.Lock()
	go r.Teardown(first)
	require.Eventually(t, first.tornDown.Load, time.Second, 5*time.Millisecond)

	got, ok := r.registry.Lookup("agent-1")
	require.True(t, ok, "expected the identity to stay registered until teardown completes")
	assert.Same(t, first, got)

	second := newTestClient(r, "agent-1", "acme")
	prev, err := r.registry.Register(second, ReplaceDuplicate, 0)
	require.NoError(t, err)
	assert.Same(t, first, prev, "expected a new login to be handled as a replacement")

	// the in-flight frame joined another room
	r.rooms.Join("agent-1", "escalations")
	first.routeMu.Unlock()

	select {
	case <-first.released:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for teardown")
	}

	assert.Empty(t, r.rooms.RoomsOf("agent-1"), "expected no membership left behind by the torn down client")
	left := nextMessage(t, visitor)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, "support", left.RoomId)

	got, ok = r.registry.Lookup("agent-1")
	require.True(t, ok)
	assert.Same(t, second, got, "expected teardown not to remove the replacement")

	r.rooms.Join("agent-1", "support")
	assert.Equal(t, []string{"support"}, r.rooms.RoomsOf("agent-1"))
	assertNoMessage(t, visitor)
}

func TestRelay_RouteAfterTeardownStartsIsIgnored(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{})
	first := registerTestClient(t, r, "agent-1", "acme")

	first.routeMu.Lock()
	go r.Teardown(first)
	require.Eventually(t, first.tornDown.Load, time.Second, 5*time.Millisecond)
	first.routeMu.Unlock()
	<-first.released

	r.router.Route(first, []byte(`{"type":"join_room","roomId":"support"}`))

	assert.False(t, r.rooms.Exists("support"))
	assert.Empty(t, r.rooms.RoomsOf("agent-1"))
}

func TestRelay_Shutdown(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{})
	srv := newRelayServer(t, r)

	conn := dialRelay(t, srv, "agent-1", "acme")
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	ce := readCloseError(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, 0, r.registry.Len())

	late := dialRelay(t, srv, "agent-2", "acme")
	ce = readCloseError(t, late)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, 0, r.registry.Len())
}

func TestRelay_Snapshot(t *testing.T) {
	r := newTestRelay(t, recorder.Nop{}, Options{})
	registerTestClient(t, r, "agent-1", "acme")
	registerTestClient(t, r, "visitor-42", "acme")
	registerTestClient(t, r, "agent-9", "globex")
	r.rooms.Join("agent-1", "support")
	r.rooms.Join("visitor-42", "support")
	r.rooms.Join("agent-9", "support")
	r.rooms.Join("agent-9", "globex-agents")

	all := r.Snapshot("")
	assert.Equal(t, 3, all.TotalConnections)
	assert.Equal(t, 2, all.TotalRooms)
	assert.Equal(t, RoomInfo{RoomId: "support", UserCount: 3, Users: []string{"agent-1", "agent-9", "visitor-42"}}, all.Rooms[1])

	acme := r.Snapshot("acme")
	assert.Equal(t, 2, acme.TotalConnections)
	assert.Equal(t, "agent-1", acme.Connections[0].UserId)
	assert.Equal(t, []string{"support"}, acme.Connections[0].Rooms)
	assert.Equal(t, 1, acme.TotalRooms)
	assert.Equal(t, RoomInfo{RoomId: "support", UserCount: 2, Users: []string{"agent-1", "visitor-42"}}, acme.Rooms[0])

	none := r.Snapshot("initech")
	assert.Equal(t, 0, none.TotalConnections)
	assert.Empty(t, none.Rooms)
	assert.NotNil(t, none.Connections)
}
