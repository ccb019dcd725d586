package joint

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/injoint/joint/internal/v1/dispatch"
	"github.com/injoint/joint/internal/v1/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockConn is a no-op Conn: the joint core never calls its methods
// directly (that's the transport's job), but Attach requires one.
type mockConn struct{}

func (mockConn) ReadMessage() ([]byte, error) { return nil, nil }
func (mockConn) WriteMessage([]byte) error    { return nil }
func (mockConn) Close() error                 { return nil }

func echoFactory() dispatch.Dispatcher {
	return dispatch.NewReflectiveDispatcher(nil,
		dispatch.Registration{
			Name: "send_message",
			Handler: func(clientID uint64, text string) (string, error) {
				return text, nil
			},
			Broadcast: dispatch.BroadcastToRoom,
		},
	)
}

func newTestJoint(t *testing.T) (*Joint, context.Context, context.CancelFunc) {
	j := New(echoFactory)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = j.Run(ctx) }()
	t.Cleanup(cancel)
	return j, ctx, cancel
}

func drainOne(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func send(j *Joint, id uint64, req wire.Request) {
	frame, _ := json.Marshal(req)
	j.Inbound(id, frame)
}

func TestCreateRoom_AssignsOwnerAndRoomID(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	send(j, h.ID, wire.Request{Type: wire.KindCreateRoom})

	frame := drainOne(t, h.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, wire.StatusOk, resp.Status)
	assert.NotEmpty(t, resp.Room)
	assert.Equal(t, 1, j.RoomCount())
}

func TestCreateRoom_SecondTimeFails(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	send(j, h.ID, wire.Request{Type: wire.KindCreateRoom})
	drainOne(t, h.Outbound)

	send(j, h.ID, wire.Request{Type: wire.KindCreateRoom})
	frame := drainOne(t, h.Outbound)

	var resp wire.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, wire.StatusErr, resp.Status)
}

func TestJoinRoom_BroadcastsToExistingMembers(t *testing.T) {
	j, _, _ := newTestJoint(t)

	owner := j.Attach(mockConn{})
	send(j, owner.ID, wire.Request{Type: wire.KindCreateRoom})
	createResp := drainOne(t, owner.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(createResp, &resp))
	roomID := resp.Room

	joiner := j.Attach(mockConn{})
	send(j, joiner.ID, wire.Request{Type: wire.KindJoinRoom, Room: roomID})

	joinFrame := drainOne(t, joiner.Outbound)
	var joinResp wire.Response
	require.NoError(t, json.Unmarshal(joinFrame, &joinResp))
	assert.Equal(t, wire.StatusOk, joinResp.Status)

	broadcastFrame := drainOne(t, owner.Outbound)
	var b wire.Broadcast
	require.NoError(t, json.Unmarshal(broadcastFrame, &b))
	assert.Equal(t, wire.EventJoined, b.Event)
	assert.Equal(t, wire.ClientID(joiner.ID), b.Client)
}

func TestJoinRoom_AlreadyInRoomFails(t *testing.T) {
	j, _, _ := newTestJoint(t)

	owner := j.Attach(mockConn{})
	send(j, owner.ID, wire.Request{Type: wire.KindCreateRoom})
	createResp := drainOne(t, owner.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(createResp, &resp))

	send(j, owner.ID, wire.Request{Type: wire.KindJoinRoom, Room: resp.Room})
	frame := drainOne(t, owner.Outbound)
	var errResp wire.Response
	require.NoError(t, json.Unmarshal(frame, &errResp))
	assert.Equal(t, wire.StatusErr, errResp.Status)
}

func TestJoinRoom_UnknownRoomFails(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	send(j, h.ID, wire.Request{Type: wire.KindJoinRoom, Room: "nonexistent"})

	frame := drainOne(t, h.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, wire.StatusErr, resp.Status)
}

func TestAction_WithoutRoomFails(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	send(j, h.ID, wire.Request{Type: wire.KindAction, Name: "send_message", Payload: json.RawMessage(`["hi"]`)})

	frame := drainOne(t, h.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, wire.StatusErr, resp.Status)
}

func TestAction_UnknownActionFails(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	send(j, h.ID, wire.Request{Type: wire.KindCreateRoom})
	drainOne(t, h.Outbound)

	send(j, h.ID, wire.Request{Type: wire.KindAction, Name: "nope"})
	frame := drainOne(t, h.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, wire.StatusErr, resp.Status)
}

func TestAction_BroadcastsToAllMembersIncludingActor(t *testing.T) {
	j, _, _ := newTestJoint(t)

	owner := j.Attach(mockConn{})
	send(j, owner.ID, wire.Request{Type: wire.KindCreateRoom})
	createFrame := drainOne(t, owner.Outbound)
	var createResp wire.Response
	require.NoError(t, json.Unmarshal(createFrame, &createResp))
	roomID := createResp.Room

	joiner := j.Attach(mockConn{})
	send(j, joiner.ID, wire.Request{Type: wire.KindJoinRoom, Room: roomID})
	drainOne(t, joiner.Outbound) // join ok response
	drainOne(t, owner.Outbound)  // joined broadcast

	send(j, joiner.ID, wire.Request{
		Type:    wire.KindAction,
		Name:    "send_message",
		Payload: json.RawMessage(`["hello"]`),
	})

	actionResp := drainOne(t, joiner.Outbound)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(actionResp, &resp))
	assert.Equal(t, wire.StatusOk, resp.Status)

	// The actor (joiner) receives the ActionApplied broadcast too, not just
	// the direct Ok response — both it and the other member (owner) must
	// observe the same post-action event.
	for _, h := range []*ClientHandle{owner, joiner} {
		broadcastFrame := drainOne(t, h.Outbound)
		var b wire.Broadcast
		require.NoError(t, json.Unmarshal(broadcastFrame, &b))
		assert.Equal(t, wire.EventActionApplied, b.Event)
		assert.Equal(t, "send_message", b.Name)
	}
}

func TestLeaveRoom_TransfersOwnershipToEarliestJoined(t *testing.T) {
	j, _, _ := newTestJoint(t)

	owner := j.Attach(mockConn{})
	send(j, owner.ID, wire.Request{Type: wire.KindCreateRoom})
	createFrame := drainOne(t, owner.Outbound)
	var createResp wire.Response
	require.NoError(t, json.Unmarshal(createFrame, &createResp))
	roomID := createResp.Room

	second := j.Attach(mockConn{})
	send(j, second.ID, wire.Request{Type: wire.KindJoinRoom, Room: roomID})
	drainOne(t, second.Outbound)
	drainOne(t, owner.Outbound) // joined broadcast

	third := j.Attach(mockConn{})
	send(j, third.ID, wire.Request{Type: wire.KindJoinRoom, Room: roomID})
	drainOne(t, third.Outbound)
	drainOne(t, owner.Outbound)  // joined broadcast
	drainOne(t, second.Outbound) // joined broadcast

	send(j, owner.ID, wire.Request{Type: wire.KindLeaveRoom})
	drainOne(t, owner.Outbound) // leave ok

	leftFrame := drainOne(t, second.Outbound)
	var leftB wire.Broadcast
	require.NoError(t, json.Unmarshal(leftFrame, &leftB))
	assert.Equal(t, wire.EventLeft, leftB.Event)
	drainOne(t, third.Outbound) // left broadcast too

	room := j.getRoom(roomID)
	require.NotNil(t, room)
	assert.Equal(t, second.ID, room.Owner())
}

func TestLeaveRoom_LastMemberClosesRoom(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	send(j, h.ID, wire.Request{Type: wire.KindCreateRoom})
	drainOne(t, h.Outbound)

	send(j, h.ID, wire.Request{Type: wire.KindLeaveRoom})
	drainOne(t, h.Outbound)

	assert.Equal(t, 0, j.RoomCount())
}

func TestDetach_RemovesClientAndClosesOutbound(t *testing.T) {
	j, _, _ := newTestJoint(t)

	h := j.Attach(mockConn{})
	assert.Equal(t, 1, j.ClientCount())

	j.Detach(h.ID)

	require.Eventually(t, func() bool {
		return j.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)

	_, open := <-h.Outbound
	assert.False(t, open, "outbound channel should be closed after detach")
}
