package inproc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/injoint/joint/internal/v1/dispatch"
	"github.com/injoint/joint/internal/v1/joint"
	"github.com/injoint/joint/internal/v1/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoFactory() dispatch.Dispatcher {
	return dispatch.NewReflectiveDispatcher(nil,
		dispatch.Registration{
			Name: "ping",
			Handler: func(clientID uint64) (string, error) {
				return "pong", nil
			},
		},
	)
}

func recv(t *testing.T, p *Pipe) []byte {
	t.Helper()
	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		frame, err := p.Recv()
		done <- result{frame, err}
	}()
	select {
	case r := <-done:
		require.NoError(t, r.err)
		return r.frame
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestAttach_RoundTripsCreateRoom(t *testing.T) {
	j := joint.New(echoFactory)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = j.Run(ctx) }()

	client, handle := Attach(j, 8)
	assert.NotZero(t, handle.ID)

	req, _ := json.Marshal(wire.Request{Type: wire.KindCreateRoom})
	require.NoError(t, client.Send(req))

	frame := recv(t, client)
	var resp wire.Response
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, wire.StatusOk, resp.Status)
	assert.NotEmpty(t, resp.Room)
}

func TestAttach_ClosePropagatesToJoint(t *testing.T) {
	j := joint.New(echoFactory)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = j.Run(ctx) }()

	client, _ := Attach(j, 8)
	require.Equal(t, 1, j.ClientCount())

	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return j.ClientCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestPipe_WriteAfterCloseErrors(t *testing.T) {
	client, server := New(1)
	require.NoError(t, client.Close())

	err := server.WriteMessage([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
}
