package joint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClient_EnqueueSucceedsWhenBufferHasRoom(t *testing.T) {
	c := newClient(1, mockConn{}, 1, 50*time.Millisecond)
	assert.True(t, c.enqueue([]byte("a")))
}

func TestClient_EnqueueAwaitsDrainBeforeFailing(t *testing.T) {
	c := newClient(1, mockConn{}, 1, 100*time.Millisecond)
	a := assert.New(t)
	a.True(c.enqueue([]byte("a"))) // fills the one-slot buffer

	start := time.Now()
	ok := c.enqueue([]byte("b"))
	elapsed := time.Since(start)

	a.False(ok)
	a.GreaterOrEqual(elapsed, 100*time.Millisecond)
}

func TestClient_EnqueueSucceedsIfDrainedWithinTimeout(t *testing.T) {
	c := newClient(1, mockConn{}, 1, time.Second)
	assert.True(t, c.enqueue([]byte("a"))) // fills the one-slot buffer

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-c.Outbound() // drains the buffer, making room
	}()

	assert.True(t, c.enqueue([]byte("b")))
}

func TestClient_EnqueueNonBlockingWhenTimeoutDisabled(t *testing.T) {
	c := newClient(1, mockConn{}, 1, 0)
	assert.True(t, c.enqueue([]byte("a")))

	start := time.Now()
	ok := c.enqueue([]byte("b"))
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, 50*time.Millisecond)
}
