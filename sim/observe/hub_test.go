package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastReachesClient(t *testing.T) {
	// GIVEN a hub with one connected client
	h := NewHub()
	defer h.Close()
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// WHEN a frame is broadcast
	require.NoError(t, h.Broadcast(context.Background(), Frame{Time: 1.5, Labels: []string{"A@0"}, Counts: []int64{7}}))

	// THEN the client receives it as JSON
	var got Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, Frame{Time: 1.5, Labels: []string{"A@0"}, Counts: []int64{7}}, got)
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	h := NewHub()
	defer h.Close()
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_CloseStopsBroadcasts(t *testing.T) {
	h := NewHub()
	dial(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Close())
	assert.Equal(t, 0, h.Clients())
	assert.ErrorIs(t, h.Broadcast(context.Background(), Frame{}), ErrClosed)
	// idempotent
	assert.NoError(t, h.Close())
}

// steppingSource is a fake simulation whose clock the test moves.
type steppingSource struct {
	mu    sync.Mutex
	clock float64
	steps uint64
}

func (s *steppingSource) advance(dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock += dt
	s.steps++
}

func (s *steppingSource) Counts(points [][2]int, dst []int64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range points {
		dst[i] = int64(s.steps) * 10
	}
	return s.clock, nil
}

func (s *steppingSource) Steps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

func TestPoll_BroadcastsOnClockChange(t *testing.T) {
	// GIVEN a connected client and a polling loop
	h := NewHub()
	defer h.Close()
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	src := &steppingSource{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Poll(ctx, h, src, [][2]int{{0, 0}}, []string{"X@0"}, 5*time.Millisecond) }()

	// THEN the first frame is the initial state
	var f Frame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, 0.0, f.Time)

	// WHEN the clock moves
	src.advance(0.5)

	// THEN the next frame carries the new time and counts
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, 0.5, f.Time)
	assert.Equal(t, uint64(1), f.Steps)
	assert.Equal(t, []int64{10}, f.Counts)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after cancel")
	}
}
