package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

// wsServer accepts websocket connections and can drop them on demand.
// Closing the httptest server alone does not close hijacked websockets, so
// accepted conns are tracked and torn down explicitly.
type wsServer struct {
	srv   *httptest.Server
	dials atomic.Int32
	open  atomic.Int32
	drop  atomic.Bool

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.dials.Add(1)
		if s.drop.Load() {
			conn.Close()
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.open.Add(1)
		defer s.open.Add(-1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func TestEmitWithoutConnect(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:0/ws"}, func(models.Frame) {})
	err := c.Emit(models.EventTyping, models.TypingPayload{RoomID: "r"})
	require.ErrorIs(t, err, ErrNoChannel)
}

func TestConnectAfterCloseRefused(t *testing.T) {
	c := NewConn(ConnConfig{URL: "ws://127.0.0.1:0/ws"}, func(models.Frame) {})
	require.NoError(t, c.Close())
	err := c.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnClosed)
}

func TestConnectTwiceIsNoop(t *testing.T) {
	s := newWSServer(t)
	c := NewConn(ConnConfig{URL: s.url(), MaxRetries: 1, RetryDelay: 10 * time.Millisecond}, func(models.Frame) {})
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, int32(1), s.dials.Load())
}

func TestReconnectAfterServerDrop(t *testing.T) {
	s := newWSServer(t)
	var ups atomic.Int32

	c := NewConn(ConnConfig{URL: s.url(), MaxRetries: 5, RetryDelay: 10 * time.Millisecond}, func(models.Frame) {})
	c.OnUp(func() { ups.Add(1) })
	t.Cleanup(func() { _ = c.Close() })

	s.drop.Store(true)
	require.NoError(t, c.Connect(context.Background()))

	// The server drops the first connection; once it stops dropping, a retry
	// succeeds and the channel comes back up.
	s.drop.Store(false)
	require.Eventually(t, func() bool {
		return ups.Load() >= 2 && c.Connected()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectGivesUpAfterBound(t *testing.T) {
	s := newWSServer(t)
	downCh := make(chan error, 1)

	c := NewConn(ConnConfig{URL: s.url(), MaxRetries: 2, RetryDelay: 10 * time.Millisecond}, func(models.Frame) {})
	c.OnDown(func(err error) { downCh <- err })
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Connect(context.Background()))
	// Stop the listener first so redials fail, then drop the live conn.
	s.srv.Close()
	s.closeConns()

	select {
	case err := <-downCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reconnection never gave up")
	}
	assert.False(t, c.Connected())
}

func TestConcurrentConnectKeepsOneChannel(t *testing.T) {
	s := newWSServer(t)
	var ups atomic.Int32

	c := NewConn(ConnConfig{URL: s.url(), MaxRetries: 1, RetryDelay: 10 * time.Millisecond}, func(models.Frame) {})
	c.OnUp(func() { ups.Add(1) })
	t.Cleanup(func() { _ = c.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Connect(context.Background())
		}()
	}
	wg.Wait()

	assert.True(t, c.Connected())
	assert.Equal(t, int32(1), ups.Load(), "only one dialed socket becomes the channel")
	require.Eventually(t, func() bool {
		return s.open.Load() == 1
	}, 2*time.Second, 10*time.Millisecond, "losing sockets are closed, never leaked")
}

func TestNoReconnectAfterExplicitClose(t *testing.T) {
	s := newWSServer(t)
	c := NewConn(ConnConfig{URL: s.url(), MaxRetries: 5, RetryDelay: 10 * time.Millisecond}, func(models.Frame) {})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), s.dials.Load(), "an explicitly closed channel never redials")
	assert.False(t, c.Connected())
}

func TestWSURLDerivation(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:8083/api", "ws://localhost:8083/ws"},
		{"https://chat.example.com/api", "wss://chat.example.com/ws"},
		{"http://localhost:8083", "ws://localhost:8083"},
	}
	for _, tc := range cases {
		c := NewAPIClient(tc.base, "tok")
		assert.Equal(t, tc.want, c.WSURL(), "base %s", tc.base)
	}
}
