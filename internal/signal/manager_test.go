package signal

import (
	"encoding/json"
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
)

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, d := range want {
		assert.Equal(t, d, backoffDelay(attempt), "attempt %d", attempt)
	}
}

// testServer is a minimal signaling endpoint: upgrades, counts connections,
// and can push frames to the most recent one.
type testServer struct {
	*httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	accepted atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.accepted.Add(1)
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		// Drain client frames so close handshakes complete.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(ts.Server.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) push(t *testing.T, v any) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotEmpty(t, ts.conns, "no server-side connection")
	conn := ts.conns[len(ts.conns)-1]
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func waitStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status() == want
	}, 2*time.Second, 5*time.Millisecond, "status never reached %s", want)
}

func TestConnectAndDispatch(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)
	t.Cleanup(m.Disconnect)

	got := make(chan string, 8)
	m.Handle("incoming_call", func(raw []byte) {
		var msg IncomingCallMsg
		require.NoError(t, json.Unmarshal(raw, &msg))
		got <- msg.CallID
	})

	m.Connect()
	waitStatus(t, m, StatusOpen)
	assert.True(t, m.Open())

	ts.push(t, map[string]any{"type": "incoming_call", "callId": "c-1", "callerExtension": "2002"})
	select {
	case id := <-got:
		assert.Equal(t, "c-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never dispatched")
	}
}

func TestDispatchDropsMalformedAndUnknown(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)
	t.Cleanup(m.Disconnect)

	var handled atomic.Int32
	m.Handle("call_ended", func(raw []byte) { handled.Add(1) })

	m.Connect()
	waitStatus(t, m, StatusOpen)

	ts.mu.Lock()
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	ts.push(t, map[string]any{"type": "never_registered"})
	ts.push(t, map[string]any{"type": "call_ended", "callId": "c-1", "reason": "hangup"})

	require.Eventually(t, func() bool {
		return handled.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
	// A bad frame must not kill the connection.
	assert.Equal(t, StatusOpen, m.Status())
}

func TestRegisteredStashesIdentity(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)
	t.Cleanup(m.Disconnect)

	m.Handle("registered", func([]byte) {})
	m.Connect()
	waitStatus(t, m, StatusOpen)

	ts.push(t, map[string]any{"type": "registered", "extension": "1042", "displayName": "Desk 12"})
	require.Eventually(t, func() bool {
		return m.Identity().Extension == "1042"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Desk 12", m.Identity().DisplayName)
}

func TestConnectIsIdempotentWhileOpen(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)
	t.Cleanup(m.Disconnect)

	m.Connect()
	waitStatus(t, m, StatusOpen)
	m.Connect()
	m.Connect()

	// Give any accidental extra dial time to land.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), ts.accepted.Load(), "repeat Connect must not open a second connection")
}

func TestConnectRefusedWithoutAuth(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), func() bool { return false })

	m.Connect()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Equal(t, int32(0), ts.accepted.Load())
}

func TestDisconnectStopsReconnect(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)

	var statuses []Status
	var mu sync.Mutex
	m.OnStatus(func(st Status) {
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
	})

	m.Connect()
	waitStatus(t, m, StatusOpen)
	m.Disconnect()
	m.Disconnect() // idempotent

	waitStatus(t, m, StatusClosed)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusClosed, m.Status(), "no reconnect after explicit disconnect")

	mu.Lock()
	defer mu.Unlock()
	closed := 0
	for _, st := range statuses {
		if st == StatusClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed, "second Disconnect must not re-notify")
}

func TestReconnectAfterServerDrop(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)
	t.Cleanup(m.Disconnect)

	m.Connect()
	waitStatus(t, m, StatusOpen)

	// Server kills the connection; the client schedules a retry (1s for
	// attempt 0) and comes back on its own.
	ts.mu.Lock()
	ts.conns[len(ts.conns)-1].Close()
	ts.mu.Unlock()

	waitStatus(t, m, StatusDisconnected)
	require.Eventually(t, func() bool {
		return ts.accepted.Load() >= 2 && m.Status() == StatusOpen
	}, 5*time.Second, 10*time.Millisecond, "client never reconnected")
}

func TestSendWhileClosedIsNoop(t *testing.T) {
	m := New("ws://127.0.0.1:1/ws", nil)
	// Must not panic or block.
	m.Send(HangupMsg{Type: MsgTypeHangup, CallID: "c-1"})
}

func TestDisconnectThenConnectSingleConnection(t *testing.T) {
	ts := newTestServer(t)
	m := New(ts.wsURL(), nil)
	t.Cleanup(m.Disconnect)

	m.Connect()
	waitStatus(t, m, StatusOpen)
	m.Disconnect()
	waitStatus(t, m, StatusClosed)

	m.Connect()
	waitStatus(t, m, StatusOpen)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), ts.accepted.Load())
}

func TestSlowDialDiscardedAcrossReconnect(t *testing.T) {
	var upgrades atomic.Int32
	var closed atomic.Int32
	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if upgrades.Add(1) == 1 {
			// First dial lands only after the client has cycled
			// Disconnect/Connect and holds a newer connection.
			time.Sleep(300 * time.Millisecond)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			defer closed.Add(1)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					conn.Close()
					return
				}
			}
		}()
	}))
	t.Cleanup(srv.Close)

	m := New("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	t.Cleanup(m.Disconnect)

	m.Connect()
	m.Disconnect()
	m.Connect()
	waitStatus(t, m, StatusOpen)

	// The delayed dial completes after the second connection is live; the
	// client must close it rather than install it alongside.
	require.Eventually(t, func() bool {
		return upgrades.Load() == 2 && closed.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond, "stale connection never closed")
	assert.Equal(t, StatusOpen, m.Status())
	assert.Equal(t, int32(1), upgrades.Load()-closed.Load(), "exactly one live connection expected")
}
