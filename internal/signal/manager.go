package signal

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the lifecycle state of the signaling connection.
type Status string

const (
	StatusDisconnected Status = "disconnected" // lost, reconnect pending
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusClosed       Status = "closed" // explicitly stopped, no reconnect
)

const (
	reconnectBase = 1000 * time.Millisecond
	reconnectCap  = 30 * time.Second

	writeTimeout = 5 * time.Second
)

// Handler receives the raw JSON frame for one registered message type.
type Handler func(raw []byte)

// AuthFunc reports whether the agent's authenticated session is live.
// Connecting without a session is refused; the check is injected, not owned.
type AuthFunc func() bool

// Identity is the server-assigned registration identity of this agent.
type Identity struct {
	Extension   string
	DisplayName string
}

// Manager owns exactly one live signaling connection for the current agent
// and routes inbound frames to registered handlers by message type.
// Reconnects with capped exponential backoff until Disconnect is called.
type Manager struct {
	url  string
	auth AuthFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	status   Status
	attempt  int
	stopped  bool
	gen      int // bumped per Connect/Disconnect; in-flight dials from older generations are discarded
	retry    *time.Timer
	identity Identity

	// Serializes frame writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	subMu sync.RWMutex
	subs  []func(Status)
}

// New creates a Manager for the given signaling endpoint. The connection is
// not opened until Connect.
func New(url string, auth AuthFunc) *Manager {
	return &Manager{
		url:      url,
		auth:     auth,
		status:   StatusDisconnected,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for one inbound message type. Frames whose
// type has no handler are logged and dropped. Registration is expected to
// happen during wiring, before Connect.
func (m *Manager) Handle(msgType string, h Handler) {
	m.handlerMu.Lock()
	m.handlers[msgType] = h
	m.handlerMu.Unlock()
}

// OnStatus registers a callback fired on every connection status change.
func (m *Manager) OnStatus(fn func(Status)) {
	m.subMu.Lock()
	m.subs = append(m.subs, fn)
	m.subMu.Unlock()
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Open reports whether the connection is currently open.
func (m *Manager) Open() bool {
	return m.Status() == StatusOpen
}

// Identity returns the last-registered identity (zero until the first
// registered acknowledgment arrives).
func (m *Manager) Identity() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// Connect opens the signaling connection. No-op while already open or
// connecting. Refused when the injected auth check reports no live session.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.status == StatusOpen || m.status == StatusConnecting {
		m.mu.Unlock()
		return
	}
	if m.auth != nil && !m.auth() {
		m.mu.Unlock()
		log.Printf("SIGNAL: connect refused, no authenticated session")
		return
	}
	m.stopped = false
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.status = StatusConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.notify(StatusConnecting)
	go m.dial(gen)
}

// Disconnect stops the manager: no further reconnects, pending retry timer
// canceled, live connection closed. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	conn := m.conn
	m.conn = nil
	already := m.status == StatusClosed
	m.status = StatusClosed
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	if !already {
		log.Printf("SIGNAL: disconnected")
		m.notify(StatusClosed)
	}
}

// Send marshals v and writes it as one frame. Fire-and-forget: a closed or
// absent connection makes Send a logged no-op, not an error — callers that
// need delivery must check Status first.
func (m *Manager) Send(v any) {
	m.mu.Lock()
	conn := m.conn
	open := m.status == StatusOpen
	m.mu.Unlock()

	if !open || conn == nil {
		log.Printf("SIGNAL: send dropped, connection not open")
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("SIGNAL: send marshal error: %v", err)
		return
	}
	m.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		// The read loop observes the same broken connection and
		// drives the reconnect; nothing more to do here.
		log.Printf("SIGNAL: write failed: %v", err)
	}
}

// dial completes at most one connection per generation. A dial outliving a
// Disconnect/Connect cycle belongs to a dead generation: its socket is
// closed, never installed next to the live one.
func (m *Manager) dial(gen int) {
	conn, resp, err := websocket.DefaultDialer.Dial(m.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.mu.Lock()
		stale := m.stopped || gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		log.Printf("SIGNAL: dial %s failed: %v", m.url, err)
		m.connLost(nil)
		return
	}

	m.mu.Lock()
	if m.stopped || gen != m.gen {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.conn = conn
	m.attempt = 0
	m.status = StatusOpen
	m.mu.Unlock()

	log.Printf("SIGNAL: connected to %s", m.url)
	m.notify(StatusOpen)
	go m.readLoop(conn)
}

// readLoop reads and dispatches frames until the connection dies. Frames are
// dispatched inline, one at a time, preserving server send order.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			m.connLost(conn)
			return
		}
		m.dispatch(data)
	}
}

// connLost handles a dead connection (failed dial passes conn=nil). A stale
// read loop whose connection was already replaced is ignored.
func (m *Manager) connLost(conn *websocket.Conn) {
	m.mu.Lock()
	if conn != nil && m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	if m.stopped {
		m.status = StatusClosed
		m.mu.Unlock()
		return
	}
	m.status = StatusDisconnected
	delay := backoffDelay(m.attempt)
	attempt := m.attempt
	m.retry = time.AfterFunc(delay, m.retryFire)
	m.mu.Unlock()

	log.Printf("SIGNAL: connection lost, reconnect in %v (attempt %d)", delay, attempt)
	m.notify(StatusDisconnected)
}

func (m *Manager) retryFire() {
	m.mu.Lock()
	if m.stopped || m.status == StatusOpen || m.status == StatusConnecting {
		m.mu.Unlock()
		return
	}
	m.attempt++
	m.retry = nil
	m.status = StatusConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.notify(StatusConnecting)
	go m.dial(gen)
}

func (m *Manager) dispatch(data []byte) {
	var h head
	if err := json.Unmarshal(data, &h); err != nil || h.Type == "" {
		log.Printf("SIGNAL: dropping malformed frame: %v", err)
		return
	}

	// The registration acknowledgment doubles as the identity source; stash
	// it here before handing the frame to whoever else registered for it.
	if h.Type == MsgTypeRegistered {
		var reg RegisteredMsg
		if err := json.Unmarshal(data, &reg); err == nil {
			m.mu.Lock()
			m.identity = Identity{Extension: reg.Extension, DisplayName: reg.DisplayName}
			m.mu.Unlock()
			log.Printf("SIGNAL: registered as extension %s (%s)", reg.Extension, reg.DisplayName)
		}
	}

	m.handlerMu.RLock()
	handler, ok := m.handlers[h.Type]
	m.handlerMu.RUnlock()
	if !ok {
		log.Printf("SIGNAL: unknown message type %q, dropped", h.Type)
		return
	}
	handler(data)
}

func (m *Manager) notify(st Status) {
	m.subMu.RLock()
	subs := make([]func(Status), len(m.subs))
	copy(subs, m.subs)
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(st)
	}
}

// backoffDelay is min(1s * 2^attempt, 30s).
func backoffDelay(attempt int) time.Duration {
	d := reconnectBase
	for i := 0; i < attempt && d < reconnectCap; i++ {
		d *= 2
	}
	if d > reconnectCap {
		d = reconnectCap
	}
	return d
}
