// Package state holds the observable console state the UI renders from:
// connection status, current call, queue offer, presence, plus a toast
// stream for user-facing notices. Single writer per field (the owning
// manager); everyone else reads snapshots or subscribes.
package state

import (
	"sync"
	"time"

	"github.com/clearline/agentvoice/internal/call"
	"github.com/clearline/agentvoice/internal/presence"
	"github.com/clearline/agentvoice/internal/signal"
)

// ConsoleState is the full renderable state.
type ConsoleState struct {
	Status     signal.Status     `json:"status"`
	Call       *call.Info        `json:"call,omitempty"`
	Offer      *call.OfferInfo   `json:"offer,omitempty"`
	AutoAnswer bool              `json:"auto_answer"`
	Presence   presence.Snapshot `json:"presence"`
}

// Event is one SSE-deliverable update.
type Event struct {
	Type  string        `json:"type"` // "state" | "toast"
	State *ConsoleState `json:"state,omitempty"`
	Toast *Toast        `json:"toast,omitempty"`
}

// Toast is a transient user-facing notice.
type Toast struct {
	Level   string    `json:"level"` // "info" | "error"
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Store fans console state changes out to UI listeners.
type Store struct {
	mu        sync.Mutex
	st        ConsoleState
	listeners map[chan Event]struct{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		st:        ConsoleState{Status: signal.StatusDisconnected},
		listeners: make(map[chan Event]struct{}),
	}
}

// State returns the current snapshot.
func (s *Store) State() ConsoleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// Subscribe returns an event channel and a cancel func. Slow subscribers
// lose events rather than blocking the writers.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	s.mu.Lock()
	s.listeners[ch] = struct{}{}
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.listeners, ch)
		s.mu.Unlock()
	}
}

// SetStatus records the signaling connection status.
func (s *Store) SetStatus(st signal.Status) {
	s.mu.Lock()
	s.st.Status = st
	s.broadcastLocked()
	s.mu.Unlock()
}

// SetCall records the call manager's snapshot.
func (s *Store) SetCall(snap call.Snapshot) {
	s.mu.Lock()
	s.st.Call = snap.Call
	s.st.Offer = snap.Offer
	s.st.AutoAnswer = snap.AutoAnswer
	s.broadcastLocked()
	s.mu.Unlock()
}

// SetPresence records the presence registry's snapshot.
func (s *Store) SetPresence(p presence.Snapshot) {
	s.mu.Lock()
	s.st.Presence = p
	s.broadcastLocked()
	s.mu.Unlock()
}

// Info implements call.Notifier: an informational toast.
func (s *Store) Info(msg string) { s.toast("info", msg) }

// Error implements call.Notifier: an error toast.
func (s *Store) Error(msg string) { s.toast("error", msg) }

func (s *Store) toast(level, msg string) {
	ev := Event{Type: "toast", Toast: &Toast{Level: level, Message: msg, At: time.Now()}}
	s.mu.Lock()
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

// broadcastLocked pushes the current state to every listener.
func (s *Store) broadcastLocked() {
	st := s.st
	ev := Event{Type: "state", State: &st}
	for ch := range s.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}
