// Package call coordinates agent-to-agent calls and queue call hand-offs.
// All state lives behind a single event loop; signaling frames, media engine
// callbacks and UI commands are serialized onto it in arrival order.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Signaler is the only surface the call package needs from the signaling
// layer. The concrete *signal.Manager satisfies it; tests use a fake.
type Signaler interface {
	// Send is fire-and-forget: a no-op when the connection is not open.
	Send(v any)
	// Open reports whether the signaling connection is currently open.
	Open() bool
}

// MediaEvents receives engine callbacks for the session that owns the media
// negotiation. Implementations must be safe to call from engine goroutines.
type MediaEvents interface {
	// LocalCandidate fires for each locally discovered network-path candidate.
	LocalCandidate(cand json.RawMessage)
	// TransportState fires on connection-quality changes:
	// "connecting", "connected", "failed", "disconnected", "closed".
	TransportState(state string)
}

// MediaSession wraps one peer media negotiation. A session is never reused
// across calls; Dispose must be safe to call multiple times.
type MediaSession interface {
	// Offer generates and applies the local offer description.
	Offer(ctx context.Context) (sdp string, err error)
	// Answer applies the stored remote offer and generates the local answer.
	Answer(ctx context.Context, remoteOffer string) (sdp string, err error)
	// AcceptAnswer applies the remote answer to an offering session.
	AcceptAnswer(remoteAnswer string) error
	// AddRemoteCandidate applies one remote network-path candidate.
	AddRemoteCandidate(cand json.RawMessage) error
	// SetMuted flips the local audio track.
	SetMuted(muted bool) error
	// Dispose closes the engine primitive and releases every local track.
	Dispose()
}

// MediaEngine creates one MediaSession per call attempt. NewSession acquires
// local audio capture; when that fails the call must never start.
type MediaEngine interface {
	NewSession(callID string, ev MediaEvents) (MediaSession, error)
}

// Notifier is the user-facing toast sink. Losing a queue race goes through
// Info, not Error.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// HistorySink records calls that reached a terminal state.
type HistorySink interface {
	Record(rec Record)
}

// Record is one finished call attempt.
type Record struct {
	CallID            string
	Direction         Direction
	RemoteExtension   string
	RemoteDisplayName string
	Reason            string
	StartedAt         time.Time
	AnsweredAt        *time.Time
	EndedAt           time.Time
}

// Direction of a call relative to this agent.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

var (
	ErrNotConnected  = errors.New("signaling connection not open")
	ErrBusy          = errors.New("another call or offer is already active")
	ErrNoRingingCall = errors.New("no ringing call to answer")
	ErrNoOffer       = errors.New("no queue call offer pending")
	ErrClosed        = errors.New("call manager closed")
)

type nopNotifier struct{}

func (nopNotifier) Info(string)  {}
func (nopNotifier) Error(string) {}

type nopHistory struct{}

func (nopHistory) Record(Record) {}
