package call

import (
	"context"
	"log"
	"time"

	"github.com/looplab/fsm"
)

// Phase is the lifecycle state of a CallSession.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCalling   Phase = "calling" // outbound, waiting for remote answer
	PhaseRinging   Phase = "ringing" // inbound, waiting for local answer
	PhaseConnected Phase = "connected"
)

// Call phase events.
const (
	evDial         = "dial"
	evRing         = "ring"
	evAnswer       = "answer"
	evRemoteAnswer = "remote_answer"
	evHangup       = "hangup" // any non-idle state → idle
)

// Session is one in-progress call. At most one Session is non-idle per agent
// at any time; the Manager's loop enforces that structurally.
type Session struct {
	// CallID is server-assigned. Empty on a locally-initiated call until the
	// server confirms it; Confirmed makes the pending state explicit.
	CallID    string
	Confirmed bool

	Direction         Direction
	RemoteExtension   string
	RemoteDisplayName string

	StartedAt  time.Time
	AnsweredAt *time.Time

	Muted bool
	Held  bool

	// remoteOffer holds the invite's SDP until the agent answers.
	remoteOffer string

	machine *fsm.FSM
}

func newSession(dir Direction, callID, remoteExt, remoteName string) *Session {
	s := &Session{
		CallID:            callID,
		Confirmed:         callID != "",
		Direction:         dir,
		RemoteExtension:   remoteExt,
		RemoteDisplayName: remoteName,
		StartedAt:         time.Now(),
	}
	s.machine = fsm.NewFSM(
		string(PhaseIdle),
		fsm.Events{
			{Name: evDial, Src: []string{string(PhaseIdle)}, Dst: string(PhaseCalling)},
			{Name: evRing, Src: []string{string(PhaseIdle)}, Dst: string(PhaseRinging)},
			{Name: evAnswer, Src: []string{string(PhaseRinging)}, Dst: string(PhaseConnected)},
			{Name: evRemoteAnswer, Src: []string{string(PhaseCalling)}, Dst: string(PhaseConnected)},
			{Name: evHangup, Src: []string{
				string(PhaseCalling), string(PhaseRinging), string(PhaseConnected),
			}, Dst: string(PhaseIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Printf("CALL [%s]: %s → %s (%s)", s.CallID, e.Src, e.Dst, e.Event)
			},
		},
	)
	return s
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	return Phase(s.machine.Current())
}

// transition fires a phase event. An invalid transition is a programming
// error in the loop; it is logged, never panicked on.
func (s *Session) transition(event string) bool {
	if err := s.machine.Event(context.Background(), event); err != nil {
		log.Printf("CALL [%s]: invalid transition %q from %s: %v", s.CallID, event, s.machine.Current(), err)
		return false
	}
	return true
}

// markAnswered stamps the answer time once.
func (s *Session) markAnswered() {
	if s.AnsweredAt == nil {
		now := time.Now()
		s.AnsweredAt = &now
	}
}

// record converts the session into a history entry.
func (s *Session) record(reason string) Record {
	return Record{
		CallID:            s.CallID,
		Direction:         s.Direction,
		RemoteExtension:   s.RemoteExtension,
		RemoteDisplayName: s.RemoteDisplayName,
		Reason:            reason,
		StartedAt:         s.StartedAt,
		AnsweredAt:        s.AnsweredAt,
		EndedAt:           time.Now(),
	}
}

// Info is the read-only snapshot of a Session handed to the UI store.
type Info struct {
	CallID            string     `json:"call_id"`
	Confirmed         bool       `json:"confirmed"`
	Direction         Direction  `json:"direction"`
	Phase             Phase      `json:"phase"`
	RemoteExtension   string     `json:"remote_extension"`
	RemoteDisplayName string     `json:"remote_display_name"`
	StartedAt         time.Time  `json:"started_at"`
	AnsweredAt        *time.Time `json:"answered_at,omitempty"`
	Muted             bool       `json:"muted"`
	Held              bool       `json:"held"`
}

func (s *Session) info() *Info {
	return &Info{
		CallID:            s.CallID,
		Confirmed:         s.Confirmed,
		Direction:         s.Direction,
		Phase:             s.Phase(),
		RemoteExtension:   s.RemoteExtension,
		RemoteDisplayName: s.RemoteDisplayName,
		StartedAt:         s.StartedAt,
		AnsweredAt:        s.AnsweredAt,
		Muted:             s.Muted,
		Held:              s.Held,
	}
}
