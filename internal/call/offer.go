package call

import (
	"context"
	"log"
	"time"

	"github.com/looplab/fsm"
)

// OfferState is the lifecycle state of a queue call offer held by this agent.
// The offer is advisory until the server acknowledges exactly one agent's
// accept; every terminal state below is a normal outcome, not a failure.
type OfferState string

const (
	OfferOffered      OfferState = "offered"
	OfferClaimPending OfferState = "claim_pending"   // our accept sent, awaiting ack
	OfferDeclined     OfferState = "declined"        // we rejected it
	OfferTaken        OfferState = "claimed_elsewhere" // another agent won the race
	OfferEnded        OfferState = "ended"           // caller hung up or queue timeout
)

// Queue offer events.
const (
	evOfferAccept  = "accept"
	evOfferDecline = "decline"
	evOfferTaken   = "taken"
	evOfferEnd     = "end"
)

// QueueOffer is a call waiting in a routing queue, offered to this agent.
// Multiple agents may hold the same offer concurrently.
type QueueOffer struct {
	QueueCallID   string
	CallControlID string
	QueueID       string
	CallerNumber  string
	ReceivedAt    time.Time

	machine *fsm.FSM
}

func newQueueOffer(queueCallID, callControlID, queueID, callerNumber string) *QueueOffer {
	o := &QueueOffer{
		QueueCallID:   queueCallID,
		CallControlID: callControlID,
		QueueID:       queueID,
		CallerNumber:  callerNumber,
		ReceivedAt:    time.Now(),
	}
	o.machine = fsm.NewFSM(
		string(OfferOffered),
		fsm.Events{
			{Name: evOfferAccept, Src: []string{string(OfferOffered)}, Dst: string(OfferClaimPending)},
			{Name: evOfferDecline, Src: []string{string(OfferOffered)}, Dst: string(OfferDeclined)},
			{Name: evOfferTaken, Src: []string{string(OfferOffered), string(OfferClaimPending)}, Dst: string(OfferTaken)},
			{Name: evOfferEnd, Src: []string{string(OfferOffered), string(OfferClaimPending)}, Dst: string(OfferEnded)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Printf("QUEUE [%s]: offer %s → %s (%s)", o.CallControlID, e.Src, e.Dst, e.Event)
			},
		},
	)
	return o
}

// State returns the offer's current state.
func (o *QueueOffer) State() OfferState {
	return OfferState(o.machine.Current())
}

func (o *QueueOffer) transition(event string) bool {
	if err := o.machine.Event(context.Background(), event); err != nil {
		log.Printf("QUEUE [%s]: invalid offer transition %q from %s: %v",
			o.CallControlID, event, o.machine.Current(), err)
		return false
	}
	return true
}

// OfferInfo is the read-only snapshot of a QueueOffer handed to the UI store.
type OfferInfo struct {
	QueueCallID   string     `json:"queue_call_id"`
	CallControlID string     `json:"call_control_id"`
	QueueID       string     `json:"queue_id"`
	CallerNumber  string     `json:"caller_number"`
	State         OfferState `json:"state"`
	ReceivedAt    time.Time  `json:"received_at"`
}

func (o *QueueOffer) info() *OfferInfo {
	return &OfferInfo{
		QueueCallID:   o.QueueCallID,
		CallControlID: o.CallControlID,
		QueueID:       o.QueueID,
		CallerNumber:  o.CallerNumber,
		State:         o.State(),
		ReceivedAt:    o.ReceivedAt,
	}
}
