// Package signal maintains the agent's persistent signaling connection and
// defines the wire protocol spoken over it.
// Wire format: one JSON object per WebSocket text frame, discriminated by
// a top-level "type" field.
package signal

import "encoding/json"

// Message type discriminators, client → server.
const (
	MsgTypeCall            = "call"
	MsgTypeAnswer          = "answer"
	MsgTypeReject          = "reject"
	MsgTypeHangup          = "hangup"
	MsgTypeICECandidate    = "ice_candidate" // both directions
	MsgTypeGetOnline       = "get_online"
	MsgTypeAcceptQueueCall = "accept_queue_call"
	MsgTypeRejectQueueCall = "reject_queue_call"
)

// Message type discriminators, server → client.
const (
	MsgTypeRegistered            = "registered"
	MsgTypeError                 = "error"
	MsgTypeOnlineExtensions      = "online_extensions"
	MsgTypeIncomingCall          = "incoming_call"
	MsgTypeCallResult            = "call_result"
	MsgTypeCallAnswered          = "call_answered"
	MsgTypeCallEnded             = "call_ended"
	MsgTypeQueueCallOffer        = "queue_call_offer"
	MsgTypeQueueCallTaken        = "queue_call_taken"
	MsgTypeQueueCallEnded        = "queue_call_ended"
	MsgTypeAcceptQueueCallResult = "accept_queue_call_result"
	MsgTypeOutboundCallAnswered  = "outbound_call_answered"
)

// ── Client → server ──────────────────────────────────────────────────────────

// CallMsg dials an internal extension with a local SDP offer.
type CallMsg struct {
	Type        string `json:"type"` // "call"
	ToExtension string `json:"toExtension"`
	SDPOffer    string `json:"sdpOffer"`
}

// AnswerMsg accepts an inbound call with a local SDP answer.
type AnswerMsg struct {
	Type      string `json:"type"` // "answer"
	CallID    string `json:"callId"`
	SDPAnswer string `json:"sdpAnswer"`
}

// RejectMsg declines a ringing inbound call.
type RejectMsg struct {
	Type   string `json:"type"` // "reject"
	CallID string `json:"callId"`
}

// HangupMsg ends a call. CallID may be empty when the server never
// confirmed a locally-initiated call; the server tolerates that.
type HangupMsg struct {
	Type   string `json:"type"` // "hangup"
	CallID string `json:"callId"`
}

// ICECandidateMsg carries one network-path candidate in either direction.
// Candidate is the engine's serialized candidate, opaque to this layer.
type ICECandidateMsg struct {
	Type      string          `json:"type"` // "ice_candidate"
	CallID    string          `json:"callId"`
	Candidate json.RawMessage `json:"candidate"`
}

// GetOnlineMsg asks for a fresh online-extensions push.
type GetOnlineMsg struct {
	Type string `json:"type"` // "get_online"
}

// AcceptQueueCallMsg claims a call waiting in a routing queue.
type AcceptQueueCallMsg struct {
	Type          string `json:"type"` // "accept_queue_call"
	CallControlID string `json:"callControlId"`
}

// RejectQueueCallMsg declines a queue offer.
type RejectQueueCallMsg struct {
	Type          string `json:"type"` // "reject_queue_call"
	CallControlID string `json:"callControlId"`
}

// ── Server → client ──────────────────────────────────────────────────────────

// RegisteredMsg acknowledges registration with the agent's assigned identity.
type RegisteredMsg struct {
	Extension   string `json:"extension"`
	DisplayName string `json:"displayName"`
}

// ErrorMsg is a server-side failure unrelated to a specific request.
type ErrorMsg struct {
	Message string `json:"message"`
}

// OnlineExtension is one entry of an online_extensions push.
type OnlineExtension struct {
	Extension   string `json:"extension"`
	DisplayName string `json:"displayName"`
}

// OnlineExtensionsMsg replaces the client's presence set wholesale.
type OnlineExtensionsMsg struct {
	Extensions []OnlineExtension `json:"extensions"`
}

// IncomingCallMsg is an inbound invite from another extension.
type IncomingCallMsg struct {
	CallID            string `json:"callId"`
	CallerExtension   string `json:"callerExtension"`
	CallerDisplayName string `json:"callerDisplayName"`
	SDPOffer          string `json:"sdpOffer"`
}

// CallResultMsg confirms or rejects a locally-initiated call.
type CallResultMsg struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CallAnsweredMsg carries the remote answer for an outbound call.
type CallAnsweredMsg struct {
	CallID    string `json:"callId"`
	SDPAnswer string `json:"sdpAnswer"`
}

// CallEndedMsg terminates a call from the server side.
type CallEndedMsg struct {
	CallID string `json:"callId"`
	Reason string `json:"reason"`
}

// QueueCallOfferMsg offers a waiting queue call to this agent. The offer is
// advisory: other idle agents may hold the same offer concurrently.
type QueueCallOfferMsg struct {
	QueueCallID   string `json:"queueCallId"`
	CallControlID string `json:"callControlId"`
	QueueID       string `json:"queueId"`
	CallerNumber  string `json:"callerNumber"`
}

// QueueCallTakenMsg resolves the offer race: another agent's accept won.
type QueueCallTakenMsg struct {
	CallControlID string `json:"callControlId"`
}

// QueueCallEndedMsg withdraws an offer (caller hung up or queue timeout).
type QueueCallEndedMsg struct {
	CallControlID string `json:"callControlId"`
	Reason        string `json:"reason"` // "timeout" | "hangup"
}

// AcceptQueueCallResultMsg reports the outcome of this agent's own accept.
type AcceptQueueCallResultMsg struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// OutboundCallAnsweredMsg reports that a carrier-side outbound call (dialed
// from the console, not agent-to-agent) was answered.
type OutboundCallAnsweredMsg struct {
	DestinationNumber string `json:"destinationNumber"`
}

// head is the minimal decode used to route an inbound frame.
type head struct {
	Type string `json:"type"`
}
