package call

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/clearline/agentvoice/internal/metrics"
	"github.com/clearline/agentvoice/internal/signal"
	"github.com/clearline/agentvoice/internal/util"
)

const (
	// Early remote candidates are held per call id in a bounded ring:
	// a negotiation needs a handful, so shedding oldest-first under a
	// flood loses nothing a sane peer sent.
	pendingCandidateCap = 32
	// At most this many distinct call ids may hold early candidates;
	// with one call at a time anything beyond a couple is junk.
	pendingCallCap = 8
)

// Snapshot is the observable call/offer state handed to the UI store after
// every transition.
type Snapshot struct {
	Call       *Info      `json:"call,omitempty"`
	Offer      *OfferInfo `json:"offer,omitempty"`
	AutoAnswer bool       `json:"auto_answer"`
}

// Options configures a Manager. Zero values are safe: notifications and
// history become no-ops.
type Options struct {
	Notifier Notifier
	History  HistorySink
	OnChange func(Snapshot)
}

// Manager owns the one concurrent call slot and the one queue offer slot.
// Every mutation runs on its event loop; public methods and signal/media
// callbacks only post work onto it.
type Manager struct {
	sig      Signaler
	engine   MediaEngine
	notify   Notifier
	history  HistorySink
	onChange func(Snapshot)

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	sess       *Session
	media      MediaSession
	attempt    string // id of the media session owning engine callbacks
	dialing    bool
	abortDial  bool
	answering  bool
	haveRemote bool // remote description applied; candidates may go straight in

	offer      *QueueOffer
	autoAnswer bool
	claimed    string // callControlId of our accept awaiting the server's verdict

	outbound      []json.RawMessage // local candidates awaiting the server call id
	pendingRemote map[string]*util.RingBuffer[json.RawMessage]

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewManager creates a Manager and starts its event loop.
func NewManager(sig Signaler, engine MediaEngine, opts Options) *Manager {
	m := &Manager{
		sig:           sig,
		engine:        engine,
		notify:        opts.Notifier,
		history:       opts.History,
		onChange:      opts.OnChange,
		events:        make(chan func(), 64),
		done:          make(chan struct{}),
		pendingRemote: make(map[string]*util.RingBuffer[json.RawMessage]),
	}
	if m.notify == nil {
		m.notify = nopNotifier{}
	}
	if m.history == nil {
		m.history = nopHistory{}
	}
	go m.loop()
	return m
}

// HandlerRegistry is satisfied by *signal.Manager.
type HandlerRegistry interface {
	Handle(msgType string, h signal.Handler)
}

// Bind registers this manager's handlers for every call and queue message
// type on the signaling dispatcher.
func (m *Manager) Bind(reg HandlerRegistry) {
	reg.Handle(signal.MsgTypeIncomingCall, decode(m.HandleIncomingCall))
	reg.Handle(signal.MsgTypeCallResult, decode(m.HandleCallResult))
	reg.Handle(signal.MsgTypeCallAnswered, decode(m.HandleCallAnswered))
	reg.Handle(signal.MsgTypeCallEnded, decode(m.HandleCallEnded))
	reg.Handle(signal.MsgTypeICECandidate, decode(m.HandleICECandidate))
	reg.Handle(signal.MsgTypeQueueCallOffer, decode(m.HandleQueueCallOffer))
	reg.Handle(signal.MsgTypeQueueCallTaken, decode(m.HandleQueueCallTaken))
	reg.Handle(signal.MsgTypeQueueCallEnded, decode(m.HandleQueueCallEnded))
	reg.Handle(signal.MsgTypeAcceptQueueCallResult, decode(m.HandleAcceptQueueCallResult))
	reg.Handle(signal.MsgTypeOutboundCallAnswered, decode(m.HandleOutboundCallAnswered))
	reg.Handle(signal.MsgTypeError, decode(m.HandleServerError))
}

func decode[T any](fn func(T)) signal.Handler {
	return func(raw []byte) {
		var msg T
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("CALL: dropping undecodable frame: %v", err)
			return
		}
		fn(msg)
	}
}

// Snapshot returns the last published call/offer state.
func (m *Manager) Snapshot() Snapshot {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snap
}

// Close tears down any active call and stops the loop.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		_ = m.do(func() error {
			if m.sess != nil {
				m.sig.Send(signal.HangupMsg{Type: signal.MsgTypeHangup, CallID: m.sess.CallID})
			}
			m.clearOffer(evOfferEnd, "shutdown")
			m.teardown("shutdown")
			return nil
		})
		close(m.done)
	})
}

// ── Event loop plumbing ──────────────────────────────────────────────────────

func (m *Manager) loop() {
	for {
		select {
		case <-m.done:
			return
		case fn := <-m.events:
			fn()
		}
	}
}

// post queues fn on the loop; dropped once the manager is closed.
func (m *Manager) post(fn func()) {
	select {
	case m.events <- fn:
	case <-m.done:
	}
}

// do runs fn on the loop and waits for its result.
func (m *Manager) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case m.events <- func() { reply <- fn() }:
	case <-m.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	}
}

// ── Agent-facing operations ──────────────────────────────────────────────────

// StartCall dials an internal extension. Returns once preconditions are
// checked; capture acquisition and the offer continue asynchronously, and a
// failure there is surfaced through the Notifier with the state back at idle.
func (m *Manager) StartCall(ctx context.Context, targetExtension string) error {
	return m.do(func() error {
		if !m.sig.Open() {
			return ErrNotConnected
		}
		if m.sess != nil || m.dialing {
			return ErrBusy
		}
		m.dialing = true
		m.abortDial = false
		go m.dialAsync(ctx, targetExtension)
		return nil
	})
}

func (m *Manager) dialAsync(ctx context.Context, targetExtension string) {
	attempt := uuid.NewString()
	ms, err := m.engine.NewSession("", &mediaRelay{m: m, attempt: attempt})
	if err != nil {
		m.post(func() { m.dialFailed(err) })
		return
	}
	offer, err := ms.Offer(ctx)
	if err != nil {
		ms.Dispose()
		m.post(func() { m.dialFailed(err) })
		return
	}
	m.post(func() { m.dialDone(targetExtension, attempt, ms, offer) })
}

func (m *Manager) dialFailed(err error) {
	m.dialing = false
	m.abortDial = false
	log.Printf("CALL: dial aborted before signaling: %v", err)
	m.notify.Error("could not start call: " + err.Error())
}

func (m *Manager) dialDone(targetExtension, attempt string, ms MediaSession, offer string) {
	m.dialing = false
	if m.abortDial || m.sess != nil || !m.sig.Open() {
		// Hung up, invited, or lost the channel while acquiring capture.
		m.abortDial = false
		ms.Dispose()
		return
	}
	m.media = ms
	m.attempt = attempt
	m.outbound = nil
	m.sess = newSession(DirectionOutbound, "", targetExtension, "")
	m.sess.transition(evDial)
	m.sig.Send(signal.CallMsg{Type: signal.MsgTypeCall, ToExtension: targetExtension, SDPOffer: offer})
	m.publish()
}

// AnswerCall accepts the ringing inbound call. Like StartCall, capture and
// the answer exchange continue asynchronously after the precondition check.
func (m *Manager) AnswerCall(ctx context.Context) error {
	return m.do(func() error { return m.answerCurrent(ctx) })
}

func (m *Manager) answerCurrent(ctx context.Context) error {
	if m.sess == nil || m.sess.Phase() != PhaseRinging {
		return ErrNoRingingCall
	}
	if m.answering {
		return ErrBusy
	}
	m.answering = true
	callID, remoteOffer := m.sess.CallID, m.sess.remoteOffer
	go m.answerAsync(ctx, callID, remoteOffer)
	return nil
}

func (m *Manager) answerAsync(ctx context.Context, callID, remoteOffer string) {
	attempt := uuid.NewString()
	ms, err := m.engine.NewSession(callID, &mediaRelay{m: m, attempt: attempt})
	if err != nil {
		m.post(func() { m.answerFailed(callID, err) })
		return
	}
	answer, err := ms.Answer(ctx, remoteOffer)
	if err != nil {
		ms.Dispose()
		m.post(func() { m.answerFailed(callID, err) })
		return
	}
	m.post(func() { m.answerDone(callID, attempt, ms, answer) })
}

// answerFailed unwinds a failed answer completely: partially acquired media
// is already released by the caller, and the session must not stay ringing.
func (m *Manager) answerFailed(callID string, err error) {
	m.answering = false
	m.notify.Error("could not answer call: " + err.Error())
	if m.sess != nil && m.sess.CallID == callID && m.sess.Phase() == PhaseRinging {
		m.sig.Send(signal.HangupMsg{Type: signal.MsgTypeHangup, CallID: callID})
		m.teardown("answer-failed")
	}
}

func (m *Manager) answerDone(callID, attempt string, ms MediaSession, answer string) {
	m.answering = false
	if m.sess == nil || m.sess.CallID != callID || m.sess.Phase() != PhaseRinging {
		// The call ended while we were acquiring capture.
		ms.Dispose()
		return
	}
	m.media = ms
	m.attempt = attempt
	m.haveRemote = true // Answer applied the caller's offer
	m.flushRemote(callID)
	m.sess.transition(evAnswer)
	m.sess.markAnswered()
	m.sig.Send(signal.AnswerMsg{Type: signal.MsgTypeAnswer, CallID: callID, SDPAnswer: answer})
	m.publish()
}

// RejectCall declines the ringing inbound call. No-op without one.
func (m *Manager) RejectCall() error {
	return m.do(func() error {
		if m.sess == nil || m.sess.Phase() != PhaseRinging {
			return nil
		}
		m.sig.Send(signal.RejectMsg{Type: signal.MsgTypeReject, CallID: m.sess.CallID})
		m.teardown("rejected")
		return nil
	})
}

// EndCall hangs up whatever is in progress, including an outbound call the
// server has not yet confirmed (the hangup then carries an empty call id,
// which the server tolerates). No-op when nothing is in progress.
func (m *Manager) EndCall() error {
	return m.do(func() error {
		if m.sess == nil {
			if m.dialing {
				m.abortDial = true
			}
			return nil
		}
		m.sig.Send(signal.HangupMsg{Type: signal.MsgTypeHangup, CallID: m.sess.CallID})
		m.teardown("hangup")
		return nil
	})
}

// ToggleMute flips the local track while a media session exists; otherwise a
// no-op, not an error.
func (m *Manager) ToggleMute() error {
	return m.do(func() error {
		if m.sess == nil || m.media == nil {
			return nil
		}
		muted := !m.sess.Muted
		if err := m.media.SetMuted(muted || m.sess.Held); err != nil {
			return err
		}
		m.sess.Muted = muted
		m.publish()
		return nil
	})
}

// ToggleHold parks the call: the local track is detached exactly as for mute.
// Resuming restores the agent's own mute choice. No-op without a media
// session.
func (m *Manager) ToggleHold() error {
	return m.do(func() error {
		if m.sess == nil || m.media == nil {
			return nil
		}
		held := !m.sess.Held
		if err := m.media.SetMuted(held || m.sess.Muted); err != nil {
			return err
		}
		m.sess.Held = held
		m.publish()
		return nil
	})
}

// AcceptQueueCall claims the pending queue offer. The offer is cleared
// immediately and the claimed call's invite, arriving through the normal
// inbound path, is answered automatically instead of prompting again.
func (m *Manager) AcceptQueueCall() error {
	return m.do(func() error {
		if m.offer == nil {
			return ErrNoOffer
		}
		if !m.sig.Open() {
			return ErrNotConnected
		}
		m.offer.transition(evOfferAccept)
		m.sig.Send(signal.AcceptQueueCallMsg{Type: signal.MsgTypeAcceptQueueCall, CallControlID: m.offer.CallControlID})
		m.claimed = m.offer.CallControlID
		m.autoAnswer = true
		m.offer = nil
		metrics.QueueOffers.WithLabelValues("accepted").Inc()
		m.publish()
		return nil
	})
}

// RejectQueueCall declines the pending queue offer.
func (m *Manager) RejectQueueCall() error {
	return m.do(func() error {
		if m.offer == nil {
			return ErrNoOffer
		}
		m.sig.Send(signal.RejectQueueCallMsg{Type: signal.MsgTypeRejectQueueCall, CallControlID: m.offer.CallControlID})
		m.clearOffer(evOfferDecline, "declined")
		m.publish()
		return nil
	})
}

// ConnectionLost resets all in-flight call and offer state. A reconnect
// invalidates everything the server knew about us, so the client returns to
// idle/no-offer instead of assuming continuity.
func (m *Manager) ConnectionLost() {
	m.post(func() {
		if m.dialing {
			m.abortDial = true
		}
		if m.sess != nil {
			m.notify.Info("call ended: connection lost")
			m.teardown("connection-lost")
		}
		m.clearOffer(evOfferEnd, "connection_lost")
		m.autoAnswer = false
		m.claimed = ""
		m.pendingRemote = make(map[string]*util.RingBuffer[json.RawMessage])
		m.publish()
	})
}

// ── Inbound signaling ────────────────────────────────────────────────────────

// HandleIncomingCall processes an inbound invite. An invite arriving while a
// call, a dial attempt or a queue prompt is active is silently ignored —
// never two prompts at once; the caller just keeps ringing elsewhere.
func (m *Manager) HandleIncomingCall(msg signal.IncomingCallMsg) {
	m.post(func() {
		if m.sess != nil || m.offer != nil || m.dialing {
			log.Printf("CALL [%s]: ignoring invite from %s while busy", msg.CallID, msg.CallerExtension)
			return
		}
		m.sess = newSession(DirectionInbound, msg.CallID, msg.CallerExtension, msg.CallerDisplayName)
		m.sess.remoteOffer = msg.SDPOffer
		m.sess.transition(evRing)
		if m.autoAnswer {
			// The claimed queue call: answer without prompting again.
			m.autoAnswer = false
			m.claimed = ""
			if err := m.answerCurrent(context.Background()); err != nil {
				log.Printf("CALL [%s]: auto-answer failed: %v", msg.CallID, err)
			}
		} else {
			m.notify.Info("incoming call from " + callerLabel(msg.CallerDisplayName, msg.CallerExtension))
		}
		m.publish()
	})
}

// HandleCallResult binds the server-assigned id onto the pending outbound
// call, or unwinds it when the server rejected the dial.
func (m *Manager) HandleCallResult(msg signal.CallResultMsg) {
	m.post(func() {
		if m.sess == nil || m.sess.Direction != DirectionOutbound || m.sess.Confirmed {
			return
		}
		if !msg.Success {
			m.notify.Error("call failed: " + msg.Error)
			m.teardown("rejected")
			return
		}
		m.sess.CallID = msg.CallID
		m.sess.Confirmed = true
		// Candidates held back while the call had no id can go out now.
		// Remote candidates stay buffered: until the answer arrives the
		// session has no remote description to apply them against.
		for _, cand := range m.outbound {
			m.sig.Send(signal.ICECandidateMsg{Type: signal.MsgTypeICECandidate, CallID: msg.CallID, Candidate: cand})
		}
		m.outbound = nil
		m.publish()
	})
}

// HandleCallAnswered applies the remote answer to our outbound call.
func (m *Manager) HandleCallAnswered(msg signal.CallAnsweredMsg) {
	m.post(func() {
		if m.sess == nil || m.sess.Phase() != PhaseCalling || m.sess.CallID != msg.CallID || m.media == nil {
			log.Printf("CALL [%s]: stray call_answered dropped", msg.CallID)
			return
		}
		if err := m.media.AcceptAnswer(msg.SDPAnswer); err != nil {
			m.notify.Error("call setup failed: " + err.Error())
			m.sig.Send(signal.HangupMsg{Type: signal.MsgTypeHangup, CallID: msg.CallID})
			m.teardown("media-error")
			return
		}
		m.haveRemote = true
		m.flushRemote(msg.CallID)
		m.sess.transition(evRemoteAnswer)
		m.sess.markAnswered()
		m.publish()
	})
}

// HandleCallEnded tears down the matching call on a server-side hangup.
func (m *Manager) HandleCallEnded(msg signal.CallEndedMsg) {
	m.post(func() {
		if m.sess == nil || m.sess.CallID != msg.CallID {
			delete(m.pendingRemote, msg.CallID)
			return
		}
		m.notify.Info("call ended: " + msg.Reason)
		m.teardown(msg.Reason)
	})
}

// HandleICECandidate applies a remote candidate, or buffers it when the
// matching description has not been set yet. Candidates are never dropped
// wholesale; the per-call ring only sheds under flood.
func (m *Manager) HandleICECandidate(msg signal.ICECandidateMsg) {
	m.post(func() {
		if m.haveRemote && m.media != nil && m.sess != nil && msg.CallID == m.sess.CallID {
			if err := m.media.AddRemoteCandidate(msg.Candidate); err != nil {
				log.Printf("CALL [%s]: candidate rejected: %v", msg.CallID, err)
			}
			return
		}
		buf, ok := m.pendingRemote[msg.CallID]
		if !ok {
			if len(m.pendingRemote) >= pendingCallCap {
				log.Printf("CALL [%s]: too many pending candidate buffers, dropping", msg.CallID)
				return
			}
			buf = util.NewRingBuffer[json.RawMessage](pendingCandidateCap)
			m.pendingRemote[msg.CallID] = buf
		}
		buf.Push(msg.Candidate)
	})
}

// HandleQueueCallOffer stores a queue offer and notifies the agent. Storing
// claims nothing yet. A second prompt is never shown: offers arriving while
// one is pending or a call is active are logged and dropped.
func (m *Manager) HandleQueueCallOffer(msg signal.QueueCallOfferMsg) {
	m.post(func() {
		if m.offer != nil || m.sess != nil || m.dialing {
			log.Printf("QUEUE [%s]: ignoring offer while busy", msg.CallControlID)
			return
		}
		m.offer = newQueueOffer(msg.QueueCallID, msg.CallControlID, msg.QueueID, msg.CallerNumber)
		m.notify.Info("queue call waiting from " + msg.CallerNumber)
		m.publish()
	})
}

// HandleQueueCallTaken resolves the race: another agent's accept won.
// Explicitly not an error — the agent is informed and returns to no-offer.
func (m *Manager) HandleQueueCallTaken(msg signal.QueueCallTakenMsg) {
	m.post(func() {
		if m.offer != nil && m.offer.CallControlID == msg.CallControlID {
			m.clearOffer(evOfferTaken, "claimed_elsewhere")
			m.notify.Info("queue call picked up by another agent")
			m.publish()
			return
		}
		if m.claimed == msg.CallControlID {
			// Our own accept lost after the optimistic clear.
			m.claimed = ""
			m.autoAnswer = false
			metrics.QueueOffers.WithLabelValues("claimed_elsewhere").Inc()
			m.notify.Info("queue call picked up by another agent")
			m.publish()
		}
	})
}

// HandleQueueCallEnded withdraws a still-unaccepted offer. Timeout and
// caller hangup read differently to the agent but are the same state change.
func (m *Manager) HandleQueueCallEnded(msg signal.QueueCallEndedMsg) {
	m.post(func() {
		if m.claimed == msg.CallControlID {
			m.claimed = ""
			m.autoAnswer = false
		}
		if m.offer == nil || m.offer.CallControlID != msg.CallControlID {
			return
		}
		if msg.Reason == "timeout" {
			m.notify.Info("queue call timed out")
		} else {
			m.notify.Info("queue caller hung up")
		}
		m.clearOffer(evOfferEnd, "ended")
		m.publish()
	})
}

// HandleAcceptQueueCallResult clears optimistic claim state when our accept
// lost the race or failed server-side validation.
func (m *Manager) HandleAcceptQueueCallResult(msg signal.AcceptQueueCallResultMsg) {
	m.post(func() {
		if msg.Success {
			return
		}
		m.claimed = ""
		m.autoAnswer = false
		m.notify.Error("could not take queue call: " + msg.Error)
		m.publish()
	})
}

// HandleOutboundCallAnswered surfaces a carrier-side pickup. Purely
// informational; the call itself is not agent-to-agent.
func (m *Manager) HandleOutboundCallAnswered(msg signal.OutboundCallAnsweredMsg) {
	m.post(func() {
		m.notify.Info("outbound call to " + msg.DestinationNumber + " answered")
	})
}

// HandleServerError surfaces an out-of-band server failure to the agent.
// Request-scoped failures arrive as call_result / accept_queue_call_result;
// anything else lands here.
func (m *Manager) HandleServerError(msg signal.ErrorMsg) {
	m.post(func() {
		log.Printf("CALL: server error: %s", msg.Message)
		m.notify.Error("server error: " + msg.Message)
	})
}

// ── Media engine callbacks ───────────────────────────────────────────────────

// mediaRelay forwards engine callbacks onto the loop, tagged with the media
// attempt that produced them so a disposed session cannot act on the next
// call's state.
type mediaRelay struct {
	m       *Manager
	attempt string
}

func (r *mediaRelay) LocalCandidate(cand json.RawMessage) {
	r.m.post(func() { r.m.localCandidate(r.attempt, cand) })
}

func (r *mediaRelay) TransportState(state string) {
	r.m.post(func() { r.m.transportState(r.attempt, state) })
}

func (m *Manager) localCandidate(attempt string, cand json.RawMessage) {
	if attempt != m.attempt || m.sess == nil {
		return
	}
	if !m.sess.Confirmed {
		// No server-assigned id yet; held back and flushed on call_result.
		m.outbound = append(m.outbound, cand)
		return
	}
	m.sig.Send(signal.ICECandidateMsg{Type: signal.MsgTypeICECandidate, CallID: m.sess.CallID, Candidate: cand})
}

// transportState treats an engine-reported failure exactly like a hangup:
// full teardown, no retry of the same call.
func (m *Manager) transportState(attempt, state string) {
	if attempt != m.attempt {
		return
	}
	switch state {
	case "failed", "disconnected":
		m.notify.Error("call media " + state)
		if m.sess != nil {
			m.sig.Send(signal.HangupMsg{Type: signal.MsgTypeHangup, CallID: m.sess.CallID})
		}
		m.teardown(state)
	default:
		log.Printf("CALL: media transport %s", state)
	}
}

// ── Internal teardown ────────────────────────────────────────────────────────

// teardown is the single disposal routine every exit path routes through:
// dispose media, release tracks, record history, clear the session.
func (m *Manager) teardown(reason string) {
	if m.media != nil {
		m.media.Dispose()
		m.media = nil
	}
	m.attempt = ""
	m.haveRemote = false
	m.outbound = nil
	if m.sess != nil {
		delete(m.pendingRemote, m.sess.CallID)
		if m.sess.Phase() != PhaseIdle {
			m.sess.transition(evHangup)
		}
		metrics.Calls.WithLabelValues(string(m.sess.Direction), reason).Inc()
		m.history.Record(m.sess.record(reason))
		m.sess = nil
	}
	m.publish()
}

func (m *Manager) clearOffer(event, outcome string) {
	if m.offer == nil {
		return
	}
	m.offer.transition(event)
	metrics.QueueOffers.WithLabelValues(outcome).Inc()
	m.offer = nil
}

func (m *Manager) flushRemote(callID string) {
	buf, ok := m.pendingRemote[callID]
	if !ok || m.media == nil {
		return
	}
	delete(m.pendingRemote, callID)
	for _, cand := range buf.Drain() {
		if err := m.media.AddRemoteCandidate(cand); err != nil {
			log.Printf("CALL [%s]: buffered candidate rejected: %v", callID, err)
		}
	}
}

func (m *Manager) publish() {
	snap := Snapshot{AutoAnswer: m.autoAnswer}
	if m.sess != nil {
		snap.Call = m.sess.info()
	}
	if m.offer != nil {
		snap.Offer = m.offer.info()
	}
	m.snapMu.Lock()
	m.snap = snap
	m.snapMu.Unlock()
	if m.onChange != nil {
		m.onChange(snap)
	}
}

func callerLabel(name, ext string) string {
	if name != "" {
		return name + " (" + ext + ")"
	}
	return ext
}
