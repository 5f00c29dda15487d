package call

import (
	"context"
	"encoding/json"
	"sync"
)

// fakeSignaler records every frame Send would have written.
type fakeSignaler struct {
	mu   sync.Mutex
	open bool
	sent []any
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{open: true}
}

func (f *fakeSignaler) Send(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return
	}
	f.sent = append(f.sent, v)
}

func (f *fakeSignaler) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeSignaler) setOpen(open bool) {
	f.mu.Lock()
	f.open = open
	f.mu.Unlock()
}

func (f *fakeSignaler) frames() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

// framesOf returns the sent frames matching T, in order.
func framesOf[T any](f *fakeSignaler) []T {
	var out []T
	for _, v := range f.frames() {
		if msg, ok := v.(T); ok {
			out = append(out, msg)
		}
	}
	return out
}

// fakeMedia is a scriptable MediaSession.
type fakeMedia struct {
	mu        sync.Mutex
	disposed  int
	muted     bool
	accepted  string
	remote    []json.RawMessage
	offerErr  error
	answerErr error
	acceptErr error

	// gate, when set, blocks Offer/Answer until released. Lets tests hold a
	// call in the capture-acquisition window.
	gate chan struct{}

	events MediaEvents
}

func (f *fakeMedia) Offer(ctx context.Context) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.offerErr != nil {
		return "", f.offerErr
	}
	return "offer-sdp", nil
}

func (f *fakeMedia) Answer(ctx context.Context, remoteOffer string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.answerErr != nil {
		return "", f.answerErr
	}
	return "answer-sdp", nil
}

func (f *fakeMedia) AcceptAnswer(remoteAnswer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = remoteAnswer
	return nil
}

func (f *fakeMedia) AddRemoteCandidate(cand json.RawMessage) error {
	f.mu.Lock()
	f.remote = append(f.remote, cand)
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) SetMuted(muted bool) error {
	f.mu.Lock()
	f.muted = muted
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) Dispose() {
	f.mu.Lock()
	f.disposed++
	f.mu.Unlock()
}

func (f *fakeMedia) disposeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

func (f *fakeMedia) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.remote)
}

// fakeEngine hands out fakeMedia sessions and remembers the last one.
type fakeEngine struct {
	mu         sync.Mutex
	sessionErr error
	next       *fakeMedia
	sessions   []*fakeMedia
}

func (f *fakeEngine) NewSession(callID string, ev MediaEvents) (MediaSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	ms := f.next
	f.next = nil
	if ms == nil {
		ms = &fakeMedia{}
	}
	ms.events = ev
	f.sessions = append(f.sessions, ms)
	return ms, nil
}

func (f *fakeEngine) last() *fakeMedia {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

// fakeNotifier collects toasts.
type fakeNotifier struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (f *fakeNotifier) Info(msg string) {
	f.mu.Lock()
	f.infos = append(f.infos, msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) Error(msg string) {
	f.mu.Lock()
	f.errors = append(f.errors, msg)
	f.mu.Unlock()
}

func (f *fakeNotifier) infoList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.infos...)
}

func (f *fakeNotifier) errorList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.errors...)
}

// fakeHistory collects finished-call records.
type fakeHistory struct {
	mu   sync.Mutex
	recs []Record
}

func (f *fakeHistory) Record(rec Record) {
	f.mu.Lock()
	f.recs = append(f.recs, rec)
	f.mu.Unlock()
}

func (f *fakeHistory) records() []Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Record(nil), f.recs...)
}

// sync waits until every event queued before it has run.
func (m *Manager) sync() {
	_ = m.do(func() error { return nil })
}
