package presence

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearline/agentvoice/internal/signal"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeSender) Send(v any) {
	f.mu.Lock()
	f.sent = append(f.sent, v)
	f.mu.Unlock()
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeReg captures the handlers Bind registers so tests can feed frames in.
type fakeReg struct {
	handlers map[string]signal.Handler
}

func newFakeReg() *fakeReg {
	return &fakeReg{handlers: make(map[string]signal.Handler)}
}

func (f *fakeReg) Handle(msgType string, h signal.Handler) {
	f.handlers[msgType] = h
}

func (f *fakeReg) feed(t *testing.T, msgType string, v any) {
	t.Helper()
	h, ok := f.handlers[msgType]
	require.True(t, ok, "no handler for %s", msgType)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	h(data)
}

func TestRegisteredSetsSelfAndRefreshes(t *testing.T) {
	sender := &fakeSender{}
	var changes []Snapshot
	r := NewRegistry(sender, func(s Snapshot) { changes = append(changes, s) })
	reg := newFakeReg()
	r.Bind(reg)

	reg.feed(t, signal.MsgTypeRegistered, map[string]string{"extension": "1042", "displayName": "Desk 12"})

	assert.Equal(t, signal.Identity{Extension: "1042", DisplayName: "Desk 12"}, r.Self())
	assert.Equal(t, 1, sender.count(), "registration must trigger a get_online")
	require.NotEmpty(t, changes)
}

func TestOnlineExtensionsReplaceWholesale(t *testing.T) {
	r := NewRegistry(&fakeSender{}, nil)
	reg := newFakeReg()
	r.Bind(reg)

	reg.feed(t, signal.MsgTypeOnlineExtensions, signal.OnlineExtensionsMsg{
		Extensions: []signal.OnlineExtension{
			{Extension: "2002", DisplayName: "Bea"},
			{Extension: "2001", DisplayName: "Ada"},
		},
	})
	assert.True(t, r.Online("2001"))
	assert.True(t, r.Online("2002"))

	snap := r.Snapshot()
	require.Len(t, snap.Extensions, 2)
	assert.Equal(t, "2001", snap.Extensions[0].Extension, "extensions sorted")

	// The next push is authoritative; stale entries disappear.
	reg.feed(t, signal.MsgTypeOnlineExtensions, signal.OnlineExtensionsMsg{
		Extensions: []signal.OnlineExtension{{Extension: "2002", DisplayName: "Bea"}},
	})
	assert.False(t, r.Online("2001"))
	assert.True(t, r.Online("2002"))
}

func TestClearDropsOnlineSet(t *testing.T) {
	r := NewRegistry(&fakeSender{}, nil)
	reg := newFakeReg()
	r.Bind(reg)

	reg.feed(t, signal.MsgTypeRegistered, map[string]string{"extension": "1042"})
	reg.feed(t, signal.MsgTypeOnlineExtensions, signal.OnlineExtensionsMsg{
		Extensions: []signal.OnlineExtension{{Extension: "2001"}},
	})

	r.Clear()
	assert.False(t, r.Online("2001"))
	// Identity survives a connection loss; it is server-assigned on register.
	assert.Equal(t, "1042", r.Self().Extension)
}
