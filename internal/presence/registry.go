// Package presence is the client-side view of who is online: the agent's own
// registered identity plus the set of reachable extensions. The set is
// rebuilt wholesale on every server push, never mutated locally.
package presence

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/clearline/agentvoice/internal/signal"
)

// Sender is the outbound half of the signaling layer needed here.
type Sender interface {
	Send(v any)
}

// Snapshot is the observable presence state.
type Snapshot struct {
	Self       signal.Identity          `json:"self"`
	Extensions []signal.OnlineExtension `json:"extensions"`
}

// Registry caches extension presence for the console.
type Registry struct {
	sig Sender

	mu     sync.RWMutex
	self   signal.Identity
	online map[string]signal.OnlineExtension

	onChange func(Snapshot)
}

// NewRegistry creates an empty registry.
func NewRegistry(sig Sender, onChange func(Snapshot)) *Registry {
	return &Registry{
		sig:      sig,
		online:   make(map[string]signal.OnlineExtension),
		onChange: onChange,
	}
}

// HandlerRegistry is satisfied by *signal.Manager.
type HandlerRegistry interface {
	Handle(msgType string, h signal.Handler)
}

// Bind registers the presence handlers on the signaling dispatcher.
func (r *Registry) Bind(reg HandlerRegistry) {
	reg.Handle(signal.MsgTypeRegistered, func(raw []byte) {
		var msg signal.RegisteredMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("PRESENCE: bad registered frame: %v", err)
			return
		}
		r.setSelf(signal.Identity{Extension: msg.Extension, DisplayName: msg.DisplayName})
		// A fresh registration deserves a fresh view of the floor.
		r.Refresh()
	})
	reg.Handle(signal.MsgTypeOnlineExtensions, func(raw []byte) {
		var msg signal.OnlineExtensionsMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("PRESENCE: bad online_extensions frame: %v", err)
			return
		}
		r.replace(msg.Extensions)
	})
}

// Refresh asks the server for a fresh online-extensions push.
func (r *Registry) Refresh() {
	r.sig.Send(signal.GetOnlineMsg{Type: signal.MsgTypeGetOnline})
}

// Clear drops the online set (connection lost; the next registration
// repopulates it).
func (r *Registry) Clear() {
	r.mu.Lock()
	r.online = make(map[string]signal.OnlineExtension)
	r.mu.Unlock()
	r.publish()
}

// Self returns the agent's registered identity.
func (r *Registry) Self() signal.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// Online reports whether the extension is currently online.
func (r *Registry) Online(extension string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[extension]
	return ok
}

// Snapshot returns the current presence view, extensions sorted.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) setSelf(id signal.Identity) {
	r.mu.Lock()
	r.self = id
	r.mu.Unlock()
	r.publish()
}

func (r *Registry) replace(exts []signal.OnlineExtension) {
	next := make(map[string]signal.OnlineExtension, len(exts))
	for _, e := range exts {
		next[e.Extension] = e
	}
	r.mu.Lock()
	r.online = next
	r.mu.Unlock()
	log.Printf("PRESENCE: %d extensions online", len(next))
	r.publish()
}

func (r *Registry) snapshotLocked() Snapshot {
	out := Snapshot{Self: r.self, Extensions: make([]signal.OnlineExtension, 0, len(r.online))}
	for _, e := range r.online {
		out.Extensions = append(out.Extensions, e)
	}
	sort.Slice(out.Extensions, func(i, j int) bool {
		return out.Extensions[i].Extension < out.Extensions[j].Extension
	})
	return out
}

func (r *Registry) publish() {
	if r.onChange == nil {
		return
	}
	r.mu.RLock()
	snap := r.snapshotLocked()
	r.mu.RUnlock()
	r.onChange(snap)
}
