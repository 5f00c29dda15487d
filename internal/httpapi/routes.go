// Package httpapi exposes the console's local control surface: JSON
// endpoints for call actions, a state snapshot, and an SSE event stream
// the UI subscribes to.
package httpapi

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearline/agentvoice/internal/call"
	"github.com/clearline/agentvoice/internal/media"
	"github.com/clearline/agentvoice/internal/presence"
	"github.com/clearline/agentvoice/internal/signal"
	"github.com/clearline/agentvoice/internal/state"
	"github.com/clearline/agentvoice/internal/storage"
)

// Deps bundles everything the route handlers reach into.
type Deps struct {
	Signal   *signal.Manager
	Calls    *call.Manager
	Presence *presence.Registry
	Store    *state.Store
	History  *storage.DB
}

// Register wires all console endpoints onto mux.
func Register(mux *http.ServeMux, d Deps) {
	// GET /api/state — full console snapshot for initial page render.
	handleGet(mux, "/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Store.State())
	})

	// GET /api/events — SSE stream of state changes and toasts.
	// Each connection gets its own subscription; unsubscribed on disconnect
	// so the store never accumulates stale listeners.
	handleGet(mux, "/api/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		sseHeaders(w)

		ch, cancel := d.Store.Subscribe()
		defer cancel()

		// Snapshot first so a reconnecting UI starts from current state.
		st := d.Store.State()
		writeSSE(w, state.Event{Type: "state", State: &st})
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				writeSSE(w, ev)
				flusher.Flush()
			}
		}
	})

	// POST /api/call/start
	handlePost(mux, "/api/call/start", func(w http.ResponseWriter, r *http.Request, req struct {
		Extension string `json:"extension"`
	}) {
		if req.Extension == "" {
			http.Error(w, "missing extension", http.StatusBadRequest)
			return
		}
		if err := d.Calls.StartCall(r.Context(), req.Extension); err != nil {
			http.Error(w, fmt.Sprintf("start call failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "dialing", "extension": req.Extension})
	})

	// POST /api/call/answer
	handlePostAction(mux, "/api/call/answer", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.AnswerCall(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("answer failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "answered"})
	})

	// POST /api/call/reject
	handlePostAction(mux, "/api/call/reject", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.RejectCall(); err != nil {
			http.Error(w, fmt.Sprintf("reject failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "rejected"})
	})

	// POST /api/call/hangup — safe to call in any state.
	handlePostAction(mux, "/api/call/hangup", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.EndCall(); err != nil {
			http.Error(w, fmt.Sprintf("hangup failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "hung_up"})
	})

	// POST /api/call/toggle-mute
	handlePostAction(mux, "/api/call/toggle-mute", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.ToggleMute(); err != nil {
			http.Error(w, fmt.Sprintf("toggle mute failed: %v", err), http.StatusConflict)
			return
		}
		snap := d.Calls.Snapshot()
		writeJSON(w, map[string]bool{"muted": snap.Call != nil && snap.Call.Muted})
	})

	// POST /api/call/toggle-hold
	handlePostAction(mux, "/api/call/toggle-hold", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.ToggleHold(); err != nil {
			http.Error(w, fmt.Sprintf("toggle hold failed: %v", err), http.StatusConflict)
			return
		}
		snap := d.Calls.Snapshot()
		writeJSON(w, map[string]bool{"held": snap.Call != nil && snap.Call.Held})
	})

	// POST /api/queue/accept — claim the currently offered queue call.
	handlePostAction(mux, "/api/queue/accept", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.AcceptQueueCall(); err != nil {
			http.Error(w, fmt.Sprintf("accept failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "claim_pending"})
	})

	// POST /api/queue/reject
	handlePostAction(mux, "/api/queue/reject", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Calls.RejectQueueCall(); err != nil {
			http.Error(w, fmt.Sprintf("reject failed: %v", err), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"status": "declined"})
	})

	// POST /api/connection/connect — reopen signaling after a logout.
	handlePostAction(mux, "/api/connection/connect", func(w http.ResponseWriter, r *http.Request) {
		d.Signal.Connect()
		writeJSON(w, map[string]string{"status": string(d.Signal.Status())})
	})

	// POST /api/connection/disconnect — stop signaling, no reconnect.
	handlePostAction(mux, "/api/connection/disconnect", func(w http.ResponseWriter, r *http.Request) {
		d.Signal.Disconnect()
		writeJSON(w, map[string]string{"status": string(d.Signal.Status())})
	})

	// POST /api/presence/refresh — re-request the online extension list.
	handlePostAction(mux, "/api/presence/refresh", func(w http.ResponseWriter, r *http.Request) {
		d.Presence.Refresh()
		writeJSON(w, map[string]string{"status": "requested"})
	})

	// GET /api/presence
	handleGet(mux, "/api/presence", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Presence.Snapshot())
	})

	// GET /api/calls/recent?limit=N — newest-first call history.
	handleGet(mux, "/api/calls/recent", func(w http.ResponseWriter, r *http.Request) {
		limit := atoiOrNeg(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		recs, err := d.History.RecentCalls(limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("history query failed: %v", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, recs)
	})

	// GET /api/audio/stream — raw Opus payloads of the active call's remote
	// audio, chunked. The UI feeds these to its decoder.
	handleGet(mux, "/api/audio/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Cache-Control", "no-cache")

		ch, cancel := media.DefaultSink().Subscribe()
		defer cancel()

		for {
			select {
			case <-r.Context().Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				if _, err := w.Write(payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	mux.Handle("/metrics", promhttp.Handler())
}
