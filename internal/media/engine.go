// Package media drives the peer media engine (Pion) for the call layer.
// One Session per call attempt, never reused; remote audio lands on the
// process-wide output sink.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/clearline/agentvoice/internal/call"
)

// Config is the network-path discovery setup for new sessions.
type Config struct {
	// STUNServers is a small fixed list of well-known relay/discovery
	// addresses, e.g. "stun:stun.l.google.com:19302".
	STUNServers []string
	// CandidatePoolSize pre-gathers candidates for lower setup latency.
	CandidatePoolSize uint8
}

// DefaultConfig matches the servers the console has always shipped with.
func DefaultConfig() Config {
	return Config{
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		CandidatePoolSize: 2,
	}
}

// Engine implements call.MediaEngine on top of Pion.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
}

// NewEngine creates an Engine. Empty config fields fall back to defaults.
func NewEngine(cfg Config) *Engine {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultConfig().STUNServers
	}
	return &Engine{cfg: cfg}
}

// SetConfig swaps the discovery config; applies to the next session.
func (e *Engine) SetConfig(cfg Config) {
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = DefaultConfig().STUNServers
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// NewSession builds a PeerConnection with local audio capture and wires the
// three engine observers: candidate-generated, remote-track-received and
// connection-state-changed.
func (e *Engine) NewSession(callID string, ev call.MediaEvents) (call.MediaSession, error) {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()

	pcCfg := webrtc.Configuration{
		ICEServers:           []webrtc.ICEServer{{URLs: cfg.STUNServers}},
		ICECandidatePoolSize: cfg.CandidatePoolSize,
	}
	pc, audio, err := newPeerConnection(pcCfg, callID)
	if err != nil {
		return nil, err
	}

	s := &Session{callID: callID, pc: pc, audio: audio}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // gathering complete
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Printf("MEDIA [%s]: candidate marshal error: %v", callID, err)
			return
		}
		ev.LocalCandidate(data)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Printf("MEDIA [%s]: remote track %s (%s)", callID, track.ID(), track.Codec().MimeType)
		DefaultSink().Attach(callID, track)
	})

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Printf("MEDIA [%s]: connection state %s", callID, st)
		ev.TransportState(st.String())
	})

	return s, nil
}

// Session implements call.MediaSession around one PeerConnection.
type Session struct {
	callID string
	pc     *webrtc.PeerConnection
	audio  *localAudio

	muteMu sync.Mutex
	muted  bool

	disposeOnce sync.Once
}

// Offer generates the local offer and applies it. Candidates trickle via the
// OnICECandidate observer; there is no wait for gathering.
func (s *Session) Offer(ctx context.Context) (string, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

// Answer applies the remote offer and generates the local answer.
func (s *Session) Answer(ctx context.Context, remoteOffer string) (string, error) {
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer, SDP: remoteOffer,
	})
	if err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

// AcceptAnswer applies the remote answer to an offering session.
func (s *Session) AcceptAnswer(remoteAnswer string) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer, SDP: remoteAnswer,
	})
}

// AddRemoteCandidate applies one serialized remote candidate.
func (s *Session) AddRemoteCandidate(cand json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return s.pc.AddICECandidate(init)
}

// SetMuted detaches or reattaches the local track on its sender. A session
// without local capture (receive-only platform fallback) ignores the call.
func (s *Session) SetMuted(muted bool) error {
	if s.audio == nil {
		return nil
	}
	s.muteMu.Lock()
	defer s.muteMu.Unlock()
	if muted == s.muted {
		return nil
	}
	var err error
	if muted {
		err = s.audio.sender.ReplaceTrack(nil)
	} else {
		err = s.audio.sender.ReplaceTrack(s.audio.track)
	}
	if err != nil {
		return fmt.Errorf("toggle local track: %w", err)
	}
	s.muted = muted
	log.Printf("MEDIA [%s]: local audio muted=%v", s.callID, muted)
	return nil
}

// Dispose closes the engine primitive and stops every local track. Safe to
// call multiple times; every exit path from a call must reach it.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		if s.audio != nil {
			s.audio.close()
		}
		if err := s.pc.Close(); err != nil {
			log.Printf("MEDIA [%s]: close error: %v", s.callID, err)
		}
		log.Printf("MEDIA [%s]: session disposed", s.callID)
	})
}
