package media

import (
	"log"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	sinkOnce sync.Once
	sink     *OutputSink
)

// DefaultSink returns the process-wide output audio sink. One remote audio
// stream plays at a time, consistent with the one-call-at-a-time rule; the
// sink is created lazily on first use and lives for the agent session.
func DefaultSink() *OutputSink {
	sinkOnce.Do(func() {
		sink = &OutputSink{subs: make(map[chan []byte]struct{})}
	})
	return sink
}

// OutputSink fans the active call's remote audio payloads out to
// subscribers (the console UI streams them from here).
type OutputSink struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
	gen  int // bumped per attached track; stale readers stop forwarding
}

// Attach starts forwarding the remote track. A newly attached track replaces
// whatever was playing — it belongs to the only live call there can be.
func (o *OutputSink) Attach(callID string, track *webrtc.TrackRemote) {
	o.mu.Lock()
	o.gen++
	gen := o.gen
	o.mu.Unlock()

	go o.pump(callID, gen, track)
}

func (o *OutputSink) pump(callID string, gen int, track *webrtc.TrackRemote) {
	var pkt *rtp.Packet
	var err error
	for {
		pkt, _, err = track.ReadRTP()
		if err != nil {
			log.Printf("MEDIA [%s]: remote audio ended: %v", callID, err)
			return
		}
		o.mu.Lock()
		if gen != o.gen {
			o.mu.Unlock()
			return // a newer call took over the sink
		}
		for ch := range o.subs {
			select {
			case ch <- pkt.Payload:
			default: // slow subscriber, shed the frame
			}
		}
		o.mu.Unlock()
	}
}

// Subscribe returns a channel of raw audio payloads and a cancel func.
func (o *OutputSink) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	o.mu.Lock()
	o.subs[ch] = struct{}{}
	o.mu.Unlock()
	return ch, func() {
		o.mu.Lock()
		delete(o.subs, ch)
		o.mu.Unlock()
	}
}
