package media

import (
	"log"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// localAudio is the captured microphone track and the sender carrying it.
type localAudio struct {
	track  webrtc.TrackLocal
	sender *webrtc.RTPSender
	stop   func()
}

func (a *localAudio) close() {
	if a.stop != nil {
		a.stop()
	}
}

// drainSenderRTCP reads the feedback stream for the local track. The read
// keeps the sender's interceptor chain running; receiver reports claiming
// loss are logged so a degrading call shows up in the output. Returns when
// the sender closes with its peer connection.
func drainSenderRTCP(callID string, sender *webrtc.RTPSender) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, rep := range rr.Reports {
				if rep.FractionLost > 0 {
					log.Printf("MEDIA [%s]: remote reports %d/256 packet loss", callID, rep.FractionLost)
				}
			}
		}
	}
}

// addRecvOnlyAudio adds a recvonly audio transceiver so CreateOffer/
// CreateAnswer always produces a valid m-line with ICE credentials.
func addRecvOnlyAudio(callID string, pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("MEDIA [%s]: AddTransceiver(audio) error: %v", callID, err)
	}
}
