//go:build !linux || !cgo

package media

import (
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates a receive-only PeerConnection on non-Linux
// platforms. Microphone capture via pion/mediadevices requires the malgo
// driver, which this daemon only builds on Linux; elsewhere the session can
// still receive remote audio for development and testing.
func newPeerConnection(cfg webrtc.Configuration, callID string) (*webrtc.PeerConnection, *localAudio, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, err
	}

	addRecvOnlyAudio(callID, pc)
	log.Printf("MEDIA [%s]: session ready (receive-only, no local capture on this platform)", callID)
	return pc, nil, nil
}
