//go:build linux && cgo

package media

import (
	"fmt"
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
)

// newPeerConnection creates the PeerConnection with an Opus-encoded local
// microphone track captured via pion/mediadevices (malgo on Linux).
// Capture failure fails the whole session — a call must never start without
// the microphone, so there is no receive-only fallback here.
func newPeerConnection(cfg webrtc.Configuration, callID string) (*webrtc.PeerConnection, *localAudio, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not immediately
	// terminate the call.  The default disconnectedTimeout is 5 s — far too
	// short for paths that can have short outages during re-keying.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	})
	if err != nil {
		pc.Close()
		return nil, nil, fmt.Errorf("microphone capture: %w", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		pc.Close()
		return nil, nil, fmt.Errorf("microphone capture: no audio track")
	}
	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			log.Printf("MEDIA [%s]: local track ended: %v", callID, err)
		}
	})

	sender, err := pc.AddTrack(track)
	if err != nil {
		for _, t := range tracks {
			t.Close()
		}
		pc.Close()
		return nil, nil, fmt.Errorf("add local track: %w", err)
	}

	go drainSenderRTCP(callID, sender)

	log.Printf("MEDIA [%s]: local audio captured", callID)
	audio := &localAudio{
		track:  track,
		sender: sender,
		stop: func() {
			for _, t := range tracks {
				t.Close()
			}
		},
	}
	return pc, audio, nil
}
