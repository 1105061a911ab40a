package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/eduplay/voiceroom/pkg/audio"
)

var _ Transport = LiveKit{}

// LiveKit is the [Transport] backed by the LiveKit server SDK.
type LiveKit struct{}

// Join connects with token and auto-subscribes to remote tracks.
func (LiveKit) Join(ctx context.Context, url, token string, h Handler) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("room: join: %w", err)
	}

	var once sync.Once
	cb := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				slog.Info("room: subscribed to remote audio",
					"participant", rp.Identity(),
					"track", pub.SID(),
				)
				if h.OnRemoteAudio != nil {
					h.OnRemoteAudio(&remoteTrack{track: track})
				}
			},
		},
		OnDisconnected: func() {
			once.Do(func() {
				if h.OnDisconnected != nil {
					h.OnDisconnected()
				}
			})
		},
	}

	r, err := lksdk.ConnectToRoomWithToken(url, token, cb, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("room: connect: %w", err)
	}
	return &lkSession{room: r}, nil
}

type lkSession struct {
	room  *lksdk.Room
	leave sync.Once
}

func (s *lkSession) PublishAudio(channels int) (AudioSink, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: audio.OpusSampleRate,
		Channels:  uint16(channels),
	})
	if err != nil {
		return nil, fmt.Errorf("room: create local track: %w", err)
	}
	if _, err := s.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		return nil, fmt.Errorf("room: publish track: %w", err)
	}
	return sampleSink{track: track}, nil
}

func (s *lkSession) Leave() {
	s.leave.Do(s.room.Disconnect)
}

type sampleSink struct {
	track *lksdk.LocalTrack
}

func (s sampleSink) WriteOpus(packet []byte, d time.Duration) error {
	return s.track.WriteSample(media.Sample{Data: packet, Duration: d}, nil)
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t *remoteTrack) ID() string { return t.track.ID() }

func (t *remoteTrack) Channels() int {
	if ch := int(t.track.Codec().Channels); ch > 0 {
		return ch
	}
	return 1
}

func (t *remoteTrack) ReadPacket() ([]byte, error) {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return nil, err
		}
		if len(pkt.Payload) > 0 {
			return pkt.Payload, nil
		}
	}
}
