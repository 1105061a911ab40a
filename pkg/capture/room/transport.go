package room

import (
	"context"
	"time"
)

// Transport joins real-time media rooms.
type Transport interface {
	Join(ctx context.Context, url, token string, h Handler) (Session, error)
}

// Handler receives room callbacks. Callbacks may run on transport
// goroutines.
type Handler struct {
	// OnRemoteAudio is called for every subscribed remote audio track.
	OnRemoteAudio func(t RemoteAudio)

	// OnDisconnected is called once when signaling is lost.
	OnDisconnected func()
}

// RemoteAudio is an inbound opus track.
type RemoteAudio interface {
	ID() string
	Channels() int

	// ReadPacket blocks for the next opus payload. It returns an error once
	// the track ends.
	ReadPacket() ([]byte, error)
}

// AudioSink is a published outbound opus track.
type AudioSink interface {
	WriteOpus(packet []byte, d time.Duration) error
}

// Session is a joined room.
type Session interface {
	// PublishAudio publishes a microphone track with the given channel count.
	PublishAudio(channels int) (AudioSink, error)

	// Leave disconnects. Safe to call more than once.
	Leave()
}
