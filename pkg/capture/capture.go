// Package capture defines the speech-capture capability port shared by the
// on-device, streaming and room variants.
//
// A Provider turns microphone audio into finalized [Utterance] values and
// reports them, together with errors and transport changes, as [Event]
// values through a single sink owned by the turn orchestrator. Providers
// never touch turn state.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/eduplay/voiceroom/pkg/media"
)

// Variant identifies a capture backend.
type Variant int

const (
	// OnDevice is continuous local recognition.
	OnDevice Variant = iota + 1

	// Streaming sends PCM to a streaming speech-to-text socket.
	Streaming

	// Room joins a real-time media room and transcribes the remote track.
	Room
)

func (v Variant) String() string {
	switch v {
	case OnDevice:
		return "on-device"
	case Streaming:
		return "streaming"
	case Room:
		return "room"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// ParseVariant parses the names produced by [Variant.String].
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on-device", "ondevice", "local":
		return OnDevice, nil
	case "streaming", "stream":
		return Streaming, nil
	case "room":
		return Room, nil
	default:
		return 0, fmt.Errorf("capture: unknown variant %q", s)
	}
}

// Utterance is one finalized segment of user speech.
type Utterance struct {
	Text       string
	CapturedAt time.Time
}

// TransportChange reports a signaling connect or disconnect.
type TransportChange struct {
	Variant   Variant
	Connected bool
}

// Event is the single message type a Provider emits. Exactly one field is
// set.
type Event struct {
	Utterance *Utterance
	Err       *Error
	Transport *TransportChange
}

// Sink receives provider events. It must not block.
type Sink func(Event)

// Provider is a speech-capture backend. Start and Stop may be called any
// number of times in any order; Stop is idempotent. Results that arrive
// after Stop are dropped. Providers that keep a connection across Stop
// also implement io.Closer, which the session calls once at the end.
type Provider interface {
	// Start begins capturing. Calling Start on a running provider is a no-op.
	Start(ctx context.Context) error

	// Stop ends capturing and releases transient resources.
	Stop() error

	Variant() Variant
}

// AudioSource supplies the microphone feed. [media.Source] implements it.
type AudioSource interface {
	Audio() media.AudioFeed
}

// Locale maps a session language to a recognizer locale.
func Locale(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), "bn") {
		return "bn-IN"
	}
	return "en-US"
}
