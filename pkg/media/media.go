// Package media models the local camera and microphone grant.
//
// A [Devices] implementation acquires a [Stream] of tracks; a [Source] owns
// that stream for one session and is the only place tracks are enabled or
// disabled. Other components see read-only [AudioFeed] and [VideoFeed] views.
package media

import (
	"context"
	"image"

	"github.com/eduplay/voiceroom/pkg/audio"
)

// TrackKind distinguishes audio and video tracks.
type TrackKind int

const (
	KindAudio TrackKind = iota
	KindVideo
)

// String returns "audio" or "video".
func (k TrackKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Constraints selects which tracks to request from the devices.
type Constraints struct {
	Audio bool
	Video bool
}

// Track is the control surface shared by audio and video tracks.
type Track interface {
	Kind() TrackKind

	// Enabled reports whether the track currently delivers media.
	Enabled() bool

	// SetEnabled toggles delivery without releasing the device.
	SetEnabled(enabled bool)

	// Live reports whether the track has not been stopped.
	Live() bool

	// Stop releases the underlying device. Safe to call more than once.
	Stop()
}

// AudioFeed is the read side of a microphone track.
type AudioFeed interface {
	Format() audio.Format

	// Subscribe registers fn for every captured frame while the track is
	// enabled. The returned func removes the subscription.
	Subscribe(fn func(audio.AudioFrame)) (cancel func())
}

// VideoFeed is the read side of a camera track.
type VideoFeed interface {
	Enabled() bool
	Live() bool

	// ReadyFrames returns how many frames have been rendered so far.
	ReadyFrames() int

	// Snapshot returns the most recent frame.
	Snapshot() (image.Image, error)
}

// AudioTrack is a microphone track.
type AudioTrack interface {
	Track
	AudioFeed
}

// VideoTrack is a camera track.
type VideoTrack interface {
	Track
	ReadyFrames() int
	Snapshot() (image.Image, error)
}

// Stream is the result of a successful device request. Either track may be
// nil when it was not requested.
type Stream struct {
	Audio AudioTrack
	Video VideoTrack
}

// Tracks returns the non-nil tracks of s.
func (s *Stream) Tracks() []Track {
	var out []Track
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// Devices grants access to local media devices.
type Devices interface {
	// GetUserMedia requests the tracks named by c. Failures are *DeviceError.
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// Availability is the per-session media state read by the orchestrator.
type Availability struct {
	AudioEnabled       bool
	VideoEnabled       bool
	TransportConnected bool
}
