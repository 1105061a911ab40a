package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Source owns the device grant for one session. It is the single entry
// point for enabling and disabling tracks. All methods are safe for
// concurrent use.
type Source struct {
	devices Devices

	mu       sync.Mutex
	stream   *Stream
	released bool
	avail    Availability
}

// NewSource returns a Source that acquires tracks from d.
func NewSource(d Devices) *Source {
	return &Source{devices: d}
}

// Acquire requests camera and microphone. When the combined request fails
// with NotFound or NotReadable it retries with audio only; any other failure,
// or a failing audio-only retry, is returned as a *DeviceError.
func (s *Source) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	if s.stream != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	stream, err := s.devices.GetUserMedia(ctx, Constraints{Audio: true, Video: true})
	if err != nil {
		if !degradable(err) {
			return fmt.Errorf("media: acquire audio+video: %w", err)
		}
		slog.Warn("media: camera unavailable, continuing with audio only", "err", err)
		stream, err = s.devices.GetUserMedia(ctx, Constraints{Audio: true})
		if err != nil {
			return fmt.Errorf("media: acquire audio: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		// Release ran while the request was pending.
		for _, t := range stream.Tracks() {
			t.Stop()
		}
		return ErrReleased
	}
	s.stream = stream
	s.avail.AudioEnabled = stream.Audio != nil && stream.Audio.Enabled()
	s.avail.VideoEnabled = stream.Video != nil && stream.Video.Enabled()
	slog.Info("media: acquired",
		"audio", stream.Audio != nil,
		"video", stream.Video != nil,
	)
	return nil
}

// SetTrackEnabled toggles the track of kind without touching the device
// grant. Returns ErrNoTrack when no such track was acquired.
func (s *Source) SetTrackEnabled(kind TrackKind, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Track
	if s.stream != nil {
		switch kind {
		case KindAudio:
			if s.stream.Audio != nil {
				t = s.stream.Audio
			}
		case KindVideo:
			if s.stream.Video != nil {
				t = s.stream.Video
			}
		}
	}
	if t == nil {
		return fmt.Errorf("media: set %s enabled: %w", kind, ErrNoTrack)
	}

	t.SetEnabled(enabled)
	if kind == KindAudio {
		s.avail.AudioEnabled = enabled
	} else {
		s.avail.VideoEnabled = enabled
	}
	return nil
}

// SetTransportConnected records the transport lifecycle state.
func (s *Source) SetTransportConnected(connected bool) {
	s.mu.Lock()
	s.avail.TransportConnected = connected
	s.mu.Unlock()
}

// Availability returns a snapshot of the current media state.
func (s *Source) Availability() Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avail
}

// Audio returns the microphone feed, or nil before acquisition.
func (s *Source) Audio() AudioFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.stream.Audio == nil {
		return nil
	}
	return s.stream.Audio
}

// Video returns the camera feed, or nil when there is no camera.
func (s *Source) Video() VideoFeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil || s.stream.Video == nil {
		return nil
	}
	return s.stream.Video
}

// Release stops every track. It is idempotent and a no-op when nothing was
// acquired.
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	if s.stream != nil {
		for _, t := range s.stream.Tracks() {
			t.Stop()
		}
		s.stream = nil
	}
	s.avail = Availability{}
}
