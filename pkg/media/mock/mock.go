// Package mock provides a scripted [media.Devices] for tests.
//
// Example:
//
//	d := &mock.Devices{VideoErr: media.NewDeviceError(media.NotFound, media.Constraints{Video: true}, nil)}
//	src := media.NewSource(d)
//	err := src.Acquire(ctx) // succeeds with audio only
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/media"
)

// DefaultFormat is the microphone format of tracks created by Devices.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Devices is a mock implementation of media.Devices.
type Devices struct {
	mu sync.Mutex

	// VideoErr is returned for any request that includes video.
	VideoErr error

	// AudioErr is returned for any request that includes audio, after
	// VideoErr has been considered.
	AudioErr error

	// Image, if set, is rendered twice on new video tracks so they are ready.
	Image image.Image

	// Calls records every request in order.
	Calls []media.Constraints

	// Audio and Video are the most recently created tracks.
	Audio *media.PCMTrack
	Video *media.FrameTrack
}

// GetUserMedia implements media.Devices.
func (d *Devices) GetUserMedia(_ context.Context, c media.Constraints) (*media.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, c)

	if c.Video && d.VideoErr != nil {
		return nil, d.VideoErr
	}
	if c.Audio && d.AudioErr != nil {
		return nil, d.AudioErr
	}

	s := &media.Stream{}
	if c.Audio {
		d.Audio = media.NewPCMTrack(DefaultFormat, nil)
		s.Audio = d.Audio
	}
	if c.Video {
		d.Video = media.NewFrameTrack(nil)
		if d.Image != nil {
			d.Video.Render(d.Image)
			d.Video.Render(d.Image)
		}
		s.Video = d.Video
	}
	return s, nil
}

// CallCount returns the number of GetUserMedia calls so far.
func (d *Devices) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

// Mic returns the latest audio track.
func (d *Devices) Mic() *media.PCMTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Audio
}

// Camera returns the latest video track.
func (d *Devices) Camera() *media.FrameTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Video
}

var _ media.Devices = (*Devices)(nil)
