// Package local implements [media.Devices] on the host machine: the
// microphone through miniaudio and a camera fed from a still image file.
package local

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/audio/device"
	"github.com/eduplay/voiceroom/pkg/media"
)

const (
	defaultSampleRate = 48000
	defaultCameraFPS  = 10
)

// Config controls which host devices are used.
type Config struct {
	// SampleRate of the microphone in Hz. Defaults to 48000.
	SampleRate int

	// CameraImage is a JPEG or PNG served as the camera picture. Empty means
	// no camera is attached.
	CameraImage string

	// CameraFPS is how often the camera renders a frame. Defaults to 10.
	CameraFPS int
}

// Devices grants the host microphone and the configured camera.
type Devices struct {
	cfg Config

	mu  sync.Mutex
	ctx *device.Context
}

// New returns host devices for cfg. Call Close when done.
func New(cfg Config) *Devices {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.CameraFPS <= 0 {
		cfg.CameraFPS = defaultCameraFPS
	}
	return &Devices{cfg: cfg}
}

// GetUserMedia implements media.Devices.
func (d *Devices) GetUserMedia(_ context.Context, c media.Constraints) (*media.Stream, error) {
	s := &media.Stream{}

	if c.Video {
		img, err := d.loadImage(c)
		if err != nil {
			return nil, err
		}
		s.Video = newStillCamera(img, d.cfg.CameraFPS)
	}

	if c.Audio {
		mic, err := d.openMic(c)
		if err != nil {
			if s.Video != nil {
				s.Video.Stop()
			}
			return nil, err
		}
		s.Audio = mic
	}
	return s, nil
}

func (d *Devices) loadImage(c media.Constraints) (image.Image, error) {
	if d.cfg.CameraImage == "" {
		return nil, media.NewDeviceError(media.NotFound, c, errors.New("no camera configured"))
	}
	f, err := os.Open(d.cfg.CameraImage)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, media.NewDeviceError(media.NotFound, c, err)
		case errors.Is(err, fs.ErrPermission):
			return nil, media.NewDeviceError(media.PermissionDenied, c, err)
		default:
			return nil, media.NewDeviceError(media.NotReadable, c, err)
		}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, media.NewDeviceError(media.NotReadable, c, fmt.Errorf("decode %s: %w", d.cfg.CameraImage, err))
	}
	return img, nil
}

func (d *Devices) openMic(c media.Constraints) (media.AudioTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		ctx, err := device.Open()
		if err != nil {
			return nil, media.NewDeviceError(media.NotReadable, c, err)
		}
		d.ctx = ctx
	}

	format := audio.Format{SampleRate: d.cfg.SampleRate, Channels: 1}
	var capture *device.Capture
	track := media.NewPCMTrack(format, func() {
		if capture != nil {
			_ = capture.Stop()
			_ = capture.Close()
		}
	})

	capture, err := device.NewCapture(d.ctx, format, track.Push)
	if err != nil {
		return nil, media.NewDeviceError(media.NotReadable, c, err)
	}
	if err := capture.Start(); err != nil {
		_ = capture.Close()
		return nil, media.NewDeviceError(media.NotReadable, c, err)
	}
	slog.Debug("local: microphone opened", "format", format.String())
	return track, nil
}

// Close releases the audio backend. Tracks must be stopped first.
func (d *Devices) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		err := d.ctx.Close()
		d.ctx = nil
		return err
	}
	return nil
}

// newStillCamera renders img at fps until the track is stopped.
func newStillCamera(img image.Image, fps int) *media.FrameTrack {
	done := make(chan struct{})
	track := media.NewFrameTrack(func() { close(done) })

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				track.Render(img)
			}
		}
	}()
	return track
}

var _ media.Devices = (*Devices)(nil)
