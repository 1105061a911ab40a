// Package frame captures single still frames from the camera feed for use as
// visual context in a generation request.
package frame

import (
	"bytes"
	"image"
	"image/jpeg"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/eduplay/voiceroom/pkg/media"
)

// MIMEJPEG is the MIME type of every encoded frame.
const MIMEJPEG = "image/jpeg"

const (
	defaultMaxWidth = 640
	defaultQuality  = 80

	// minReadyFrames is how many frames the camera must have rendered before
	// its picture is trusted.
	minReadyFrames = 2
)

// Frame is one encoded still image.
type Frame struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// FeedSource yields the current camera feed, or nil when there is none.
type FeedSource interface {
	Video() media.VideoFeed
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithMaxWidth caps the encoded width; taller-than-wide pictures are scaled
// by the same factor. Zero or negative disables scaling.
func WithMaxWidth(w int) Option {
	return func(s *Sampler) { s.maxWidth = w }
}

// WithQuality sets the JPEG quality (1-100).
func WithQuality(q int) Option {
	return func(s *Sampler) {
		if q >= 1 && q <= 100 {
			s.quality = q
		}
	}
}

// Sampler captures frames on demand. It is safe for concurrent use.
type Sampler struct {
	src      FeedSource
	maxWidth int
	quality  int
}

// New returns a Sampler reading from src.
func New(src FeedSource, opts ...Option) *Sampler {
	s := &Sampler{src: src, maxWidth: defaultMaxWidth, quality: defaultQuality}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CaptureFrame returns the current camera picture, or false when no usable
// picture exists: no camera, camera disabled or stopped, or fewer than two
// frames rendered. Failures are logged and reported as false.
func (s *Sampler) CaptureFrame() (*Frame, bool) {
	feed := s.src.Video()
	if feed == nil || !feed.Enabled() || !feed.Live() || feed.ReadyFrames() < minReadyFrames {
		return nil, false
	}

	img, err := feed.Snapshot()
	if err != nil {
		slog.Warn("frame: snapshot failed", "err", err)
		return nil, false
	}
	img = s.scale(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		slog.Warn("frame: jpeg encode failed", "err", err)
		return nil, false
	}

	b := img.Bounds()
	return &Frame{
		Data:     buf.Bytes(),
		MIMEType: MIMEJPEG,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, true
}

func (s *Sampler) scale(img image.Image) image.Image {
	b := img.Bounds()
	if s.maxWidth <= 0 || b.Dx() <= s.maxWidth {
		return img
	}
	h := b.Dy() * s.maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, s.maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
