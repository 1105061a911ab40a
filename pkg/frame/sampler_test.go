package frame_test

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"

	"github.com/eduplay/voiceroom/pkg/frame"
	"github.com/eduplay/voiceroom/pkg/media"
	"github.com/eduplay/voiceroom/pkg/media/mock"
)

func acquired(t *testing.T, d *mock.Devices) *media.Source {
	t.Helper()
	src := media.NewSource(d)
	if err := src.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(src.Release)
	return src
}

func TestCaptureFrame(t *testing.T) {
	t.Parallel()

	src := acquired(t, &mock.Devices{Image: image.NewRGBA(image.Rect(0, 0, 1280, 720))})
	f, ok := frame.New(src).CaptureFrame()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.MIMEType != frame.MIMEJPEG {
		t.Errorf("MIMEType = %q", f.MIMEType)
	}
	if f.Width != 640 || f.Height != 360 {
		t.Errorf("size = %dx%d, want 640x360", f.Width, f.Height)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 640 {
		t.Errorf("encoded width = %d", cfg.Width)
	}
}

func TestCaptureFrame_SmallImageNotScaled(t *testing.T) {
	t.Parallel()

	src := acquired(t, &mock.Devices{Image: image.NewRGBA(image.Rect(0, 0, 320, 240))})
	f, ok := frame.New(src, frame.WithQuality(50)).CaptureFrame()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.Width != 320 || f.Height != 240 {
		t.Errorf("size = %dx%d, want 320x240", f.Width, f.Height)
	}
}

func TestCaptureFrame_None(t *testing.T) {
	t.Parallel()

	t.Run("no camera", func(t *testing.T) {
		t.Parallel()
		src := acquired(t, &mock.Devices{VideoErr: media.NewDeviceError(media.NotFound, media.Constraints{Video: true}, nil)})
		s := frame.New(src)
		for range 3 {
			if _, ok := s.CaptureFrame(); ok {
				t.Fatal("expected no frame")
			}
		}
	})

	t.Run("not enough ready frames", func(t *testing.T) {
		t.Parallel()
		d := &mock.Devices{}
		src := acquired(t, d)
		d.Camera().Render(image.NewRGBA(image.Rect(0, 0, 4, 4)))
		if _, ok := frame.New(src).CaptureFrame(); ok {
			t.Fatal("expected no frame after one render")
		}
		d.Camera().Render(image.NewRGBA(image.Rect(0, 0, 4, 4)))
		if _, ok := frame.New(src).CaptureFrame(); !ok {
			t.Fatal("expected a frame after two renders")
		}
	})

	t.Run("video disabled", func(t *testing.T) {
		t.Parallel()
		src := acquired(t, &mock.Devices{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))})
		if err := src.SetTrackEnabled(media.KindVideo, false); err != nil {
			t.Fatal(err)
		}
		if _, ok := frame.New(src).CaptureFrame(); ok {
			t.Fatal("expected no frame while video is disabled")
		}
	})

	t.Run("released source", func(t *testing.T) {
		t.Parallel()
		src := acquired(t, &mock.Devices{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))})
		src.Release()
		if _, ok := frame.New(src).CaptureFrame(); ok {
			t.Fatal("expected no frame after release")
		}
	})
}
