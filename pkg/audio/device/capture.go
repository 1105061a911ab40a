package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/eduplay/voiceroom/pkg/audio"
)

// Capture is a running microphone. Frames are delivered on the miniaudio
// callback goroutine; handlers must not block.
type Capture struct {
	mu      sync.Mutex
	dev     *malgo.Device
	format  audio.Format
	onFrame func(audio.AudioFrame)
	frames  int64
}

// NewCapture opens the default capture device in format f. Frames are
// delivered to onFrame once Start has been called.
func NewCapture(ctx *Context, f audio.Format, onFrame func(audio.AudioFrame)) (*Capture, error) {
	c := &Capture{format: f, onFrame: onFrame}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency
	cfg.PeriodSizeInFrames = uint32(f.SampleRate / 100)
	cfg.Periods = 3

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * f.Channels
	dev, err := malgo.InitDevice(ctx.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(in) < n {
				return
			}
			c.deliver(in[:n], int64(frameCount))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device: init capture: %w", err)
	}
	c.dev = dev
	return c, nil
}

func (c *Capture) deliver(pcm []byte, frameCount int64) {
	data := make([]byte, len(pcm))
	copy(data, pcm)

	c.mu.Lock()
	ts := time.Duration(c.frames) * time.Second / time.Duration(c.format.SampleRate)
	c.frames += frameCount
	c.mu.Unlock()

	c.onFrame(audio.AudioFrame{
		Data:       data,
		SampleRate: c.format.SampleRate,
		Channels:   c.format.Channels,
		Timestamp:  ts,
	})
}

// Format reports the PCM format delivered to the frame handler.
func (c *Capture) Format() audio.Format { return c.format }

// Start begins delivering frames.
func (c *Capture) Start() error {
	if c.dev.IsStarted() {
		return nil
	}
	if err := c.dev.Start(); err != nil {
		return fmt.Errorf("device: start capture: %w", err)
	}
	return nil
}

// Stop pauses the device without releasing it.
func (c *Capture) Stop() error {
	if !c.dev.IsStarted() {
		return nil
	}
	if err := c.dev.Stop(); err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// Close releases the device.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev != nil {
		c.dev.Uninit()
		c.dev = nil
	}
	return nil
}
