package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/eduplay/voiceroom/pkg/audio"
)

// ErrInterrupted is returned by Play when Stop cut the playback short.
var ErrInterrupted = errors.New("device: playback interrupted")

// Player writes PCM to the default output device. One Play call runs at a
// time; Stop interrupts it.
type Player struct {
	dev    *malgo.Device
	format audio.Format

	playMu sync.Mutex // serialises Play calls

	mu      sync.Mutex
	pending []byte
	drained chan struct{}
	stopped bool
}

// NewPlayer opens the default playback device in format f and starts it.
func NewPlayer(ctx *Context, f audio.Format) (*Player, error) {
	p := &Player{format: f}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(f.SampleRate / 10)
	cfg.Periods = 4

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * f.Channels
	dev, err := malgo.InitDevice(ctx.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.fill(out, int(frameCount)*bytesPerFrame)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("device: init playback: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	p.dev = dev
	return p, nil
}

// fill runs on the miniaudio callback goroutine.
func (p *Player) fill(out []byte, need int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(out[:min(need, len(out))], p.pending)
	clear(out[n:min(need, len(out))])
	p.pending = p.pending[n:]
	if len(p.pending) == 0 && p.drained != nil {
		close(p.drained)
		p.drained = nil
	}
}

// Format reports the device output format.
func (p *Player) Format() audio.Format { return p.format }

// Play queues frame for output and blocks until it has been handed to the
// device, ctx is done, or Stop is called. Frames in another format are
// converted first.
func (p *Player) Play(ctx context.Context, frame audio.AudioFrame) error {
	p.playMu.Lock()
	defer p.playMu.Unlock()

	pcm := audio.NewConverter(p.format).Convert(frame).Data
	if len(pcm) == 0 {
		return nil
	}

	done := make(chan struct{})
	p.mu.Lock()
	p.stopped = false
	p.pending = append(p.pending[:0], pcm...)
	p.drained = done
	p.mu.Unlock()

	select {
	case <-done:
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return ErrInterrupted
		}
		return nil
	case <-ctx.Done():
		p.Stop()
		return ctx.Err()
	}
}

// Stop discards queued audio and releases a blocked Play.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	if p.drained != nil {
		p.stopped = true
		close(p.drained)
		p.drained = nil
	}
}

// Close stops and releases the device.
func (p *Player) Close() error {
	p.Stop()
	if p.dev != nil {
		p.dev.Uninit()
		p.dev = nil
	}
	return nil
}
