package media

import (
	"errors"
	"image"
	"sync"

	"github.com/eduplay/voiceroom/pkg/audio"
)

// PCMTrack is an [AudioTrack] fed by Push. Device implementations push
// captured frames; subscribers only receive them while the track is enabled
// and live.
type PCMTrack struct {
	format audio.Format
	onStop func()

	mu      sync.RWMutex
	enabled bool
	live    bool
	nextID  int
	subs    map[int]func(audio.AudioFrame)
	stopped sync.Once
}

// NewPCMTrack returns an enabled, live track in format f. onStop, if set,
// runs once when the track is stopped.
func NewPCMTrack(f audio.Format, onStop func()) *PCMTrack {
	return &PCMTrack{
		format:  f,
		onStop:  onStop,
		enabled: true,
		live:    true,
		subs:    make(map[int]func(audio.AudioFrame)),
	}
}

func (t *PCMTrack) Kind() TrackKind { return KindAudio }
func (t *PCMTrack) Format() audio.Format { return t.format }

func (t *PCMTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *PCMTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *PCMTrack) Live() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

func (t *PCMTrack) Stop() {
	t.stopped.Do(func() {
		t.mu.Lock()
		t.live = false
		clear(t.subs)
		t.mu.Unlock()
		if t.onStop != nil {
			t.onStop()
		}
	})
}

func (t *PCMTrack) Subscribe(fn func(audio.AudioFrame)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Push delivers frame to every subscriber if the track is enabled and live.
func (t *PCMTrack) Push(frame audio.AudioFrame) {
	t.mu.RLock()
	if !t.enabled || !t.live {
		t.mu.RUnlock()
		return
	}
	fns := make([]func(audio.AudioFrame), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(frame)
	}
}

var _ AudioTrack = (*PCMTrack)(nil)

// errNoFrame is returned by Snapshot before the first Render.
var errNoFrame = errors.New("media: no frame rendered")

// FrameTrack is a [VideoTrack] fed by Render.
type FrameTrack struct {
	onStop func()

	mu      sync.RWMutex
	enabled bool
	live    bool
	ready   int
	current image.Image
	stopped sync.Once
}

// NewFrameTrack returns an enabled, live video track with no frames yet.
func NewFrameTrack(onStop func()) *FrameTrack {
	return &FrameTrack{onStop: onStop, enabled: true, live: true}
}

func (t *FrameTrack) Kind() TrackKind { return KindVideo }

func (t *FrameTrack) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *FrameTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *FrameTrack) Live() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

func (t *FrameTrack) Stop() {
	t.stopped.Do(func() {
		t.mu.Lock()
		t.live = false
		t.mu.Unlock()
		if t.onStop != nil {
			t.onStop()
		}
	})
}

// Render records img as the current frame.
func (t *FrameTrack) Render(img image.Image) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.live {
		return
	}
	t.current = img
	t.ready++
}

func (t *FrameTrack) ReadyFrames() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

func (t *FrameTrack) Snapshot() (image.Image, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil, errNoFrame
	}
	return t.current, nil
}

var _ VideoTrack = (*FrameTrack)(nil)
