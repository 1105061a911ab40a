// Package playback speaks the agent's replies: it synthesises text through a
// tts.Provider and plays the audio on a Player, reporting completion exactly
// once per call however the attempt ends.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/eduplay/voiceroom/internal/observe"
	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

// DefaultSynthesisTimeout bounds one synthesis request.
const DefaultSynthesisTimeout = 15 * time.Second

// Player renders PCM. pkg/audio/device.Player is the production
// implementation.
type Player interface {
	// Play blocks until frame has been played, ctx is done or Stop is called.
	Play(ctx context.Context, frame audio.AudioFrame) error
	// Stop interrupts the current Play.
	Stop()
}

// Option configures a Speaker.
type Option func(*Speaker)

// WithSynthesisTimeout overrides [DefaultSynthesisTimeout].
func WithSynthesisTimeout(d time.Duration) Option {
	return func(s *Speaker) { s.synthTimeout = d }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// WithProviderName labels metrics and logs. Defaults to "tts".
func WithProviderName(name string) Option {
	return func(s *Speaker) { s.provider = name }
}

// WithSoundEnabled sets the initial sound state. Sound starts enabled.
func WithSoundEnabled(on bool) Option {
	return func(s *Speaker) { s.sound = on }
}

// Speaker is the speech output of one session. At most one utterance plays
// at a time; a new Speak interrupts the previous one.
type Speaker struct {
	tts          tts.Provider
	player       Player
	synthTimeout time.Duration
	metrics      *observe.Metrics
	provider     string

	mu     sync.Mutex
	sound  bool
	gen    uint64
	cancel context.CancelFunc

	wg sync.WaitGroup
}

// New returns a Speaker synthesising with p and playing on player.
func New(p tts.Provider, player Player, opts ...Option) *Speaker {
	s := &Speaker{
		tts:          p,
		player:       player,
		synthTimeout: DefaultSynthesisTimeout,
		provider:     "tts",
		sound:        true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Speak says text in voiceID and returns immediately. onComplete runs
// exactly once, on its own goroutine, when playback finishes, fails, is
// stopped or ctx ends. With sound disabled it runs without contacting the
// synthesis service.
func (s *Speaker) Speak(ctx context.Context, text, voiceID string, onComplete func()) {
	var once sync.Once
	complete := func() {
		once.Do(func() {
			if onComplete != nil {
				onComplete()
			}
		})
	}

	s.mu.Lock()
	if !s.sound {
		s.mu.Unlock()
		s.wg.Go(complete)
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Go(func() {
		defer complete()
		defer s.release(gen, cancel)
		s.say(ctx, text, voiceID)
	})
}

func (s *Speaker) release(gen uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	if s.gen == gen {
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *Speaker) say(ctx context.Context, text, voiceID string) {
	log := observe.Logger(ctx).With("provider", s.provider)

	frame, err := s.synthesize(ctx, text, voiceID)
	if err != nil {
		if ctx.Err() == nil || errors.Is(err, context.DeadlineExceeded) {
			log.Warn("playback: synthesis failed", "err", err)
		}
		return
	}

	if err := s.player.Play(ctx, frame); err != nil && ctx.Err() == nil {
		log.Warn("playback: play failed", "err", err)
	}
}

func (s *Speaker) synthesize(ctx context.Context, text, voiceID string) (audio.AudioFrame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.synthTimeout)
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "playback.synthesize")
	span.SetAttributes(attribute.String("provider", s.provider), attribute.String("voice_id", voiceID))

	start := time.Now()
	frame, err := s.tts.Synthesize(ctx, text, voiceID)
	s.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.provider, "tts", "error")
		s.metrics.RecordProviderError(ctx, s.provider, "tts")
		return audio.AudioFrame{}, err
	}
	s.metrics.RecordProviderRequest(ctx, s.provider, "tts", "ok")
	return frame, nil
}

// Stop interrupts the current utterance. Its onComplete still runs.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.player.Stop()
	}
}

// SetSoundEnabled toggles speech output. Disabling it interrupts the current
// utterance.
func (s *Speaker) SetSoundEnabled(on bool) {
	s.mu.Lock()
	s.sound = on
	s.mu.Unlock()
	if !on {
		s.Stop()
	}
}

// SoundEnabled reports whether speech output is on.
func (s *Speaker) SoundEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sound
}

// Close stops playback and waits for outstanding completions.
func (s *Speaker) Close() {
	s.Stop()
	s.wg.Wait()
}

