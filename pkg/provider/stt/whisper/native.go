// Package whisper provides an on-device STT provider backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH.
//
// whisper.cpp is not a streaming recognizer, so each session segments the
// incoming PCM on silence and runs one inference per segment. Every segment
// produces one final transcript.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/provider/stt"
)

var _ stt.Provider = (*NativeProvider)(nil)

// inferFunc turns a mono PCM segment into text.
type inferFunc func(samples []float32, language string) (string, error)

// NativeProvider implements stt.Provider with whisper.cpp. The model is
// loaded once and shared across sessions.
type NativeProvider struct {
	model    whisperlib.Model
	language string

	sampleRate          int
	silenceThresholdMs  int
	maxBufferDurationMs int
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default language (e.g. "en", "bn").
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSampleRate sets the default PCM sample rate in Hz.
func WithNativeSampleRate(rate int) NativeOption {
	return func(p *NativeProvider) { p.sampleRate = rate }
}

// WithNativeSilenceThresholdMs sets the trailing silence that closes a
// segment. Defaults to 500 ms.
func WithNativeSilenceThresholdMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.silenceThresholdMs = ms }
}

// WithNativeMaxBufferDurationMs sets the longest segment before a forced
// flush. Defaults to 10 s.
func WithNativeMaxBufferDurationMs(ms int) NativeOption {
	return func(p *NativeProvider) { p.maxBufferDurationMs = ms }
}

// NewNative loads the model at modelPath. Call Close when done.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:               model,
		language:            defaultLanguage,
		sampleRate:          defaultSampleRate,
		silenceThresholdMs:  defaultSilenceThresholdMs,
		maxBufferDurationMs: defaultMaxBufferDurationMs,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new transcription session. Zero fields in cfg fall
// back to the provider defaults. Region subtags are dropped from
// cfg.Language since whisper only knows base languages.
func (p *NativeProvider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: start stream: %w", err)
	}

	lang := baseLanguage(cfg.Language)
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	return startSession(ctx, p.infer, lang, sr, ch, p.silenceThresholdMs, p.maxBufferDurationMs), nil
}

// infer runs one whisper.cpp pass on samples using a fresh context. Contexts
// are not thread-safe but the model is.
func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// baseLanguage maps "bn-IN" to "bn".
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}

// ---- nativeSession ----------------------------------------------------------

// nativeSession is a live whisper transcription session. Segmentation state
// is confined to the processLoop goroutine.
type nativeSession struct {
	infer    inferFunc
	language string
	channels int
	seg      *segmenter
	start    time.Time

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func startSession(ctx context.Context, infer inferFunc, lang string, sampleRate, channels, silenceMs, maxBufferMs int) *nativeSession {
	s := &nativeSession{
		infer:    infer,
		language: lang,
		channels: channels,
		seg:      newSegmenter(sampleRate, channels, silenceMs, maxBufferMs),
		start:    time.Now(),
		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s
}

// SendAudio queues 16-bit LE PCM for segmentation.
func (s *nativeSession) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return stt.ErrSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return stt.ErrSessionClosed
	}
}

// Partials is never written to; whisper has no interim results.
func (s *nativeSession) Partials() <-chan stt.Transcript { return s.partials }

func (s *nativeSession) Finals() <-chan stt.Transcript { return s.finals }

// Err reports the context error when the session ended because its
// context was cancelled.
func (s *nativeSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close flushes pending speech, closes the channels and waits for the
// worker to exit.
func (s *nativeSession) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *nativeSession) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		select {
		case <-ctx.Done():
			s.errMu.Lock()
			s.err = ctx.Err()
			s.errMu.Unlock()
			return
		case <-s.done:
			s.emit(s.seg.flush())
			return
		case chunk := <-s.audioCh:
			s.emit(s.seg.push(chunk))
		}
	}
}

func (s *nativeSession) emit(pcm []byte) {
	if pcm == nil {
		return
	}
	text, err := s.infer(audio.MonoFloat32s(pcm, s.channels), s.language)
	if err != nil {
		slog.Error("whisper native inference failed", "err", err)
		return
	}
	if text == "" {
		return
	}
	select {
	case s.finals <- stt.Transcript{Text: text, IsFinal: true, Timestamp: time.Since(s.start)}:
	default:
		slog.Warn("whisper: finals channel full, dropping transcript")
	}
}

var _ stt.SessionHandle = (*nativeSession)(nil)
