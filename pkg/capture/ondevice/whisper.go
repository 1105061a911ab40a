package ondevice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/provider/stt"
)

// DefaultNoSpeechTimeout ends a session that produced no final transcript.
const DefaultNoSpeechTimeout = 8 * time.Second

// recognizerFormat is what the local recognizer consumes.
var recognizerFormat = audio.Format{SampleRate: 16000, Channels: 1}

var _ Engine = (*WhisperEngine)(nil)

// WhisperEngine is an [Engine] backed by a local stt.Provider fed from the
// microphone.
type WhisperEngine struct {
	stt             stt.Provider
	mic             capture.AudioSource
	NoSpeechTimeout time.Duration

	mu  sync.Mutex
	run *whisperRun
}

// NewWhisperEngine returns an engine transcribing mic with p.
func NewWhisperEngine(p stt.Provider, mic capture.AudioSource) *WhisperEngine {
	return &WhisperEngine{stt: p, mic: mic, NoSpeechTimeout: DefaultNoSpeechTimeout}
}

type whisperRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start opens a recognizer session. Device problems are reported as
// CodeAudioCapture through h rather than returned.
func (e *WhisperEngine) Start(ctx context.Context, locale string, h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run != nil {
		return errors.New("ondevice: engine already running")
	}

	rctx, cancel := context.WithCancel(ctx)
	run := &whisperRun{cancel: cancel, done: make(chan struct{})}
	e.run = run

	feed := e.mic.Audio()
	if feed == nil {
		go e.finish(run, h, CodeAudioCapture)
		return nil
	}
	sess, err := e.stt.StartStream(rctx, stt.StreamConfig{
		SampleRate: recognizerFormat.SampleRate,
		Channels:   recognizerFormat.Channels,
		Language:   locale,
	})
	if err != nil {
		slog.Warn("ondevice: recognizer session failed", "err", err)
		go e.finish(run, h, CodeAudioCapture)
		return nil
	}

	conv := audio.NewConverter(recognizerFormat)
	unsubscribe := feed.Subscribe(func(f audio.AudioFrame) {
		if f = conv.Convert(f); len(f.Data) > 0 {
			_ = sess.SendAudio(f.Data)
		}
	})

	go func() {
		code := e.pump(rctx, sess, h)
		unsubscribe()
		_ = sess.Close()
		e.finish(run, h, code)
	}()
	return nil
}

// Stop ends the current session and waits for its OnEnd callback.
func (e *WhisperEngine) Stop() {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	if run == nil {
		return
	}
	run.cancel()
	<-run.done
}

// pump forwards finals until the session ends, the context is cancelled or
// nothing final arrives within NoSpeechTimeout. It returns an error code or
// "".
func (e *WhisperEngine) pump(ctx context.Context, sess stt.SessionHandle, h Handler) string {
	timeout := e.NoSpeechTimeout
	if timeout <= 0 {
		timeout = DefaultNoSpeechTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	finals := sess.Finals()
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-timer.C:
			return CodeNoSpeech
		case tr, ok := <-finals:
			if !ok {
				if err := sess.Err(); err != nil && ctx.Err() == nil {
					slog.Warn("ondevice: recognizer session died", "err", fmt.Errorf("ondevice: %w", err))
					return CodeAudioCapture
				}
				return ""
			}
			if h.OnResult != nil {
				h.OnResult(tr.Text, true)
			}
			timer.Reset(timeout)
		}
	}
}

func (e *WhisperEngine) finish(run *whisperRun, h Handler, code string) {
	if code != "" && h.OnError != nil {
		h.OnError(code)
	}
	e.mu.Lock()
	if e.run == run {
		e.run = nil
	}
	e.mu.Unlock()
	run.cancel()
	close(run.done)
	if h.OnEnd != nil {
		h.OnEnd()
	}
}
