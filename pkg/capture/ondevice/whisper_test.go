package ondevice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/media"
	sttmock "github.com/eduplay/voiceroom/pkg/provider/stt/mock"
)

type micSource struct{ track *media.PCMTrack }

func (m micSource) Audio() media.AudioFeed {
	if m.track == nil {
		return nil
	}
	return m.track
}

// callbacks collects Handler invocations.
type callbacks struct {
	mu      sync.Mutex
	results []string
	codes   []string
	ended   chan struct{}
}

func newCallbacks() *callbacks { return &callbacks{ended: make(chan struct{}, 4)} }

func (c *callbacks) handler() Handler {
	return Handler{
		OnResult: func(text string, final bool) {
			c.mu.Lock()
			c.results = append(c.results, text)
			c.mu.Unlock()
		},
		OnError: func(code string) {
			c.mu.Lock()
			c.codes = append(c.codes, code)
			c.mu.Unlock()
		},
		OnEnd: func() { c.ended <- struct{}{} },
	}
}

func (c *callbacks) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-c.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEnd never called")
	}
}

func TestWhisperEngine_ForwardsMicAndFinals(t *testing.T) {
	track := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 2}, nil)
	p := &sttmock.Provider{}
	e := NewWhisperEngine(p, micSource{track})
	cb := newCallbacks()

	if err := e.Start(context.Background(), "bn-IN", cb.handler()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := p.StartStreamCalls[0].Cfg; got.Language != "bn-IN" || got.SampleRate != 16000 || got.Channels != 1 {
		t.Errorf("unexpected stream config %+v", got)
	}

	// 10ms of 48k stereo becomes 10ms of 16k mono.
	track.Push(audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 2})
	sess := p.LastSession()
	waitFor(t, "audio", func() bool { return sess.AudioBytes() == 320 })

	sess.EmitFinal("why is the sky blue")
	waitFor(t, "result", func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.results) == 1
	})

	e.Stop()
	cb.waitEnd(t)
	if !sess.Closed() {
		t.Error("session not closed after Stop")
	}
	if len(cb.codes) != 0 {
		t.Errorf("unexpected codes %v", cb.codes)
	}
}

func TestWhisperEngine_NoSpeechTimeout(t *testing.T) {
	track := media.NewPCMTrack(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	e := NewWhisperEngine(&sttmock.Provider{}, micSource{track})
	e.NoSpeechTimeout = 20 * time.Millisecond
	cb := newCallbacks()

	_ = e.Start(context.Background(), "en-US", cb.handler())
	cb.waitEnd(t)
	if len(cb.codes) != 1 || cb.codes[0] != CodeNoSpeech {
		t.Errorf("codes = %v, want [%s]", cb.codes, CodeNoSpeech)
	}
}

func TestWhisperEngine_AudioCaptureErrors(t *testing.T) {
	t.Run("no microphone", func(t *testing.T) {
		e := NewWhisperEngine(&sttmock.Provider{}, micSource{})
		cb := newCallbacks()
		_ = e.Start(context.Background(), "en-US", cb.handler())
		cb.waitEnd(t)
		if len(cb.codes) != 1 || cb.codes[0] != CodeAudioCapture {
			t.Errorf("codes = %v", cb.codes)
		}
	})

	t.Run("session start fails", func(t *testing.T) {
		track := media.NewPCMTrack(audio.Format{SampleRate: 16000, Channels: 1}, nil)
		e := NewWhisperEngine(&sttmock.Provider{StartStreamErr: errors.New("no model")}, micSource{track})
		cb := newCallbacks()
		_ = e.Start(context.Background(), "en-US", cb.handler())
		cb.waitEnd(t)
		if len(cb.codes) != 1 || cb.codes[0] != CodeAudioCapture {
			t.Errorf("codes = %v", cb.codes)
		}
	})

	t.Run("session dies", func(t *testing.T) {
		track := media.NewPCMTrack(audio.Format{SampleRate: 16000, Channels: 1}, nil)
		p := &sttmock.Provider{}
		e := NewWhisperEngine(p, micSource{track})
		cb := newCallbacks()
		_ = e.Start(context.Background(), "en-US", cb.handler())
		p.LastSession().Fail(errors.New("decoder crashed"))
		cb.waitEnd(t)
		if len(cb.codes) != 1 || cb.codes[0] != CodeAudioCapture {
			t.Errorf("codes = %v", cb.codes)
		}
	})
}

func TestWhisperEngine_RejectsSecondStart(t *testing.T) {
	track := media.NewPCMTrack(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	e := NewWhisperEngine(&sttmock.Provider{}, micSource{track})
	cb := newCallbacks()
	_ = e.Start(context.Background(), "en-US", cb.handler())
	if err := e.Start(context.Background(), "en-US", cb.handler()); err == nil {
		t.Error("expected error for second Start")
	}
	e.Stop()
	cb.waitEnd(t)
	e.Stop()
}

func TestWhisperEngine_DrivesProviderRestart(t *testing.T) {
	track := media.NewPCMTrack(audio.Format{SampleRate: 16000, Channels: 1}, nil)
	sp := &sttmock.Provider{}
	e := NewWhisperEngine(sp, micSource{track})
	e.NoSpeechTimeout = 15 * time.Millisecond

	p := New(e, "en", nil, WithRestartDelay(5*time.Millisecond))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "restarts", func() bool { return sp.CallCount() >= 3 })
	_ = p.Stop()

	n := sp.CallCount()
	time.Sleep(50 * time.Millisecond)
	if sp.CallCount() != n {
		t.Error("engine restarted after Stop")
	}
}
