package deepgram

import (
	"context"
	"errors"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"

	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

type fakeClient struct {
	c        *collector
	connect  bool
	chunks   [][]byte
	ackFlush bool
	fail     *msginterfaces.ErrorResponse

	spoken  string
	stopped bool
}

func (f *fakeClient) Connect() bool { return f.connect }

func (f *fakeClient) SpeakWithText(text string) error {
	f.spoken = text
	for _, b := range f.chunks {
		_ = f.c.Binary(b)
	}
	return nil
}

func (f *fakeClient) Flush() error {
	switch {
	case f.fail != nil:
		_ = f.c.Error(f.fail)
	case f.ackFlush:
		_ = f.c.Flush(&msginterfaces.FlushedResponse{})
	}
	return nil
}

func (f *fakeClient) Stop() { f.stopped = true }

func newTestProvider(t *testing.T, fc *fakeClient, opts ...Option) (*Provider, *clientinterfaces.WSSpeakOptions) {
	t.Helper()
	p, err := New("key", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var got clientinterfaces.WSSpeakOptions
	p.dial = func(_ context.Context, _ string, o *clientinterfaces.WSSpeakOptions, c *collector) (wsClient, error) {
		got = *o
		fc.c = c
		return fc, nil
	}
	return p, &got
}

func TestSynthesize_FlushAcknowledged(t *testing.T) {
	fc := &fakeClient{connect: true, ackFlush: true, chunks: [][]byte{{1, 0}, {2, 0, 3}}}
	p, opts := newTestProvider(t, fc)

	frame, err := p.Synthesize(context.Background(), " Great job! ", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if fc.spoken != "Great job!" {
		t.Errorf("spoken = %q", fc.spoken)
	}
	if !fc.stopped {
		t.Error("client not stopped")
	}
	if opts.Model != defaultModel || opts.Encoding != "linear16" || opts.SampleRate != defaultSampleRate {
		t.Errorf("options = %+v", *opts)
	}
	if len(frame.Data) != 4 || frame.SampleRate != defaultSampleRate || frame.Channels != 1 {
		t.Errorf("frame = %d bytes %dHz %dch", len(frame.Data), frame.SampleRate, frame.Channels)
	}
}

func TestSynthesize_VoiceSelectsModel(t *testing.T) {
	fc := &fakeClient{connect: true, ackFlush: true, chunks: [][]byte{{0, 0}}}
	p, opts := newTestProvider(t, fc)

	if _, err := p.Synthesize(context.Background(), "hi", "aura-2-orion-en"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if opts.Model != "aura-2-orion-en" {
		t.Errorf("model = %q", opts.Model)
	}
}

func TestSynthesize_IdleWithoutAck(t *testing.T) {
	fc := &fakeClient{connect: true, chunks: [][]byte{{1, 0}}}
	p, _ := newTestProvider(t, fc, WithIdleTimeout(40*time.Millisecond))

	start := time.Now()
	frame, err := p.Synthesize(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(frame.Data) != 2 {
		t.Errorf("expected 2 bytes, got %d", len(frame.Data))
	}
	if time.Since(start) > 2*time.Second {
		t.Error("idle timeout did not end synthesis")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	fc := &fakeClient{connect: true, fail: &msginterfaces.ErrorResponse{}}
	p, _ := newTestProvider(t, fc)

	if _, err := p.Synthesize(context.Background(), "hi", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	fc := &fakeClient{connect: true, ackFlush: true}
	p, _ := newTestProvider(t, fc)

	if _, err := p.Synthesize(context.Background(), "hi", ""); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}

func TestSynthesize_ConnectFailure(t *testing.T) {
	fc := &fakeClient{connect: false}
	p, _ := newTestProvider(t, fc)

	if _, err := p.Synthesize(context.Background(), "hi", ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	fc := &fakeClient{connect: true}
	p, _ := newTestProvider(t, fc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Synthesize(ctx, "hi", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "", ""); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
}
