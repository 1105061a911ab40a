package room

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/media"
	sttmock "github.com/eduplay/voiceroom/pkg/provider/stt/mock"
)

// ---- fakes ----

type fakeSink struct {
	mu      sync.Mutex
	packets [][]byte
}

func (s *fakeSink) WriteOpus(packet []byte, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, packet)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

type fakeSession struct {
	mu         sync.Mutex
	sink       *fakeSink
	publishErr error
	left       int
}

func (s *fakeSession) PublishAudio(channels int) (AudioSink, error) {
	if s.publishErr != nil {
		return nil, s.publishErr
	}
	return s.sink, nil
}

func (s *fakeSession) Leave() {
	s.mu.Lock()
	s.left++
	s.mu.Unlock()
}

func (s *fakeSession) leftCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.left
}

type fakeTransport struct {
	mu       sync.Mutex
	joinErr  error
	joins    int
	tokens   []string
	handlers []Handler
	sessions []*fakeSession
}

func (f *fakeTransport) Join(ctx context.Context, url, token string, h Handler) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.joinErr != nil {
		return nil, f.joinErr
	}
	f.tokens = append(f.tokens, token)
	f.handlers = append(f.handlers, h)
	s := &fakeSession{sink: &fakeSink{}}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeTransport) setJoinErr(err error) {
	f.mu.Lock()
	f.joinErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins
}

func (f *fakeTransport) last() (Handler, *fakeSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[len(f.handlers)-1], f.sessions[len(f.sessions)-1]
}

// fakeRemote yields queued packets, then io.EOF once closed.
type fakeRemote struct {
	packets chan []byte
}

func (r *fakeRemote) ID() string { return "TR_remote" }
func (r *fakeRemote) Channels() int { return 1 }

func (r *fakeRemote) ReadPacket() ([]byte, error) {
	pkt, ok := <-r.packets
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

// passthrough treats a packet as 48 kHz mono PCM so tests avoid libopus.
type passthrough struct{}

func (passthrough) Encode(pcm []byte) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	return [][]byte{pcm}, nil
}

func (passthrough) Decode(packet []byte) (audio.AudioFrame, error) {
	return audio.AudioFrame{Data: packet, SampleRate: 48000, Channels: 1}, nil
}

type micSource struct{ track *media.PCMTrack }

func (m micSource) Audio() media.AudioFeed {
	if m.track == nil {
		return nil
	}
	return m.track
}

type recorder struct {
	mu     sync.Mutex
	events []capture.Event
}

func (r *recorder) sink(ev capture.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(pred func(capture.Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if pred(ev) {
			n++
		}
	}
	return n
}

func isUtterance(ev capture.Event) bool { return ev.Utterance != nil }
func isTransport(ev capture.Event) bool { return ev.Transport != nil }
func isErr(ev capture.Event) bool { return ev.Err != nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var testConfig = Config{
	URL:        "wss://rooms.test",
	APIKey:     "key",
	APISecret:  "a-secret-that-is-long-enough-for-hs256",
	Room:       "story-time",
	Identity:   "child-1",
	Backoff:    time.Millisecond,
	MaxBackoff: 2 * time.Millisecond,
}

func newTestProvider(cfg Config, tr Transport, sp *sttmock.Provider, mic *media.PCMTrack, rec *recorder) *Provider {
	var sink capture.Sink
	if rec != nil {
		sink = rec.sink
	}
	p := New(cfg, tr, sp, micSource{mic}, "bn", sink)
	p.newEncoder = func(int) (encoder, error) { return passthrough{}, nil }
	p.newDecoder = func(int) (decoder, error) { return passthrough{}, nil }
	return p
}

// ---- tests ----

func TestProvider_JoinPublishesAndTranscribes(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	sp := &sttmock.Provider{}
	rec := &recorder{}
	p := newTestProvider(testConfig, tr, sp, mic, rec)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	if !p.Connected() {
		t.Fatal("expected Connected")
	}
	if cfg := sp.StartStreamCalls[0].Cfg; cfg.Language != "bn-IN" || cfg.SampleRate != 16000 {
		t.Errorf("unexpected recognizer config %+v", cfg)
	}
	if tr.tokens[0] == "" {
		t.Error("empty token")
	}

	// Mic is published.
	h, sess := tr.last()
	mic.Push(audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 1})
	if sess.sink.count() != 1 {
		t.Errorf("published %d packets, want 1", sess.sink.count())
	}

	// Remote audio reaches the recognizer at 16 kHz.
	remote := &fakeRemote{packets: make(chan []byte, 4)}
	h.OnRemoteAudio(remote)
	remote.packets <- make([]byte, 1920)
	stt := sp.LastSession()
	waitFor(t, "remote audio", func() bool { return stt.AudioBytes() == 640 })

	stt.EmitPartial("once upon")
	stt.EmitFinal(" once upon a time ")
	waitFor(t, "utterance", func() bool { return rec.count(isUtterance) == 1 })
	close(remote.packets)
}

func TestProvider_DisconnectRejoins(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	sp := &sttmock.Provider{}
	rec := &recorder{}
	p := newTestProvider(testConfig, tr, sp, mic, rec)
	_ = p.Start(context.Background())
	defer p.Close()

	h, first := tr.last()
	firstSTT := sp.LastSession()
	h.OnDisconnected()

	waitFor(t, "rejoin", func() bool { return rec.count(isTransport) == 3 })
	if tr.joinCount() != 2 {
		t.Errorf("joins = %d, want 2", tr.joinCount())
	}
	if first.leftCount() != 1 || !firstSTT.Closed() {
		t.Error("old connection not torn down")
	}
	if !p.Connected() {
		t.Error("expected Connected after rejoin")
	}
}

func TestProvider_RecognizerDeathRejoins(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	sp := &sttmock.Provider{}
	rec := &recorder{}
	p := newTestProvider(testConfig, tr, sp, mic, rec)
	_ = p.Start(context.Background())
	defer p.Close()

	sp.LastSession().Fail(errors.New("socket reset"))
	waitFor(t, "rejoin", func() bool { return tr.joinCount() == 2 })
}

func TestProvider_ExhaustedRetriesSurfaceTransportError(t *testing.T) {
	cfg := testConfig
	cfg.MaxRetries = 2
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	rec := &recorder{}
	p := newTestProvider(cfg, tr, &sttmock.Provider{}, mic, rec)
	_ = p.Start(context.Background())
	defer p.Close()

	tr.setJoinErr(errors.New("room closed"))
	h, _ := tr.last()
	h.OnDisconnected()

	waitFor(t, "transport error", func() bool { return rec.count(isErr) == 1 })
	if tr.joinCount() != 3 {
		t.Errorf("joins = %d, want 3", tr.joinCount())
	}
}

func TestProvider_StartFailures(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)

	t.Run("join error", func(t *testing.T) {
		sp := &sttmock.Provider{}
		p := newTestProvider(testConfig, &fakeTransport{joinErr: errors.New("401")}, sp, mic, nil)
		if err := p.Start(context.Background()); !capture.IsKind(err, capture.KindTransport) {
			t.Fatalf("Start error = %v", err)
		}
		if !sp.LastSession().Closed() {
			t.Error("recognizer leaked after failed join")
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := testConfig
		cfg.APISecret = ""
		p := newTestProvider(cfg, &fakeTransport{}, &sttmock.Provider{}, mic, nil)
		if err := p.Start(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("publish error", func(t *testing.T) {
		tr := &publishFailTransport{}
		p := newTestProvider(testConfig, tr, &sttmock.Provider{}, mic, nil)
		if err := p.Start(context.Background()); err == nil {
			t.Fatal("expected error")
		}
		if tr.sess.leftCount() != 1 {
			t.Error("room not left after publish failure")
		}
	})
}

type publishFailTransport struct{ sess *fakeSession }

func (f *publishFailTransport) Join(context.Context, string, string, Handler) (Session, error) {
	f.sess = &fakeSession{publishErr: errors.New("no permission")}
	return f.sess, nil
}

func TestProvider_StopPausesWithoutLeaving(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	sp := &sttmock.Provider{}
	rec := &recorder{}
	p := newTestProvider(testConfig, tr, sp, mic, rec)
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()
	_, sess := tr.last()
	recognizer := sp.LastSession()

	pcm := audio.AudioFrame{Data: make([]byte, 1920), SampleRate: 48000, Channels: 1}
	_ = p.Stop()
	mic.Push(pcm)
	recognizer.EmitFinal("spoken while paused")
	time.Sleep(20 * time.Millisecond)
	if n := rec.count(isUtterance); n != 0 {
		t.Errorf("emitted %d utterances while paused", n)
	}

	// Reply cycles: paused while the agent speaks, resumed after.
	for range 3 {
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for range 2 {
			if err := p.Stop(); err != nil {
				t.Fatalf("Stop: %v", err)
			}
		}
		if p.Listening() {
			t.Fatal("still listening after Stop")
		}
		mic.Push(pcm)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if tr.joinCount() != 1 || sess.leftCount() != 0 {
		t.Errorf("joins = %d, leaves = %d; want the room kept", tr.joinCount(), sess.leftCount())
	}
	if sp.CallCount() != 1 || recognizer.Closed() {
		t.Error("recognizer reopened across pauses")
	}
	if n := sess.sink.count(); n != 0 {
		t.Errorf("published %d packets while paused", n)
	}
	if n := rec.count(isTransport); n != 1 {
		t.Errorf("transport events = %d, want only the join", n)
	}

	mic.Push(pcm)
	if sess.sink.count() != 1 {
		t.Error("mic not published after resume")
	}
	recognizer.EmitFinal("hello again")
	waitFor(t, "utterance after resume", func() bool { return rec.count(isUtterance) == 1 })
}

func TestProvider_PausedRemoteAudioNotTranscribed(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	sp := &sttmock.Provider{}
	p := newTestProvider(testConfig, tr, sp, mic, nil)
	_ = p.Start(context.Background())
	defer p.Close()

	h, _ := tr.last()
	remote := &fakeRemote{packets: make(chan []byte, 4)}
	h.OnRemoteAudio(remote)
	defer close(remote.packets)

	_ = p.Stop()
	remote.packets <- make([]byte, 1920)
	time.Sleep(20 * time.Millisecond)
	if n := sp.LastSession().AudioBytes(); n != 0 {
		t.Fatalf("recognizer got %d bytes while paused", n)
	}

	_ = p.Start(context.Background())
	remote.packets <- make([]byte, 1920)
	waitFor(t, "remote audio after resume", func() bool { return sp.LastSession().AudioBytes() == 640 })
}

func TestProvider_CloseIdempotent(t *testing.T) {
	mic := media.NewPCMTrack(audio.Format{SampleRate: 48000, Channels: 1}, nil)
	tr := &fakeTransport{}
	sp := &sttmock.Provider{}
	p := newTestProvider(testConfig, tr, sp, mic, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close before Start: %v", err)
	}
	_ = p.Start(context.Background())
	_ = p.Start(context.Background())
	if tr.joinCount() != 1 {
		t.Errorf("joins = %d, want 1", tr.joinCount())
	}

	for range 3 {
		if err := p.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	_, sess := tr.last()
	if sess.leftCount() != 1 {
		t.Errorf("Leave called %d times, want 1", sess.leftCount())
	}
	if !sp.LastSession().Closed() {
		t.Error("recognizer not closed")
	}

	// A disconnect callback after Close does nothing.
	h, _ := tr.last()
	h.OnDisconnected()
	time.Sleep(20 * time.Millisecond)
	if tr.joinCount() != 1 {
		t.Error("rejoined after Close")
	}
	if p.Variant() != capture.Room {
		t.Errorf("Variant = %v", p.Variant())
	}
}
