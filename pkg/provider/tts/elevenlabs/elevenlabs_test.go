package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.outputFormat != "pcm_24000" {
		t.Errorf("expected outputFormat 'pcm_24000', got %q", p.outputFormat)
	}
}

func TestNew_RejectsCompressedFormat(t *testing.T) {
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for non-pcm output format")
	}
}

// ---- URL construction ----

func TestSynthesisURL(t *testing.T) {
	p, _ := New("key", WithBaseURL("https://example.test/"))
	got := p.synthesisURL("voice-abc123")
	want := "https://example.test/v1/text-to-speech/voice-abc123?output_format=pcm_16000"
	if got != want {
		t.Errorf("synthesisURL = %q, want %q", got, want)
	}
}

func TestSampleRate(t *testing.T) {
	tests := []struct {
		format  string
		want    int
		wantErr bool
	}{
		{"pcm_16000", 16000, false},
		{"pcm_44100", 44100, false},
		{"mp3_44100_128", 0, true},
		{"pcm_", 0, true},
	}
	for _, tt := range tests {
		got, err := sampleRate(tt.format)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("sampleRate(%q) = %d, %v", tt.format, got, err)
		}
	}
}

// ---- Synthesize ----

type captured struct {
	mu     sync.Mutex
	path   string
	query  string
	apiKey string
	req    synthesisRequest
}

func newServer(t *testing.T, status int, body []byte) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.path = r.URL.Path
		c.query = r.URL.RawQuery
		c.apiKey = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&c.req)
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestSynthesize(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4}
	srv, c := newServer(t, http.StatusOK, pcm)
	p, _ := New("secret", WithBaseURL(srv.URL))

	frame, err := p.Synthesize(context.Background(), "  Hello, explorer!  ", "voice-1")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if frame.SampleRate != 16000 || frame.Channels != 1 {
		t.Errorf("format = %dHz/%dch", frame.SampleRate, frame.Channels)
	}
	if len(frame.Data) != 6 {
		t.Errorf("expected trailing odd byte dropped, got %d bytes", len(frame.Data))
	}
	if c.path != "/v1/text-to-speech/voice-1" {
		t.Errorf("path = %q", c.path)
	}
	if c.query != "output_format=pcm_16000" {
		t.Errorf("query = %q", c.query)
	}
	if c.apiKey != "secret" {
		t.Errorf("xi-api-key = %q", c.apiKey)
	}
	if c.req.Text != "Hello, explorer!" || c.req.ModelID != defaultModel {
		t.Errorf("request body = %+v", c.req)
	}
}

func TestSynthesize_DefaultVoice(t *testing.T) {
	srv, c := newServer(t, http.StatusOK, []byte{0, 0})
	p, _ := New("secret", WithBaseURL(srv.URL), WithDefaultVoice("fallback"))

	if _, err := p.Synthesize(context.Background(), "hi", ""); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.HasSuffix(c.path, "/fallback") {
		t.Errorf("path = %q, want default voice", c.path)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("secret")
	if _, err := p.Synthesize(context.Background(), "   ", "v"); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestSynthesize_NoAudio(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, nil)
	p, _ := New("secret", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", "v"); !errors.Is(err, tts.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, []byte(`{"detail":"invalid api key"}`))
	p, _ := New("secret", WithBaseURL(srv.URL))

	_, err := p.Synthesize(context.Background(), "hi", "v")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error should carry status and body: %v", err)
	}
}
