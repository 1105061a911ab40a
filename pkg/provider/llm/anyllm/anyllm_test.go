package anyllm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/eduplay/voiceroom/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemAndPrompt(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.Request{
		SystemInstruction: "You are a friendly tutor.",
		Prompt:            "What is a rainbow?",
		Temperature:       0.7,
		MaxTokens:         200,
	})
	if params.Model != "llama3" {
		t.Errorf("expected model llama3, got %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("expected system role first, got %q", params.Messages[0].Role)
	}
	if got := params.Messages[1].ContentString(); got != "What is a rainbow?" {
		t.Errorf("expected prompt content, got %q", got)
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Error("expected temperature 0.7")
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Error("expected max tokens 200")
	}
}

func TestBuildParams_NoSystem(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.Request{Prompt: "hi"})
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero temperature and max tokens must keep provider defaults")
	}
}

// ── Capabilities ──────────────────────────────────────────────────────────────

func TestCapabilities_TextOnly(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	caps := p.Capabilities()
	if caps.SupportsVision {
		t.Error("expected SupportsVision=false")
	}
	if caps.ContextWindow != llm.ModelCapabilities("gpt-4o").ContextWindow {
		t.Errorf("unexpected ContextWindow %d", caps.ContextWindow)
	}
}

// ── Generate ──────────────────────────────────────────────────────────────────

func newChatServer(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	srv := newChatServer(t, http.StatusOK, "A rainbow is sunlight split by raindrops.")
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := p.Generate(context.Background(), llm.Request{Prompt: "What is a rainbow?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "A rainbow is sunlight split by raindrops." {
		t.Errorf("reply = %q", got)
	}
}

func TestGenerate_Unauthorized(t *testing.T) {
	srv := newChatServer(t, http.StatusUnauthorized, "")
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"), anyllmlib.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = p.Generate(context.Background(), llm.Request{Prompt: "hi"})
	if !errors.Is(err, llm.ErrNetwork) {
		t.Errorf("err = %v, want ErrNetwork", err)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	if _, err := p.Generate(context.Background(), llm.Request{}); err == nil {
		t.Error("expected error for empty prompt")
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_OpenAI_WithAPIKey checks that OpenAI provider constructs successfully with an API key.
func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", p.model)
	}
}

// TestNew_OpenAI_MissingAPIKey checks that OpenAI returns an error when no API key is available.
// This relies on OPENAI_API_KEY not being set in the test environment.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "") // Ensure env var is clear.
	_, err := New("openai", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

// TestNew_Anthropic_WithAPIKey checks that Anthropic provider constructs successfully.
func TestNew_Anthropic_WithAPIKey(t *testing.T) {
	p, err := New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// TestNew_Ollama_NoAPIKey checks that Ollama works without an API key.
func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := New("ollama", "llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// TestConvenienceConstructors checks all convenience constructors delegate correctly.
func TestBackends(t *testing.T) {
	got := Backends()
	want := []string{"anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama", "openai"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Backends() = %v, want %v", got, want)
	}
	for _, name := range []string{"ollama", "llamacpp", "llamafile"} {
		if _, err := New(name, "llama3"); err != nil {
			t.Errorf("New(%q) without key: %v", name, err)
		}
	}
}
