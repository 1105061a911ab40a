package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError(t *testing.T) {
	err := NetworkError("gemini", errors.New("503"))
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("expected ErrNetwork in %v", err)
	}

	ctxErr := NetworkError("gemini", fmt.Errorf("do: %w", context.DeadlineExceeded))
	if errors.Is(ctxErr, ErrNetwork) {
		t.Error("context errors must not be classified as network errors")
	}
	if !errors.Is(ctxErr, context.DeadlineExceeded) {
		t.Error("context error lost")
	}
}

func TestReply(t *testing.T) {
	got, err := Reply("openai", "  Stars are giant balls of gas.\n")
	if err != nil || got != "Stars are giant balls of gas." {
		t.Errorf("Reply = %q, %v", got, err)
	}
	for _, empty := range []string{"", "   \n\t"} {
		if _, err := Reply("openai", empty); !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("Reply(%q) err = %v, want ErrInvalidResponse", empty, err)
		}
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model  string
		vision bool
		window int
	}{
		{"gemini-2.5-flash", true, 1_048_576},
		{"gemini-2.0-flash", true, 1_048_576},
		{"gpt-4o-mini", true, 128_000},
		{"gpt-4", false, 8_192},
		{"o3-mini", false, 200_000},
		{"claude-3-5-sonnet-latest", true, 200_000},
		{"some-local-model", false, 128_000},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := ModelCapabilities(tt.model)
			if caps.SupportsVision != tt.vision {
				t.Errorf("SupportsVision = %v, want %v", caps.SupportsVision, tt.vision)
			}
			if caps.ContextWindow != tt.window {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tt.window)
			}
		})
	}
}
