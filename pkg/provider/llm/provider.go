// Package llm defines the Provider interface for the language models that
// write the agent's replies.
//
// A provider wraps a remote model API (Gemini, OpenAI, or any backend
// reachable through any-llm-go) behind one call: a system instruction, a
// user prompt and an optional still image go in, reply text comes out.
//
// Implementations must be safe for concurrent use and must return promptly
// when ctx is cancelled. Failures wrap [ErrNetwork] or [ErrInvalidResponse]
// so callers can tell transport problems from unusable replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork wraps failures to reach the model or errors it returned.
	ErrNetwork = errors.New("llm: network error")

	// ErrInvalidResponse wraps replies that carry no usable text.
	ErrInvalidResponse = errors.New("llm: invalid response")
)

// Image is a still picture attached to a request.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request carries everything the model needs for one reply.
type Request struct {
	// SystemInstruction sets the agent persona. Optional.
	SystemInstruction string

	// Prompt is the user turn, already assembled. Required.
	Prompt string

	// Image is optional visual context. Providers whose model cannot see
	// ignore it.
	Image *Image

	// Temperature in [0,2]. Zero keeps the provider default.
	Temperature float64

	// MaxTokens caps the reply. Zero keeps the provider default.
	MaxTokens int
}

// Capabilities describes a model.
type Capabilities struct {
	SupportsVision  bool
	ContextWindow   int
	MaxOutputTokens int
}

// Provider is the abstraction over any text generation backend.
type Provider interface {
	// Generate returns the model's reply to req. An empty reply is an error
	// wrapping ErrInvalidResponse.
	Generate(ctx context.Context, req Request) (string, error)

	// Capabilities is constant for the lifetime of the provider.
	Capabilities() Capabilities
}

// NetworkError wraps err from the named provider as an [ErrNetwork] unless
// it is a context error, which is passed through.
func NetworkError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", provider, err)
	}
	return fmt.Errorf("%s: %w: %w", provider, ErrNetwork, err)
}

// Reply trims text and reports an [ErrInvalidResponse] when nothing is left.
func Reply(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w: empty reply", provider, ErrInvalidResponse)
	}
	return text, nil
}

// ModelCapabilities returns capabilities for known model families. Unknown
// models get a conservative text-only default.
func ModelCapabilities(model string) Capabilities {
	caps := Capabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "gpt-4o"), strings.HasPrefix(lower, "gpt-4.1"):
		caps.MaxOutputTokens = 16_384
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gpt-4-turbo"):
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gpt-4"):
		caps.ContextWindow = 8_192
	case strings.HasPrefix(lower, "gpt-3.5-turbo"):
		caps.ContextWindow = 16_385
	case strings.HasPrefix(lower, "o1-mini"), strings.HasPrefix(lower, "o3-mini"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 65_536
	case strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "claude"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.Contains(lower, "gemini-2.5"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 65_536
		caps.SupportsVision = true
	case strings.Contains(lower, "gemini-1.5-pro"):
		caps.ContextWindow = 2_097_152
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	case strings.HasPrefix(lower, "gemini"):
		caps.ContextWindow = 1_048_576
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = true
	}
	return caps
}
