// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to inspect the prompts a component assembles and
// to feed controlled replies without a live model. Fields may be set before
// the first call; use the setters once calls may be in flight.
//
// Example:
//
//	p := &mock.Provider{Reply: "Hello!"}
//	text, err := p.Generate(ctx, llm.Request{Prompt: "hi"})
package mock

import (
	"context"
	"sync"

	"github.com/eduplay/voiceroom/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the Request passed to Generate.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Reply is returned by Generate when Err is nil.
	Reply string

	// Err, if non-nil, is returned by Generate.
	Err error

	// Caps is returned by Capabilities.
	Caps llm.Capabilities

	// Gate, if non-nil, makes Generate block until a value is received or
	// the gate is closed, or ctx is done.
	Gate chan struct{}

	// Calls records every Generate invocation in order.
	Calls []GenerateCall
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, GenerateCall{Ctx: ctx, Req: req})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	return p.Reply, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Caps
}

// SetReply changes the reply and clears any error.
func (p *Provider) SetReply(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Reply = text
	p.Err = nil
}

// SetErr makes subsequent calls fail with err.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// CallCount returns the number of Generate calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the most recent request, or the zero Request.
func (p *Provider) LastRequest() llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.Request{}
	}
	return p.Calls[len(p.Calls)-1].Req
}

// Reset clears recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
