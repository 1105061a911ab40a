package resilience

import (
	"context"

	"github.com/eduplay/voiceroom/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across generation
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate asks the first healthy backend. A backend without vision drops
// the image and answers from the text alone.
func (f *LLMFallback) Generate(ctx context.Context, req llm.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (string, error) {
		r := req
		if r.Image != nil && !p.Capabilities().SupportsVision {
			r.Image = nil
		}
		return p.Generate(ctx, r)
	})
}

// Capabilities returns the primary's capabilities.
func (f *LLMFallback) Capabilities() llm.Capabilities {
	return f.group.Primary().Capabilities()
}
