// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio to playback and to verify which text
// and voice reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Frame: audio.AudioFrame{Data: pcm, SampleRate: 16000, Channels: 1}}
//	frame, _ := p.Synthesize(ctx, "hello", "voice-1")
package mock

import (
	"context"
	"sync"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// VoiceID is the voice passed to Synthesize.
	VoiceID string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Frame is returned by Synthesize when Err is nil.
	Frame audio.AudioFrame

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Gate, if non-nil, makes Synthesize block until it yields or ctx is done.
	Gate chan struct{}

	// Calls records every Synthesize invocation in order.
	Calls []SynthesizeCall
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (audio.AudioFrame, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, VoiceID: voiceID})
	gate := p.Gate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return audio.AudioFrame{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return audio.AudioFrame{}, p.Err
	}
	return p.Frame, nil
}

// SetErr makes subsequent calls fail with err.
func (p *Provider) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// CallCount returns the number of Synthesize calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastCall returns the most recent call, or the zero value.
func (p *Provider) LastCall() SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return SynthesizeCall{}
	}
	return p.Calls[len(p.Calls)-1]
}
