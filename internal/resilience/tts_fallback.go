package resilience

import (
	"context"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across synthesis
// backends. Voice ids belong to the primary's catalogue, so fallbacks speak
// with their own default voice.
type TTSFallback struct {
	group *FallbackGroup[ttsEntry]
}

type ttsEntry struct {
	provider tts.Provider
	primary  bool
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(ttsEntry{primary, true}, primaryName, cfg)}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, ttsEntry{provider: provider})
}

// Synthesize renders text with the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text, voiceID string) (audio.AudioFrame, error) {
	return ExecuteWithResult(ctx, f.group, func(e ttsEntry) (audio.AudioFrame, error) {
		voice := voiceID
		if !e.primary {
			voice = ""
		}
		return e.provider.Synthesize(ctx, text, voice)
	})
}
