// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into one block of PCM audio in the voice
// the session's agent uses. Replies are short, so synthesis is one-shot
// rather than streamed: the caller plays the returned frame through
// internal/playback once it is complete.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/eduplay/voiceroom/pkg/audio"
)

var (
	// ErrEmptyText is returned when there is nothing to speak.
	ErrEmptyText = errors.New("tts: empty text")

	// ErrNoAudio is returned when the service answered without audio.
	ErrNoAudio = errors.New("tts: no audio returned")
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in voiceID and returns 16-bit PCM. An empty
	// voiceID selects the provider's default voice.
	//
	// Returns an error if the service cannot be reached, rejects the request,
	// or ctx is cancelled before the audio is complete.
	Synthesize(ctx context.Context, text, voiceID string) (audio.AudioFrame, error)
}
