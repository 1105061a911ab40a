// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider wraps a transcription service (Deepgram streaming, a local
// whisper.cpp model) behind a uniform streaming session: PCM goes in through
// SendAudio, interim guesses come out of Partials and committed segments out
// of Finals. Capture variants only ever turn Finals into utterances.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SendAudio after the session ended.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes the audio format and language of a new session.
type StreamConfig struct {
	// SampleRate of the PCM sent through SendAudio, in Hz.
	SampleRate int

	// Channels of the PCM sent through SendAudio. Most providers need 1.
	Channels int

	// Language is the recognizer locale (e.g. "en-US", "bn-IN").
	Language string
}

// SessionHandle is an open streaming session.
//
// Callers must call Close when done. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers 16-bit PCM in the agreed format.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Err reports why the session ended on its own. It is nil while the
	// session runs and after a local Close.
	Err() error

	// Close ends the session and releases its resources. Calling Close more
	// than once is safe.
	Close() error
}

// Provider opens streaming sessions.
type Provider interface {
	// StartStream opens a session; the handle accepts audio immediately.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
