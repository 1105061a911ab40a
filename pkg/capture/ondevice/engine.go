// Package ondevice implements continuous local speech recognition as a
// [capture.Provider].
//
// An [Engine] runs one recognition session at a time and reports through
// [Handler] callbacks. Sessions end on their own (silence, device hiccups);
// the provider re-arms the engine after a short debounce until it is
// stopped on purpose.
package ondevice

import "context"

// Engine error codes. Only CodeNoSpeech and CodeAudioCapture are transient.
const (
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNotAllowed   = "not-allowed"
	CodeNetwork      = "network"
	CodeAborted      = "aborted"
)

// Handler receives engine callbacks. Callbacks may arrive on any goroutine
// but never concurrently for one session.
type Handler struct {
	// OnResult reports recognized text. final marks a committed segment.
	OnResult func(text string, final bool)

	// OnError reports an engine error code. OnEnd follows.
	OnError func(code string)

	// OnEnd is called once when the session is over, including after Stop.
	OnEnd func()
}

// Engine is a local continuous recognizer.
type Engine interface {
	// Start begins a session in locale (e.g. "bn-IN"). An error means no
	// session was started and no callbacks will follow.
	Start(ctx context.Context, locale string, h Handler) error

	// Stop ends the running session, if any.
	Stop()
}

func transient(code string) bool {
	return code == CodeNoSpeech || code == CodeAudioCapture
}
