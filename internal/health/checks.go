package health

import (
	"context"
	"errors"

	"github.com/eduplay/voiceroom/pkg/media"
)

var (
	errSessionEnded  = errors.New("session ended")
	errNotListening  = errors.New("session not started")
	errTransportDown = errors.New("capture transport disconnected")
	errNoMicrophone  = errors.New("no microphone granted")
)

// SessionCheck fails once done is closed or while started reports false.
func SessionCheck(done <-chan struct{}, started func() bool) Checker {
	return Checker{Name: "session", Check: func(context.Context) error {
		select {
		case <-done:
			return errSessionEnded
		default:
		}
		if !started() {
			return errNotListening
		}
		return nil
	}}
}

// MediaCheck fails when the capture transport is down or no microphone was
// granted. needsTransport is false for the on-device variant, which has no
// transport. A muted microphone is still ready.
func MediaCheck(avail func() media.Availability, granted func() bool, needsTransport bool) Checker {
	return Checker{Name: "media", Check: func(context.Context) error {
		if !granted() {
			return errNoMicrophone
		}
		if needsTransport && !avail().TransportConnected {
			return errTransportDown
		}
		return nil
	}}
}
