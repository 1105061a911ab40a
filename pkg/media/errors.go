package media

import (
	"errors"
	"fmt"
)

// Sentinel device errors. A *DeviceError matches its kind's sentinel with
// errors.Is.
var (
	ErrNotFound         = errors.New("media: device not found")
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrNotReadable      = errors.New("media: device not readable")
)

// ErrNoTrack is returned when toggling a track that was never acquired.
var ErrNoTrack = errors.New("media: no such track")

// ErrReleased is returned by Acquire after Release.
var ErrReleased = errors.New("media: source released")

// DeviceErrorKind classifies device failures.
type DeviceErrorKind int

const (
	NotFound DeviceErrorKind = iota
	PermissionDenied
	NotReadable
)

func (k DeviceErrorKind) sentinel() error {
	switch k {
	case PermissionDenied:
		return ErrPermissionDenied
	case NotReadable:
		return ErrNotReadable
	default:
		return ErrNotFound
	}
}

// String returns the kind name.
func (k DeviceErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "PermissionDenied"
	case NotReadable:
		return "NotReadable"
	default:
		return "NotFound"
	}
}

// DeviceError reports why a device request failed.
type DeviceError struct {
	Kind        DeviceErrorKind
	Constraints Constraints
	Err         error
}

// NewDeviceError returns a *DeviceError of kind k wrapping err.
func NewDeviceError(k DeviceErrorKind, c Constraints, err error) *DeviceError {
	return &DeviceError{Kind: k, Constraints: c, Err: err}
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("media: %s (audio=%t video=%t)", e.Kind, e.Constraints.Audio, e.Constraints.Video)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *DeviceError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// degradable reports whether err allows retrying with audio only.
func degradable(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotReadable)
}
