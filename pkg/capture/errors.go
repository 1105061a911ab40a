package capture

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is wrapped by transport errors surfaced after the
// reconnect budget ran out.
var ErrRetriesExhausted = errors.New("capture: reconnect retries exhausted")

// Kind classifies a capture failure.
type Kind int

const (
	// KindTransport is a connection failure of a streaming or room provider.
	KindTransport Kind = iota + 1

	// KindTransient is a recognition hiccup that is retried silently.
	KindTransient

	// KindRecognition is a non-transient recognizer failure.
	KindRecognition
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTransient:
		return "transient"
	case KindRecognition:
		return "recognition"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a classified provider failure.
type Error struct {
	Variant Variant
	Kind    Kind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture: %s %s error: %v", e.Variant, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a capture *Error of kind k.
func IsKind(err error, k Kind) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == k
}
