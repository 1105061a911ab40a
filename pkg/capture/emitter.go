package capture

import (
	"log/slog"
	"strings"
	"time"
)

// Emitter wraps a Sink with the rules every variant shares.
type Emitter struct {
	variant Variant
	sink    Sink
	now     func() time.Time
}

// NewEmitter returns an Emitter for variant. A nil sink discards events.
func NewEmitter(v Variant, sink Sink) *Emitter {
	if sink == nil {
		sink = func(Event) {}
	}
	return &Emitter{variant: v, sink: sink, now: time.Now}
}

// Utterance trims text and emits it. Empty text is dropped and reported as
// false.
func (e *Emitter) Utterance(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	slog.Debug("capture: utterance", "variant", e.variant.String(), "chars", len(text))
	e.sink(Event{Utterance: &Utterance{Text: text, CapturedAt: e.now()}})
	return true
}

// Fail emits a classified error.
func (e *Emitter) Fail(k Kind, err error) {
	e.sink(Event{Err: &Error{Variant: e.variant, Kind: k, Err: err}})
}

// Transport emits a connectivity change.
func (e *Emitter) Transport(connected bool) {
	e.sink(Event{Transport: &TransportChange{Variant: e.variant, Connected: connected}})
}
