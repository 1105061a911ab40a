// Package respond turns one child utterance, plus an optional camera still,
// into the agent's spoken reply text.
//
// A [Synthesizer] belongs to one session. It assembles the prompt from the
// session's agent persona, the child's age and the conversation language,
// bounds generation with a timeout, and allows a single generation at a
// time: a different request arriving while one is in flight gets [ErrBusy],
// an identical one joins the in-flight call.
package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/eduplay/voiceroom/internal/observe"
	"github.com/eduplay/voiceroom/pkg/frame"
	"github.com/eduplay/voiceroom/pkg/provider/llm"
)

const (
	// DefaultTimeout bounds one generation.
	DefaultTimeout = 20 * time.Second

	// DefaultChildAge is assumed when the session does not know the age.
	DefaultChildAge = 6
)

// ErrBusy is returned when a different reply is already being generated for
// the session.
var ErrBusy = errors.New("respond: reply already in progress")

// Request is one user turn.
type Request struct {
	// Text is what the child said or typed.
	Text string

	// Frame is the camera still taken when the turn was accepted. Nil means
	// no visual context.
	Frame *frame.Frame
}

// Config holds per-session settings.
type Config struct {
	// SessionID keys the single-flight group.
	SessionID string

	// SystemInstruction is the agent persona.
	SystemInstruction string

	// Language is "en" or "bn".
	Language string

	// ChildAge defaults to [DefaultChildAge].
	ChildAge int

	// Timeout defaults to [DefaultTimeout].
	Timeout time.Duration

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ProviderName labels metrics. Defaults to "llm".
	ProviderName string
}

// Synthesizer generates replies for one session.
type Synthesizer struct {
	llm   llm.Provider
	cfg   Config
	group singleflight.Group

	mu       sync.Mutex
	inflight string
}

// New returns a Synthesizer that generates through p.
func New(p llm.Provider, cfg Config) *Synthesizer {
	if cfg.ChildAge <= 0 {
		cfg.ChildAge = DefaultChildAge
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "llm"
	}
	return &Synthesizer{llm: p, cfg: cfg}
}

// LanguageName returns the prompt name of a language code.
func LanguageName(lang string) string {
	if strings.EqualFold(strings.TrimSpace(lang), "bn") {
		return "Bengali"
	}
	return "English"
}

// Prompt assembles the user turn sent to the model.
func (s *Synthesizer) Prompt(text string, withImage bool) string {
	var sb strings.Builder
	if withImage {
		sb.WriteString("You are looking at a scene through a camera and listening to a user. ")
	} else {
		sb.WriteString("You are listening to a user. ")
	}
	fmt.Fprintf(&sb, "The user is a %d-year-old child. They said: %q. ", s.cfg.ChildAge, text)
	if withImage {
		sb.WriteString("Using both the image and their words, ")
	} else {
		sb.WriteString("Using their words, ")
	}
	fmt.Fprintf(&sb, "give a short, engaging reply in %s. Be curious and conversational.", LanguageName(s.cfg.Language))
	return sb.String()
}

// Respond generates the reply to req. It fails with [ErrBusy] while a
// different request is in flight and with an error wrapping
// [llm.ErrInvalidResponse] when the model returns nothing usable.
func (s *Synthesizer) Respond(ctx context.Context, req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", errors.New("respond: empty request")
	}
	key := s.cfg.SessionID + "\x00" + text

	s.mu.Lock()
	if s.inflight != "" && s.inflight != key {
		s.mu.Unlock()
		return "", ErrBusy
	}
	s.inflight = key
	s.mu.Unlock()

	ch := s.group.DoChan(key, func() (any, error) {
		defer func() {
			s.mu.Lock()
			if s.inflight == key {
				s.inflight = ""
			}
			s.mu.Unlock()
		}()
		return s.generate(ctx, text, req.Frame)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Synthesizer) generate(ctx context.Context, text string, f *frame.Frame) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	withImage := f != nil && len(f.Data) > 0
	ctx, span := observe.StartSpan(ctx, "respond.generate")
	span.SetAttributes(
		attribute.String("session_id", s.cfg.SessionID),
		attribute.Bool("with_image", withImage),
	)

	lreq := llm.Request{
		SystemInstruction: s.cfg.SystemInstruction,
		Prompt:            s.Prompt(text, withImage),
	}
	if withImage {
		lreq.Image = &llm.Image{Data: f.Data, MIMEType: f.MIMEType}
	}

	start := time.Now()
	reply, err := s.llm.Generate(ctx, lreq)
	s.cfg.Metrics.GenerateDuration.Record(ctx, time.Since(start).Seconds())
	observe.EndSpan(span, err)

	if err != nil {
		s.cfg.Metrics.RecordProviderRequest(ctx, s.cfg.ProviderName, "llm", "error")
		s.cfg.Metrics.RecordProviderError(ctx, s.cfg.ProviderName, "llm")
		return "", fmt.Errorf("respond: generate: %w", err)
	}
	s.cfg.Metrics.RecordProviderRequest(ctx, s.cfg.ProviderName, "llm", "ok")

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("respond: generate: %w", llm.ErrInvalidResponse)
	}
	return reply, nil
}
