package ondevice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eduplay/voiceroom/pkg/capture"
)

// DefaultRestartDelay is the debounce between an unexpected session end and
// the next engine start.
const DefaultRestartDelay = 100 * time.Millisecond

var _ capture.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithRestartDelay overrides [DefaultRestartDelay].
func WithRestartDelay(d time.Duration) Option {
	return func(p *Provider) { p.restartDelay = d }
}

// Provider is the on-device capture variant.
type Provider struct {
	engine       Engine
	locale       string
	emit         *capture.Emitter
	restartDelay time.Duration

	mu sync.Mutex
	// stoppedIntentionally is set by Stop and by fatal engine errors and
	// cleared by Start. While set, session ends do not restart the engine.
	stoppedIntentionally bool
	running              bool
	gen                  uint64
	restart              *time.Timer
	ctx                  context.Context
}

// New returns an on-device provider recognizing lang ("en" or "bn").
func New(engine Engine, lang string, sink capture.Sink, opts ...Option) *Provider {
	p := &Provider{
		engine:               engine,
		locale:               capture.Locale(lang),
		emit:                 capture.NewEmitter(capture.OnDevice, sink),
		restartDelay:         DefaultRestartDelay,
		stoppedIntentionally: true,
		ctx:                  context.Background(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Variant() capture.Variant { return capture.OnDevice }

// Locale returns the recognizer locale in use.
func (p *Provider) Locale() string { return p.locale }

// Start arms the engine. It is a no-op while a session is running.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	p.stoppedIntentionally = false
	p.ctx = ctx
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancelRestartLocked()
	p.running = true
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	if err := p.launch(ctx, gen); err != nil {
		return fmt.Errorf("ondevice: start: %w", err)
	}
	return nil
}

// Stop ends the running session and cancels any pending restart.
func (p *Provider) Stop() error {
	p.mu.Lock()
	p.stoppedIntentionally = true
	p.cancelRestartLocked()
	running := p.running
	p.running = false
	p.gen++
	p.mu.Unlock()

	if running {
		p.engine.Stop()
	}
	return nil
}

func (p *Provider) launch(ctx context.Context, gen uint64) error {
	err := p.engine.Start(ctx, p.locale, Handler{
		OnResult: func(text string, final bool) { p.onResult(gen, text, final) },
		OnError:  func(code string) { p.onError(gen, code) },
		OnEnd:    func() { p.onEnd(gen) },
	})
	if err != nil {
		p.mu.Lock()
		if p.gen == gen {
			p.running = false
		}
		p.mu.Unlock()
		return err
	}
	if !p.current(gen) {
		// Stop ran while the engine was starting.
		p.engine.Stop()
	}
	return nil
}

func (p *Provider) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

func (p *Provider) onResult(gen uint64, text string, final bool) {
	if !final || !p.current(gen) {
		return
	}
	p.emit.Utterance(text)
}

func (p *Provider) onError(gen uint64, code string) {
	if !p.current(gen) {
		return
	}
	if transient(code) {
		slog.Debug("ondevice: transient recognition error", "code", code)
		return
	}
	p.mu.Lock()
	p.stoppedIntentionally = true
	p.cancelRestartLocked()
	p.mu.Unlock()
	slog.Warn("ondevice: recognition error", "code", code)
	p.emit.Fail(capture.KindRecognition, errors.New(code))
}

func (p *Provider) onEnd(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.running = false
	if p.stoppedIntentionally || p.restart != nil {
		return
	}
	p.restart = time.AfterFunc(p.restartDelay, p.restartNow)
}

func (p *Provider) restartNow() {
	p.mu.Lock()
	p.restart = nil
	if p.stoppedIntentionally || p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.gen++
	gen := p.gen
	ctx := p.ctx
	p.mu.Unlock()

	if err := p.launch(ctx, gen); err != nil {
		slog.Warn("ondevice: restart failed", "err", err)
		p.emit.Fail(capture.KindRecognition, fmt.Errorf("ondevice: restart: %w", err))
	}
}

func (p *Provider) cancelRestartLocked() {
	if p.restart != nil {
		p.restart.Stop()
		p.restart = nil
	}
}
