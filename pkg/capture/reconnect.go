package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Variant labels log lines.
	Variant Variant

	// Connect re-establishes the connection. Required.
	Connect func(ctx context.Context) error

	// MaxRetries is the number of attempts per disconnect. Defaults to 10.
	MaxRetries int

	// Backoff is the initial wait between attempts; it doubles up to
	// MaxBackoff. Defaults to 1s and 30s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// OnGiveUp is called with the last error once retries are exhausted.
	// May be nil.
	OnGiveUp func(err error)
}

// Reconnector re-runs Connect with exponential backoff every time
// [Reconnector.NotifyDisconnect] is called. One Reconnector serves one
// Start/Stop cycle of a provider.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	cfg ReconnectorConfig

	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
	wg           sync.WaitGroup
}

// NewReconnector creates a [Reconnector] with defaults applied.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		cfg:          cfg,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Monitor starts the background loop. It exits on Stop or when ctx ends.
func (r *Reconnector) Monitor(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	r.wg.Add(1)
	go r.monitorLoop(ctx)
}

// NotifyDisconnect asks for a reconnect. Calls made while a signal is
// already pending are coalesced.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop halts the loop, cancels an attempt in progress and waits for it to
// return. Safe to call more than once, but not from inside Connect or
// OnGiveUp.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		r.mu.Unlock()
	})
	r.wg.Wait()
}

func (r *Reconnector) monitorLoop(ctx context.Context) {
	defer r.wg.Done()
	defer r.cancelCtx()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

func (r *Reconnector) cancelCtx() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconnector) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Reconnector) attemptReconnect(ctx context.Context) {
	currentBackoff := r.cfg.Backoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(currentBackoff):
		}

		slog.Info("capture: attempting reconnection",
			"variant", r.cfg.Variant.String(),
			"attempt", attempt,
			"max_retries", r.cfg.MaxRetries,
			"backoff", currentBackoff,
		)

		err := r.cfg.Connect(ctx)
		if err == nil {
			slog.Info("capture: reconnection successful",
				"variant", r.cfg.Variant.String(),
				"attempt", attempt,
			)
			return
		}
		if r.stopped(ctx) {
			return
		}
		lastErr = err
		slog.Warn("capture: reconnection attempt failed",
			"variant", r.cfg.Variant.String(),
			"attempt", attempt,
			"err", err,
		)

		currentBackoff *= 2
		if currentBackoff > r.cfg.MaxBackoff {
			currentBackoff = r.cfg.MaxBackoff
		}
	}

	slog.Error("capture: reconnection failed after max retries",
		"variant", r.cfg.Variant.String(),
		"max_retries", r.cfg.MaxRetries,
	)
	if r.cfg.OnGiveUp != nil {
		r.cfg.OnGiveUp(fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.cfg.MaxRetries, lastErr))
	}
}
