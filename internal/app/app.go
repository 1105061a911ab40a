// Package app assembles one voiceroom session from configuration.
//
// New acquires the devices and wires capture, generation, synthesis and
// playback around a [turn.Orchestrator]. Run starts the conversation and
// blocks until the context ends or the session is hung up; Shutdown tears
// everything down in order.
//
// For testing, inject doubles through functional options (WithDevices,
// WithPlayer, WithCapture). When an option is not provided, New builds the
// host implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eduplay/voiceroom/internal/config"
	"github.com/eduplay/voiceroom/internal/health"
	"github.com/eduplay/voiceroom/internal/observe"
	"github.com/eduplay/voiceroom/internal/playback"
	"github.com/eduplay/voiceroom/internal/respond"
	"github.com/eduplay/voiceroom/internal/turn"
	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/audio/device"
	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/capture/ondevice"
	"github.com/eduplay/voiceroom/pkg/capture/room"
	"github.com/eduplay/voiceroom/pkg/capture/streaming"
	"github.com/eduplay/voiceroom/pkg/frame"
	"github.com/eduplay/voiceroom/pkg/media"
	"github.com/eduplay/voiceroom/pkg/media/local"
	"github.com/eduplay/voiceroom/pkg/provider/llm"
	"github.com/eduplay/voiceroom/pkg/provider/stt"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

// ErrNoSynthesis is returned when sound is switched on without a TTS provider.
var ErrNoSynthesis = errors.New("app: no tts provider configured")

// Providers holds one backend per pipeline stage, built by main from the
// config registry. TTS may be nil, in which case replies are only printed.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// SessionParams are the per-session choices resolved from the config.
type SessionParams struct {
	Variant  capture.Variant
	Language string
	Agent    config.AgentConfig
}

// ParamsFromConfig resolves the capture variant and the agent persona named
// by cfg.Session.
func ParamsFromConfig(cfg *config.Config) (SessionParams, error) {
	variant, err := capture.ParseVariant(cfg.Session.Variant)
	if err != nil {
		return SessionParams{}, err
	}
	agent, ok := cfg.Agent(cfg.Session.Agent)
	if !ok {
		return SessionParams{}, fmt.Errorf("unknown agent %q", cfg.Session.Agent)
	}
	return SessionParams{Variant: variant, Language: cfg.Session.Language, Agent: agent}, nil
}

// CaptureFactory builds the capture provider of a session.
type CaptureFactory func(v capture.Variant, mic capture.AudioSource, sink capture.Sink) (capture.Provider, error)

// App owns one session and the resources it acquired.
type App struct {
	cfg       *config.Config
	providers *Providers
	params    SessionParams
	metrics   *observe.Metrics

	sessionID string
	devices   media.Devices
	player    playback.Player
	newCap    CaptureFactory
	transport room.Transport

	source  *media.Source
	capture capture.Provider
	speaker *playback.Speaker
	orch    *turn.Orchestrator
	started chan struct{}

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevices replaces the host camera and microphone.
func WithDevices(d media.Devices) Option {
	return func(a *App) { a.devices = d }
}

// WithPlayer replaces the host speaker.
func WithPlayer(p playback.Player) Option {
	return func(a *App) { a.player = p }
}

// WithCapture replaces the capture variant construction.
func WithCapture(f CaptureFactory) Option {
	return func(a *App) { a.newCap = f }
}

// WithRoomTransport replaces the room transport of the room variant.
func WithRoomTransport(t room.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(a *App) { a.sessionID = id }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds a session. It acquires the media synchronously, so a
// permission or device failure is returned here.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		started:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.sessionID == "" {
		a.sessionID = uuid.NewString()
	}
	if a.newCap == nil {
		a.newCap = a.buildCapture
	}

	params, err := ParamsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.params = params
	agent := params.Agent

	// ── 1. Media ─────────────────────────────────────────────────────────
	if err := a.initMedia(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init media: %w", err)
	}

	// ── 2. Playback ──────────────────────────────────────────────────────
	if err := a.initPlayback(); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init playback: %w", err)
	}

	// ── 3. Generation ────────────────────────────────────────────────────
	synth := respond.New(providers.LLM, respond.Config{
		SessionID:         a.sessionID,
		SystemInstruction: agent.SystemInstruction,
		Language:          params.Language,
		ChildAge:          cfg.Session.ChildAge,
		Timeout:           cfg.Session.GenerateTimeout,
		Metrics:           a.metrics,
		ProviderName:      cfg.Providers.LLM.Name,
	})

	// ── 4. Capture + orchestrator ────────────────────────────────────────
	var orch *turn.Orchestrator
	sink := func(ev capture.Event) { orch.HandleEvent(ev) }
	cp, err := a.newCap(params.Variant, a.source, sink)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}
	a.capture = cp

	var fopts []frame.Option
	if cfg.Camera.MaxWidth > 0 {
		fopts = append(fopts, frame.WithMaxWidth(cfg.Camera.MaxWidth))
	}
	if cfg.Camera.Quality > 0 {
		fopts = append(fopts, frame.WithQuality(cfg.Camera.Quality))
	}
	frames := frame.New(a.source, fopts...)
	orch = turn.New(cp, a.source, frames, synth, a.speaker, turn.Config{
		SessionID: a.sessionID,
		VoiceID:   agent.VoiceID,
		Metrics:   a.metrics,
	})
	a.orch = orch

	slog.Info("app: session assembled",
		"session_id", a.sessionID,
		"variant", params.Variant.String(),
		"language", params.Language,
		"agent", agent.Name,
		"video", a.source.Availability().VideoEnabled,
		"sound", a.speaker.SoundEnabled(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initMedia(ctx context.Context) error {
	var closeDevices func() error
	if a.devices == nil {
		d := local.New(local.Config{
			SampleRate:  a.cfg.Capture.SampleRate,
			CameraImage: a.cfg.Camera.Image,
			CameraFPS:   a.cfg.Camera.FPS,
		})
		a.devices = d
		closeDevices = d.Close
	}

	a.source = media.NewSource(a.devices)
	// Tracks stop before the devices behind them close.
	a.closers = append(a.closers, func() error { a.source.Release(); return nil })
	if closeDevices != nil {
		a.closers = append(a.closers, closeDevices)
	}
	if err := a.source.Acquire(ctx); err != nil {
		return err
	}
	if !a.cfg.Session.VideoEnabled() {
		if err := a.source.SetTrackEnabled(media.KindVideo, false); err != nil && !errors.Is(err, media.ErrNoTrack) {
			return err
		}
	}
	return nil
}

func (a *App) initPlayback() error {
	sound := a.cfg.Session.SoundEnabled()
	if a.providers.TTS == nil {
		sound = false
	}

	if a.player == nil && a.providers.TTS != nil {
		dctx, err := device.Open()
		if err != nil {
			return err
		}
		p, err := device.NewPlayer(dctx, audio.Format{SampleRate: a.cfg.Capture.SampleRate, Channels: 1})
		if err != nil {
			_ = dctx.Close()
			return err
		}
		a.player = p
		// Closers run in order: the device before its context.
		a.closers = append(a.closers, p.Close, dctx.Close)
	}
	if a.player == nil {
		a.player = silentPlayer{}
	}

	a.speaker = playback.New(a.providers.TTS, a.player,
		playback.WithSynthesisTimeout(a.cfg.Session.SynthesisTimeout),
		playback.WithMetrics(a.metrics),
		playback.WithProviderName(a.cfg.Providers.TTS.Name),
		playback.WithSoundEnabled(sound),
	)
	a.closers = append([]func() error{func() error { a.speaker.Close(); return nil }}, a.closers...)
	return nil
}

func (a *App) buildCapture(v capture.Variant, mic capture.AudioSource, sink capture.Sink) (capture.Provider, error) {
	cc := a.cfg.Capture
	lang := a.params.Language
	if a.providers.STT == nil {
		return nil, errors.New("an stt provider is required")
	}

	switch v {
	case capture.OnDevice:
		engine := ondevice.NewWhisperEngine(a.providers.STT, mic)
		var opts []ondevice.Option
		if cc.RestartDelay > 0 {
			opts = append(opts, ondevice.WithRestartDelay(cc.RestartDelay))
		}
		return ondevice.New(engine, lang, sink, opts...), nil

	case capture.Streaming:
		opts := []streaming.Option{streaming.WithReconnect(cc.MaxRetries, cc.Backoff, cc.MaxBackoff)}
		if cc.ChunkDuration > 0 {
			opts = append(opts, streaming.WithChunkDuration(cc.ChunkDuration))
		}
		return streaming.New(a.providers.STT, mic, lang, sink, opts...), nil

	case capture.Room:
		rc := cc.Room
		identity := rc.Identity
		if identity == "" {
			identity = "voiceroom-" + a.sessionID
		}
		t := a.transport
		if t == nil {
			t = room.LiveKit{}
		}
		return room.New(room.Config{
			URL:        rc.URL,
			APIKey:     rc.APIKey,
			APISecret:  rc.APISecret,
			Room:       rc.Room,
			Identity:   identity,
			Name:       rc.Name,
			TokenTTL:   rc.TokenTTL,
			MaxRetries: cc.MaxRetries,
			Backoff:    cc.Backoff,
			MaxBackoff: cc.MaxBackoff,
		}, t, a.providers.STT, mic, lang, sink), nil
	}
	return nil, fmt.Errorf("unsupported capture variant %s", v)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the session and blocks until ctx is cancelled or the session
// ends through [App.End]. Transcript lines are logged as they arrive.
// It returns ctx.Err() after a cancellation and nil after a hang-up.
func (a *App) Run(ctx context.Context) error {
	updates := a.orch.Subscribe()
	if err := a.orch.Start(ctx); err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	close(a.started)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for u := range updates {
			logUpdate(u)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			a.orch.End()
		case <-a.orch.Done():
		}
		return nil
	})

	slog.Info("app running", "session_id", a.sessionID)
	_ = g.Wait()
	return ctx.Err()
}

func logUpdate(u turn.Update) {
	switch {
	case u.Transcript != nil:
		slog.Info("app: transcript",
			"sender", string(u.Transcript.Sender),
			"text", u.Transcript.Text,
			"fallback", u.Transcript.Fallback)
	case u.Err != nil:
		slog.Warn("app: session notice", "err", u.Err, "state", u.State.String())
	default:
		slog.Debug("app: session state",
			"state", u.State.String(),
			"audio", u.Availability.AudioEnabled,
			"video", u.Availability.VideoEnabled,
			"transport", u.Availability.TransportConnected)
	}
}

// ─── Controls ────────────────────────────────────────────────────────────────

// SessionID returns the generated or injected session id.
func (a *App) SessionID() string { return a.sessionID }

// Agent returns the persona answering in this session.
func (a *App) Agent() config.AgentConfig { return a.params.Agent }

// Params returns the resolved session parameters.
func (a *App) Params() SessionParams { return a.params }

// State returns the turn state.
func (a *App) State() turn.State { return a.orch.State() }

// Availability returns the media state.
func (a *App) Availability() media.Availability { return a.orch.Availability() }

// Subscribe returns a channel of session updates, closed at hang-up.
func (a *App) Subscribe() <-chan turn.Update { return a.orch.Subscribe() }

// Done is closed once the session has ended.
func (a *App) Done() <-chan struct{} { return a.orch.Done() }

// Submit sends a typed message.
func (a *App) Submit(text string) { a.orch.SubmitText(text) }

// SetMuted toggles the microphone.
func (a *App) SetMuted(muted bool) error { return a.orch.SetMuted(muted) }

// SetVideoEnabled toggles the camera.
func (a *App) SetVideoEnabled(on bool) error { return a.orch.SetVideoEnabled(on) }

// SetSoundEnabled toggles spoken replies.
func (a *App) SetSoundEnabled(on bool) error {
	if on && a.providers.TTS == nil {
		return ErrNoSynthesis
	}
	a.speaker.SetSoundEnabled(on)
	return nil
}

// SoundEnabled reports whether replies are spoken.
func (a *App) SoundEnabled() bool { return a.speaker.SoundEnabled() }

// End hangs up the session. Safe to call more than once.
func (a *App) End() { a.orch.End() }

// HealthCheckers returns the readiness checks of this session.
func (a *App) HealthCheckers() []health.Checker {
	isStarted := func() bool {
		select {
		case <-a.started:
			return true
		default:
			return false
		}
	}
	granted := func() bool { return a.source.Audio() != nil }
	needsTransport := a.params.Variant != capture.OnDevice
	return []health.Checker{
		health.SessionCheck(a.orch.Done(), isStarted),
		health.MediaCheck(a.source.Availability, granted, needsTransport),
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the session and releases every resource in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		start := time.Now()
		if a.orch != nil {
			a.orch.End()
		}
		shutdownErr = a.runClosers(ctx)
		slog.Info("shutdown complete", "elapsed", time.Since(start))
	})
	return shutdownErr
}

func (a *App) close() { _ = a.runClosers(context.Background()) }

func (a *App) runClosers(ctx context.Context) error {
	closers := a.closers
	a.closers = nil
	for i, closer := range closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

// silentPlayer stands in for the speaker when no synthesis is configured.
type silentPlayer struct{}

func (silentPlayer) Play(context.Context, audio.AudioFrame) error { return nil }
func (silentPlayer) Stop()                                        {}
