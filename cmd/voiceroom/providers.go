package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/eduplay/voiceroom/internal/app"
	"github.com/eduplay/voiceroom/internal/config"
	"github.com/eduplay/voiceroom/internal/observe"
	"github.com/eduplay/voiceroom/internal/resilience"
	"github.com/eduplay/voiceroom/pkg/provider/llm"
	"github.com/eduplay/voiceroom/pkg/provider/llm/anyllm"
	"github.com/eduplay/voiceroom/pkg/provider/llm/gemini"
	"github.com/eduplay/voiceroom/pkg/provider/llm/openai"
	"github.com/eduplay/voiceroom/pkg/provider/stt"
	dgstt "github.com/eduplay/voiceroom/pkg/provider/stt/deepgram"
	"github.com/eduplay/voiceroom/pkg/provider/stt/whisper"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
	dgtts "github.com/eduplay/voiceroom/pkg/provider/tts/deepgram"
	"github.com/eduplay/voiceroom/pkg/provider/tts/elevenlabs"
)

// nativeLLMs have their own vision-capable clients; every other any-llm-go
// backend is registered through the text-only wrapper.
var nativeLLMs = map[string]bool{"gemini": true, "openai": true}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, cfg *config.Config) {
	lang := cfg.Session.Language
	rate := cfg.Capture.SampleRate

	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Backends() {
		if nativeLLMs[name] {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		opts := []dgstt.Option{
			dgstt.WithLanguage(entry.OptionString("language", lang)),
			dgstt.WithSampleRate(rate),
		}
		if entry.Model != "" {
			opts = append(opts, dgstt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, dgstt.WithEndpoint(entry.BaseURL))
		}
		return dgstt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path", "")
		}
		opts := []whisper.NativeOption{
			whisper.WithNativeLanguage(entry.OptionString("language", lang)),
			whisper.WithNativeSampleRate(rate),
		}
		if ms := entry.OptionInt("silence_threshold_ms", 0); ms > 0 {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		if ms := entry.OptionInt("max_buffer_ms", 0); ms > 0 {
			opts = append(opts, whisper.WithNativeMaxBufferDurationMs(ms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptionString("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := entry.OptionString("default_voice", ""); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []dgtts.Option{dgtts.WithSampleRate(rate)}
		if entry.Model != "" {
			opts = append(opts, dgtts.WithModel(entry.Model))
		}
		return dgtts.New(entry.APIKey, opts...)
	})
}

// buildProviders instantiates the providers named in cfg, wraps them in
// failover groups when fallbacks are configured, and returns a func that
// closes the ones holding resources.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*app.Providers, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}
	track := func(p any) {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	failover := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			OnFailover: func(from string, err error) {
				slog.Warn("provider failover", "kind", kind, "from", from, "err", err)
				m.RecordProviderError(context.Background(), from, kind)
			},
		}
	}

	ps := &app.Providers{}
	pc := cfg.Providers

	// ── LLM ───────────────────────────────────────────────────────────────────
	model, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	ps.LLM = model
	slog.Info("provider created", "kind", "llm", "name", pc.LLM.Name)
	if len(pc.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(model, pc.LLM.Name, failover("llm"))
		for _, e := range pc.LLMFallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				slog.Warn("skipping llm fallback", "name", e.Name, "err", err)
				continue
			}
			group.AddFallback(e.Name, p)
		}
		ps.LLM = group
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	rec, err := reg.CreateSTT(pc.STT)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create stt provider %q: %w", pc.STT.Name, err)
	}
	track(rec)
	ps.STT = rec
	slog.Info("provider created", "kind", "stt", "name", pc.STT.Name)
	if len(pc.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(rec, pc.STT.Name, failover("stt"))
		for _, e := range pc.STTFallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				slog.Warn("skipping stt fallback", "name", e.Name, "err", err)
				continue
			}
			track(p)
			group.AddFallback(e.Name, p)
		}
		ps.STT = group
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	if pc.TTS.Name == "" {
		slog.Info("no tts provider configured, replies are text only")
		return ps, closeAll, nil
	}
	voice, err := reg.CreateTTS(pc.TTS)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		closeAll()
		return nil, nil, fmt.Errorf("create tts provider %q: %w", pc.TTS.Name, err)
	} else if err != nil {
		slog.Warn("tts provider unavailable, replies are text only", "name", pc.TTS.Name, "err", err)
		return ps, closeAll, nil
	}
	ps.TTS = voice
	slog.Info("provider created", "kind", "tts", "name", pc.TTS.Name)
	if len(pc.TTSFallbacks) > 0 {
		group := resilience.NewTTSFallback(voice, pc.TTS.Name, failover("tts"))
		for _, e := range pc.TTSFallbacks {
			p, err := reg.CreateTTS(e)
			if err != nil {
				slog.Warn("skipping tts fallback", "name", e.Name, "err", err)
				continue
			}
			group.AddFallback(e.Name, p)
		}
		ps.TTS = group
	}
	return ps, closeAll, nil
}
