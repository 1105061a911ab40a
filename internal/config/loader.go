package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/eduplay/voiceroom/pkg/capture"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"deepgram", "whisper"},
	"llm": {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"elevenlabs", "deepgram"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Session
	s := cfg.Session
	variant, err := capture.ParseVariant(s.Variant)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.variant: %w", err))
	}
	if s.Language != "en" && s.Language != "bn" {
		errs = append(errs, fmt.Errorf("session.language %q is invalid; valid values: en, bn", s.Language))
	}
	if s.ChildAge < 1 || s.ChildAge > 17 {
		errs = append(errs, fmt.Errorf("session.child_age %d is out of range [1, 17]", s.ChildAge))
	}
	if s.GenerateTimeout < 0 || s.SynthesisTimeout < 0 {
		errs = append(errs, errors.New("session timeouts must not be negative"))
	}

	// Agents
	seen := make(map[string]int, len(cfg.Agents))
	for i, a := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[a.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, a.Name, prev))
			}
			seen[a.Name] = i
		}
		if a.SystemInstruction == "" {
			errs = append(errs, fmt.Errorf("%s.system_instruction is required", prefix))
		}
	}
	if _, ok := cfg.Agent(s.Agent); !ok {
		errs = append(errs, fmt.Errorf("session.agent %q does not name a configured agent", s.Agent))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.TTS.Name == "" && s.SoundEnabled() {
		slog.Warn("providers.tts is not configured; replies will only be printed")
	}

	// Capture variant ↔ provider cross-validation
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if err == nil {
		switch variant {
		case capture.OnDevice:
			if cfg.Providers.STT.Name != "" && cfg.Providers.STT.Name != "whisper" {
				slog.Warn("on-device capture normally runs a local whisper model",
					"stt", cfg.Providers.STT.Name)
			}
		case capture.Room:
			room := cfg.Capture.Room
			if room.URL == "" || room.APIKey == "" || room.APISecret == "" || room.Room == "" {
				errs = append(errs, errors.New("capture.room requires url, api_key, api_secret and room"))
			}
		}
	}

	if cfg.Capture.SampleRate < 8000 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d is below 8000", cfg.Capture.SampleRate))
	}
	if cfg.Camera.Quality < 0 || cfg.Camera.Quality > 100 {
		errs = append(errs, fmt.Errorf("camera.quality %d is out of range [0, 100]", cfg.Camera.Quality))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
