// Package config provides the configuration schema, loader, and provider
// registry for a voiceroom session.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogText LogFormat = "text"
	LogJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogText || f == LogJSON
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Capture   CaptureConfig   `yaml:"capture"`
	Camera    CameraConfig    `yaml:"camera"`
	Providers ProvidersConfig `yaml:"providers"`
	Agents    []AgentConfig   `yaml:"agents"`
}

// ServerConfig holds the ops listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`
}

// SessionConfig holds the parameters of a conversation session.
type SessionConfig struct {
	// Variant is the capture variant: "on-device", "streaming" or "room".
	Variant string `yaml:"variant"`

	// Language is "en" or "bn".
	Language string `yaml:"language"`

	// Agent names the entry of Agents that answers.
	Agent string `yaml:"agent"`

	// ChildAge is woven into the generation prompt.
	ChildAge int `yaml:"child_age"`

	// Sound enables spoken replies. Defaults to true.
	Sound *bool `yaml:"sound"`

	// Video requests the camera. Defaults to true.
	Video *bool `yaml:"video"`

	GenerateTimeout  time.Duration `yaml:"generate_timeout"`
	SynthesisTimeout time.Duration `yaml:"synthesis_timeout"`
}

// SoundEnabled reports whether replies are spoken.
func (s SessionConfig) SoundEnabled() bool { return s.Sound == nil || *s.Sound }

// VideoEnabled reports whether the camera is requested.
func (s SessionConfig) VideoEnabled() bool { return s.Video == nil || *s.Video }

// CaptureConfig tunes the capture variants.
type CaptureConfig struct {
	// SampleRate of the microphone in Hz.
	SampleRate int `yaml:"sample_rate"`

	// RestartDelay debounces on-device engine restarts.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// ChunkDuration is the streaming upload chunk length.
	ChunkDuration time.Duration `yaml:"chunk_duration"`

	// Reconnect budget of the streaming and room variants.
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`

	Room RoomConfig `yaml:"room"`
}

// RoomConfig configures the room variant.
type RoomConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	Room      string        `yaml:"room"`
	Identity  string        `yaml:"identity"`
	Name      string        `yaml:"name"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// CameraConfig configures the still camera and the frame sampler.
type CameraConfig struct {
	// Image is a JPEG or PNG served as the camera picture. Empty means no
	// camera.
	Image string `yaml:"image"`

	FPS      int `yaml:"fps"`
	MaxWidth int `yaml:"max_width"`
	Quality  int `yaml:"quality"`
}

// ProvidersConfig selects the backend of each pipeline stage. Each entry is
// resolved through the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`

	// STTFallbacks are tried in order when opening a recognition stream fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// TTSFallbacks are tried in order when TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// AgentConfig is a persona the child talks to.
type AgentConfig struct {
	Name string `yaml:"name"`

	// VoiceID is the synthesis voice, passed to the TTS provider as is.
	VoiceID string `yaml:"voice_id"`

	// SystemInstruction shapes the persona of every reply.
	SystemInstruction string `yaml:"system_instruction"`
}

// Agent returns the agent named name.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return AgentConfig{}, false
}

// OptionString returns Options[key] as a string, or def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns Options[key] as an int, or def.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
