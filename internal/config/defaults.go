package config

import "time"

// Defaults applied by [ApplyDefaults].
const (
	DefaultVariant          = "on-device"
	DefaultLanguage         = "en"
	DefaultAgent            = "Adam"
	DefaultChildAge         = 6
	DefaultGenerateTimeout  = 20 * time.Second
	DefaultSynthesisTimeout = 15 * time.Second
	DefaultSampleRate       = 16000
)

// DefaultAgents returns the built-in personas. Voice ids are placeholders to
// be replaced with real ids of the configured TTS provider.
func DefaultAgents() []AgentConfig {
	return []AgentConfig{
		{
			Name:    "Adam",
			VoiceID: "adam-voice-id",
			SystemInstruction: "You are Adam, a playful, silly learning buddy for young children. " +
				"Be curious and encouraging, use simple words a 4 to 6 year old understands, " +
				"and answer in one or two short, cheerful sentences.",
		},
		{
			Name:    "MarkRober",
			VoiceID: "mark-rober-voice-id",
			SystemInstruction: "You are Mark Rober, an enthusiastic science and engineering mentor for kids. " +
				"Turn big ideas into one or two exciting sentences with a simple analogy " +
				"and encourage the child to experiment.",
		},
		{
			Name:    "MrBeast",
			VoiceID: "mr-beast-voice-id",
			SystemInstruction: "You are MrBeast, a hype master for challenges and games. " +
				"Be loud, energetic and reward-focused with plenty of exclamation points, " +
				"and keep every reply short.",
		},
		{
			Name:    "Eva",
			VoiceID: "eva-voice-id",
			SystemInstruction: "You are Eva, a warm and gentle guide. " +
				"Connect learning with emotional support and answer in one or two calm, kind sentences.",
		},
	}
}

// ApplyDefaults fills every unset field with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}

	s := &cfg.Session
	if s.Variant == "" {
		s.Variant = DefaultVariant
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.Agent == "" {
		s.Agent = DefaultAgent
	}
	if s.ChildAge == 0 {
		s.ChildAge = DefaultChildAge
	}
	if s.GenerateTimeout == 0 {
		s.GenerateTimeout = DefaultGenerateTimeout
	}
	if s.SynthesisTimeout == 0 {
		s.SynthesisTimeout = DefaultSynthesisTimeout
	}

	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}

	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultAgents()
	}
}
