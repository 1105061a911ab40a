// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// one-shot text-to-speech REST endpoint. It implements the tts.Provider
// interface and asks for raw PCM so no decoder is needed before playback.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	defaultVoice     = "21m00Tcm4TlvDq8ikWAM"
	defaultTimeout   = 30 * time.Second

	// maxErrorBody bounds how much of a failed response is kept for the error.
	maxErrorBody = 512
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_22050",
// "pcm_24000" or "pcm_44100").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when Synthesize gets no voice ID.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) {
		p.defaultVoice = id
	}
}

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	baseURL      string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		defaultVoice: defaultVoice,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := sampleRate(p.outputFormat); err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	return p, nil
}

// synthesisRequest is the JSON body of POST /v1/text-to-speech/{voice}.
type synthesisRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (audio.AudioFrame, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.AudioFrame{}, tts.ErrEmptyText
	}
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	rate, _ := sampleRate(p.outputFormat)

	body, err := json.Marshal(synthesisRequest{
		Text:          text,
		ModelID:       p.model,
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.synthesisURL(voiceID), bytes.NewReader(body))
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: synthesize: unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if len(pcm) < 2 {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: %w", tts.ErrNoAudio)
	}
	// Drop a trailing odd byte so the frame holds whole samples.
	pcm = pcm[:len(pcm)&^1]

	return audio.AudioFrame{Data: pcm, SampleRate: rate, Channels: 1}, nil
}

// synthesisURL builds the endpoint for voiceID with the output format query.
func (p *Provider) synthesisURL(voiceID string) string {
	q := url.Values{}
	q.Set("output_format", p.outputFormat)
	return p.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "?" + q.Encode()
}

// sampleRate parses the rate out of a "pcm_<hz>" output format.
func sampleRate(format string) (int, error) {
	hz, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("output format %q is not raw pcm", format)
	}
	n, err := strconv.Atoi(hz)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("output format %q has no sample rate", format)
	}
	return n, nil
}
