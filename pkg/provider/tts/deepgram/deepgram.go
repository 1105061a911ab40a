// Package deepgram provides a TTS provider backed by Deepgram's Aura speak
// WebSocket through the official Go SDK. A voice ID is an Aura model name
// such as "aura-2-thalia-en".
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/provider/tts"
)

const (
	defaultModel      = "aura-2-thalia-en"
	defaultSampleRate = 16000

	// defaultIdle ends a synthesis when audio stopped arriving and the server
	// never acknowledged the flush.
	defaultIdle = 750 * time.Millisecond
)

var _ tts.Provider = (*Provider)(nil)

// wsClient is the part of the SDK's speak client that Synthesize drives.
type wsClient interface {
	Connect() bool
	SpeakWithText(text string) error
	Flush() error
	Stop()
}

type dialFunc func(ctx context.Context, apiKey string, opts *clientinterfaces.WSSpeakOptions, c *collector) (wsClient, error)

func dialSDK(ctx context.Context, apiKey string, opts *clientinterfaces.WSSpeakOptions, c *collector) (wsClient, error) {
	return speak.NewWSUsingCallback(ctx, apiKey, &clientinterfaces.ClientOptions{}, opts, c)
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel sets the default Aura model.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate sets the linear16 output rate.
func WithSampleRate(hz int) Option {
	return func(p *Provider) { p.sampleRate = hz }
}

// WithIdleTimeout overrides how long Synthesize waits after the last audio
// when the flush is never acknowledged.
func WithIdleTimeout(d time.Duration) Option {
	return func(p *Provider) { p.idle = d }
}

// Provider implements tts.Provider on the Deepgram speak WebSocket.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	idle       time.Duration
	dial       dialFunc
}

// New creates a Deepgram speak provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		idle:       defaultIdle,
		dial:       dialSDK,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. It opens one speak socket per call,
// sends the text, flushes and collects binary audio until the server reports
// the flush complete.
func (p *Provider) Synthesize(ctx context.Context, text, voiceID string) (audio.AudioFrame, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.AudioFrame{}, tts.ErrEmptyText
	}
	model := p.model
	if voiceID != "" {
		model = voiceID
	}

	c := newCollector()
	dg, err := p.dial(ctx, p.apiKey, &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		SampleRate: p.sampleRate,
	}, c)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("deepgram: create speak client: %w", err)
	}
	if !dg.Connect() {
		return audio.AudioFrame{}, errors.New("deepgram: speak connect failed")
	}
	defer dg.Stop()

	if err := dg.SpeakWithText(text); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		return audio.AudioFrame{}, fmt.Errorf("deepgram: flush: %w", err)
	}

	if err := c.wait(ctx, p.idle); err != nil {
		return audio.AudioFrame{}, err
	}
	pcm := c.audio()
	if len(pcm) < 2 {
		return audio.AudioFrame{}, fmt.Errorf("deepgram: %w", tts.ErrNoAudio)
	}
	return audio.AudioFrame{Data: pcm[:len(pcm)&^1], SampleRate: p.sampleRate, Channels: 1}, nil
}

// collector receives the speak socket callbacks and accumulates audio.
type collector struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	last time.Time
	err  error

	done chan struct{}
	once sync.Once
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) finish(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *collector) audio() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// wait blocks until the flush is acknowledged, the socket fails, ctx ends or
// audio has been idle for idle after at least one chunk arrived.
func (c *collector) wait(ctx context.Context, idle time.Duration) error {
	tick := time.NewTicker(idle / 4)
	defer tick.Stop()
	for {
		select {
		case <-c.done:
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			c.mu.Lock()
			last := c.last
			c.mu.Unlock()
			if !last.IsZero() && time.Since(last) > idle {
				return nil
			}
		}
	}
}

func (c *collector) Binary(data []byte) error {
	c.mu.Lock()
	c.buf.Write(data)
	c.last = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *collector) Flush(*msginterfaces.FlushedResponse) error {
	c.finish(nil)
	return nil
}

func (c *collector) Error(e *msginterfaces.ErrorResponse) error {
	c.finish(fmt.Errorf("deepgram: speak: %+v", e))
	return nil
}

func (c *collector) Close(*msginterfaces.CloseResponse) error {
	c.finish(nil)
	return nil
}

func (c *collector) Open(*msginterfaces.OpenResponse) error         { return nil }
func (c *collector) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (c *collector) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (c *collector) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (c *collector) UnhandledEvent([]byte) error                    { return nil }
