// Package streaming implements the streaming-socket capture variant: the
// microphone is cut into fixed-size chunks and sent to a streaming
// speech-to-text session, and finalized transcripts become utterances.
//
// A dropped session is torn down and re-opened with exponential backoff;
// only an exhausted retry budget is reported as a transport error.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/provider/stt"
)

// DefaultChunkDuration is the amount of audio sent per message.
const DefaultChunkDuration = 250 * time.Millisecond

// socketFormat is the PCM format sent to the recognizer.
var socketFormat = audio.Format{SampleRate: 16000, Channels: 1}

var _ capture.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithChunkDuration overrides [DefaultChunkDuration].
func WithChunkDuration(d time.Duration) Option {
	return func(p *Provider) { p.chunk = d }
}

// WithReconnect configures the reconnect budget. Zero values keep the
// [capture.Reconnector] defaults.
func WithReconnect(maxRetries int, backoff, maxBackoff time.Duration) Option {
	return func(p *Provider) {
		p.maxRetries = maxRetries
		p.backoff = backoff
		p.maxBackoff = maxBackoff
	}
}

// Provider is the streaming capture variant.
type Provider struct {
	stt    stt.Provider
	mic    capture.AudioSource
	locale string
	emit   *capture.Emitter
	chunk  time.Duration

	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration

	mu         sync.Mutex
	active     bool
	connecting bool
	connected  bool
	conn       *conn
	rc         *capture.Reconnector
}

// New returns a streaming provider transcribing mic with s in lang.
func New(s stt.Provider, mic capture.AudioSource, lang string, sink capture.Sink, opts ...Option) *Provider {
	p := &Provider{
		stt:    s,
		mic:    mic,
		locale: capture.Locale(lang),
		emit:   capture.NewEmitter(capture.Streaming, sink),
		chunk:  DefaultChunkDuration,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) Variant() capture.Variant { return capture.Streaming }

// Connected reports whether a session is open.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Start opens a session. It is a no-op while connecting or connected.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.active || p.connecting || p.connected {
		p.mu.Unlock()
		return nil
	}
	old := p.rc
	p.active = true
	p.rc = capture.NewReconnector(capture.ReconnectorConfig{
		Variant:    capture.Streaming,
		Connect:    p.connect,
		MaxRetries: p.maxRetries,
		Backoff:    p.backoff,
		MaxBackoff: p.maxBackoff,
		OnGiveUp:   p.giveUp,
	})
	rc := p.rc
	p.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	rc.Monitor(ctx)

	if err := p.connect(ctx); err != nil {
		p.mu.Lock()
		if p.rc == rc {
			p.active = false
			p.rc = nil
		}
		p.mu.Unlock()
		rc.Stop()
		return &capture.Error{Variant: capture.Streaming, Kind: capture.KindTransport, Err: err}
	}
	return nil
}

// Stop closes the session and cancels pending reconnects. Idempotent.
func (p *Provider) Stop() error {
	p.mu.Lock()
	p.active = false
	c := p.conn
	p.conn = nil
	p.connecting = false
	p.connected = false
	rc := p.rc
	p.rc = nil
	p.mu.Unlock()

	if rc != nil {
		rc.Stop()
	}
	if c != nil {
		c.close()
	}
	return nil
}

// conn is one open recognizer session and its microphone subscription.
type conn struct {
	sess stt.SessionHandle

	mu          sync.Mutex
	conv        *audio.Converter
	chunker     *audio.Chunker
	unsubscribe func()
	closeOnce   sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		unsub := c.unsubscribe
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		_ = c.sess.Close()
	})
}

func (p *Provider) connect(ctx context.Context) error {
	p.mu.Lock()
	if !p.active {
		p.mu.Unlock()
		return nil
	}
	p.connecting = true
	p.mu.Unlock()

	sess, err := p.open(ctx)
	if err != nil {
		p.mu.Lock()
		p.connecting = false
		p.mu.Unlock()
		return err
	}

	c := &conn{
		sess:    sess,
		conv:    audio.NewConverter(socketFormat),
		chunker: audio.NewChunker(socketFormat, p.chunk),
	}

	p.mu.Lock()
	if !p.active || p.conn != nil {
		// Stopped while dialing, or a newer start already connected.
		if p.conn == nil {
			p.connecting = false
		}
		p.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	p.conn = c
	p.connecting = false
	p.connected = true
	p.mu.Unlock()

	if feed := p.mic.Audio(); feed != nil {
		unsub := feed.Subscribe(func(f audio.AudioFrame) { p.send(c, f) })
		c.mu.Lock()
		c.unsubscribe = unsub
		c.mu.Unlock()
	}
	go p.pump(c)

	slog.Info("streaming: connected", "locale", p.locale)
	p.emit.Transport(true)
	return nil
}

func (p *Provider) open(ctx context.Context) (stt.SessionHandle, error) {
	if p.mic.Audio() == nil {
		return nil, errors.New("streaming: no microphone")
	}
	sess, err := p.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: socketFormat.SampleRate,
		Channels:   socketFormat.Channels,
		Language:   p.locale,
	})
	if err != nil {
		return nil, fmt.Errorf("streaming: open session: %w", err)
	}
	return sess, nil
}

// send converts and chunks f. Chunks are only sent while c is the live
// connection.
func (p *Provider) send(c *conn, f audio.AudioFrame) {
	c.mu.Lock()
	f = c.conv.Convert(f)
	chunks := c.chunker.Write(f.Data)
	c.mu.Unlock()

	for _, chunk := range chunks {
		if !p.live(c) {
			return
		}
		if err := c.sess.SendAudio(chunk); err != nil {
			slog.Debug("streaming: send audio", "err", err)
			return
		}
	}
}

func (p *Provider) live(c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && p.conn == c
}

// pump discards interim results and emits finals until the session ends.
// Finals still buffered after Stop are dropped.
func (p *Provider) pump(c *conn) {
	partials, finals := c.sess.Partials(), c.sess.Finals()
	for partials != nil || finals != nil {
		select {
		case _, ok := <-partials:
			if !ok {
				partials = nil
			}
		case tr, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			if tr.IsFinal && p.live(c) {
				p.emit.Utterance(tr.Text)
			}
		}
	}
	p.closed(c)
}

// closed handles a session that ended without Stop.
func (p *Provider) closed(c *conn) {
	p.mu.Lock()
	if p.conn != c {
		p.mu.Unlock()
		return
	}
	p.conn = nil
	p.connected = false
	p.connecting = false
	rc := p.rc
	p.mu.Unlock()

	c.close()
	slog.Warn("streaming: session closed", "err", c.sess.Err())
	p.emit.Transport(false)
	if rc != nil {
		rc.NotifyDisconnect()
	}
}

func (p *Provider) giveUp(err error) {
	p.mu.Lock()
	p.active = false
	p.mu.Unlock()
	p.emit.Fail(capture.KindTransport, err)
}
