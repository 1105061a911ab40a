// Package room implements the room capture variant: the client joins a
// real-time media room, publishes its microphone as an opus track, and
// transcribes the inbound remote audio track.
//
// Stop pauses capture without leaving the room: the microphone stops
// publishing and remote audio is no longer transcribed. Close leaves.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eduplay/voiceroom/pkg/audio"
	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/provider/stt"
)

var (
	// recognizerFormat is what the speech-to-text session receives.
	recognizerFormat = audio.Format{SampleRate: 16000, Channels: 1}

	// publishFormat is what the opus encoder consumes.
	publishFormat = audio.Format{SampleRate: audio.OpusSampleRate, Channels: 1}

	opusFrame = audio.OpusFrameMs * time.Millisecond
)

var (
	_ capture.Provider = (*Provider)(nil)
	_ io.Closer        = (*Provider)(nil)
)

// Config configures the room connection.
type Config struct {
	// URL is the signaling server (e.g. "wss://example.livekit.cloud").
	URL string

	APIKey    string
	APISecret string

	// Room is the room name to join.
	Room string

	// Identity is this participant's identity. Required.
	Identity string

	// Name is the display name. Optional.
	Name string

	// TokenTTL defaults to [DefaultTokenTTL].
	TokenTTL time.Duration

	// Reconnect budget; zero values keep the [capture.Reconnector] defaults.
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

type encoder interface {
	Encode(pcm []byte) ([][]byte, error)
}

type decoder interface {
	Decode(packet []byte) (audio.AudioFrame, error)
}

// Provider is the room capture variant.
type Provider struct {
	cfg       Config
	transport Transport
	stt       stt.Provider
	mic       capture.AudioSource
	locale    string
	emit      *capture.Emitter

	newEncoder func(channels int) (encoder, error)
	newDecoder func(channels int) (decoder, error)

	// listening gates the mic, the recognizer feed and emitted utterances.
	listening atomic.Bool

	mu         sync.Mutex
	active     bool
	connecting bool
	connected  bool
	conn       *conn
	rc         *capture.Reconnector
}

// New returns a room provider. The mic is published and the remote audio
// is transcribed with s in lang.
func New(cfg Config, t Transport, s stt.Provider, mic capture.AudioSource, lang string, sink capture.Sink) *Provider {
	return &Provider{
		cfg:       cfg,
		transport: t,
		stt:       s,
		mic:       mic,
		locale:    capture.Locale(lang),
		emit:      capture.NewEmitter(capture.Room, sink),
		newEncoder: func(ch int) (encoder, error) {
			return audio.NewOpusEncoder(ch)
		},
		newDecoder: func(ch int) (decoder, error) {
			return audio.NewOpusDecoder(ch)
		},
	}
}

func (p *Provider) Variant() capture.Variant { return capture.Room }

// Connected reports whether the room is joined.
func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Listening reports whether capture is running.
func (p *Provider) Listening() bool { return p.listening.Load() }

// Start resumes capture, joining the room first if needed. It is a no-op
// while joining or joined.
func (p *Provider) Start(ctx context.Context) error {
	p.listening.Store(true)
	p.mu.Lock()
	if p.active || p.connecting || p.connected {
		p.mu.Unlock()
		return nil
	}
	old := p.rc
	p.active = true
	p.rc = capture.NewReconnector(capture.ReconnectorConfig{
		Variant:    capture.Room,
		Connect:    p.connect,
		MaxRetries: p.cfg.MaxRetries,
		Backoff:    p.cfg.Backoff,
		MaxBackoff: p.cfg.MaxBackoff,
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
		return &capture.Error{Variant: capture.Room, Kind: capture.KindTransport, Err: err}
	}
	return nil
}

// Stop pauses capture. The room stays joined. Idempotent.
func (p *Provider) Stop() error {
	p.listening.Store(false)
	return nil
}

// Close leaves the room and cancels pending rejoins. Idempotent.
func (p *Provider) Close() error {
	p.listening.Store(false)
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

// conn holds everything owned by one room join.
type conn struct {
	mu          sync.Mutex
	room        Session
	sess        stt.SessionHandle
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		unsub, room, sess := c.unsubscribe, c.room, c.sess
		c.mu.Unlock()
		close(c.done)
		if unsub != nil {
			unsub()
		}
		if room != nil {
			room.Leave()
		}
		if sess != nil {
			_ = sess.Close()
		}
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

	c := &conn{done: make(chan struct{})}
	if err := p.join(ctx, c); err != nil {
		c.close()
		p.mu.Lock()
		p.connecting = false
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	if !p.active || p.conn != nil {
		// Closed while joining, or a newer start already joined.
		if p.conn == nil {
			p.connecting = false
		}
		p.mu.Unlock()
		c.close()
		return nil
	}
	p.conn = c
	p.connecting = false
	p.connected = true
	p.mu.Unlock()

	go p.pump(c)

	slog.Info("room: joined", "room", p.cfg.Room, "identity", p.cfg.Identity)
	p.emit.Transport(true)
	return nil
}

// join mints a token, opens the recognizer, joins the room and publishes
// the microphone. Partial state is left on c for close.
func (p *Provider) join(ctx context.Context, c *conn) error {
	token, err := MintToken(TokenConfig{
		APIKey:    p.cfg.APIKey,
		APISecret: p.cfg.APISecret,
		Room:      p.cfg.Room,
		Identity:  p.cfg.Identity,
		Name:      p.cfg.Name,
		TTL:       p.cfg.TokenTTL,
	})
	if err != nil {
		return err
	}

	sess, err := p.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: recognizerFormat.SampleRate,
		Channels:   recognizerFormat.Channels,
		Language:   p.locale,
	})
	if err != nil {
		return fmt.Errorf("room: open recognizer: %w", err)
	}
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	room, err := p.transport.Join(ctx, p.cfg.URL, token, Handler{
		OnRemoteAudio:  func(t RemoteAudio) { go p.readRemote(c, t) },
		OnDisconnected: func() { p.disconnected(c) },
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()

	return p.publish(c, room)
}

func (p *Provider) publish(c *conn, room Session) error {
	feed := p.mic.Audio()
	if feed == nil {
		return errors.New("room: no microphone")
	}
	sink, err := room.PublishAudio(publishFormat.Channels)
	if err != nil {
		return err
	}
	enc, err := p.newEncoder(publishFormat.Channels)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	conv := audio.NewConverter(publishFormat)
	unsub := feed.Subscribe(func(f audio.AudioFrame) {
		if !p.listening.Load() {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		packets, err := enc.Encode(conv.Convert(f).Data)
		if err != nil {
			slog.Debug("room: encode mic", "err", err)
		}
		for _, pkt := range packets {
			if err := sink.WriteOpus(pkt, opusFrame); err != nil {
				slog.Debug("room: write mic sample", "err", err)
				return
			}
		}
	})
	c.mu.Lock()
	c.unsubscribe = unsub
	c.mu.Unlock()
	return nil
}

// readRemote decodes an inbound track into the recognizer until the track
// or the connection ends.
func (p *Provider) readRemote(c *conn, t RemoteAudio) {
	dec, err := p.newDecoder(t.Channels())
	if err != nil {
		slog.Warn("room: create decoder", "track", t.ID(), "err", err)
		return
	}
	conv := audio.NewConverter(recognizerFormat)
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	for {
		pkt, err := t.ReadPacket()
		if err != nil {
			slog.Debug("room: remote track ended", "track", t.ID(), "err", err)
			return
		}
		select {
		case <-c.done:
			return
		default:
		}
		if !p.listening.Load() {
			continue
		}
		f, err := dec.Decode(pkt)
		if err != nil {
			slog.Debug("room: decode remote audio", "track", t.ID(), "err", err)
			continue
		}
		if pcm := conv.Convert(f).Data; len(pcm) > 0 {
			if err := sess.SendAudio(pcm); err != nil {
				return
			}
		}
	}
}

// pump emits finals until the recognizer ends. Finals arriving while
// paused or after c was replaced are dropped.
func (p *Provider) pump(c *conn) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	partials, finals := sess.Partials(), sess.Finals()
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
			if tr.IsFinal && p.listening.Load() && p.live(c) {
				p.emit.Utterance(tr.Text)
			}
		}
	}
	p.disconnected(c)
}

func (p *Provider) live(c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && p.conn == c
}

// disconnected tears down c if it is still the live connection and asks
// for a rejoin.
func (p *Provider) disconnected(c *conn) {
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
	slog.Warn("room: disconnected", "room", p.cfg.Room)
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
