// Package turn implements the turn-taking state machine of a session.
//
// One [Orchestrator] goroutine owns the state, the in-flight [Turn] and the
// epoch counter. Capture events, typed text, generation results, playback
// completions and user toggles arrive as commands in an unbounded inbox, so
// the callbacks that deliver them never block. Every asynchronous step
// carries the epoch and turn id it was started with and is ignored if either
// moved on by the time it completes.
package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eduplay/voiceroom/internal/observe"
	"github.com/eduplay/voiceroom/internal/playback"
	"github.com/eduplay/voiceroom/internal/respond"
	"github.com/eduplay/voiceroom/pkg/capture"
	"github.com/eduplay/voiceroom/pkg/frame"
	"github.com/eduplay/voiceroom/pkg/media"
)

// ErrEnded is returned by operations on an ended session.
var ErrEnded = errors.New("turn: session ended")

// subscriberBuffer is the channel depth of each subscriber. Updates to a
// full subscriber are dropped.
const subscriberBuffer = 64

// Responder produces the reply text. *respond.Synthesizer implements it.
type Responder interface {
	Respond(ctx context.Context, req respond.Request) (string, error)
}

// Speaker plays replies. *playback.Speaker implements it.
type Speaker interface {
	Speak(ctx context.Context, text, voiceID string, onComplete func())
	Stop()
}

// FrameSource supplies one camera still per turn. *frame.Sampler
// implements it.
type FrameSource interface {
	CaptureFrame() (*frame.Frame, bool)
}

// Media is the session's device grant. *media.Source implements it.
type Media interface {
	SetTrackEnabled(kind media.TrackKind, enabled bool) error
	SetTransportConnected(connected bool)
	Availability() media.Availability
	Release()
}

var (
	_ Responder   = (*respond.Synthesizer)(nil)
	_ Speaker     = (*playback.Speaker)(nil)
	_ FrameSource = (*frame.Sampler)(nil)
	_ Media       = (*media.Source)(nil)
)

// Config holds per-session settings.
type Config struct {
	SessionID string
	VoiceID   string
	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Orchestrator sequences capture, generation and playback for one session.
type Orchestrator struct {
	capture capture.Provider
	media   Media
	frames  FrameSource
	respond Responder
	speaker Speaker
	cfg     Config
	log     *slog.Logger

	inbox inbox
	done  chan struct{}
	state atomic.Int32

	lifeMu  sync.Mutex
	started bool
	ended   bool
	// ending is set by End before the loop sees cmdEnd; the loop then
	// ignores everything but cmdEnd.
	ending atomic.Bool

	subMu  sync.Mutex
	subs   []chan Update
	closed bool

	// Owned by the loop goroutine.
	ctx        context.Context
	cancel     context.CancelFunc
	epoch      uint64
	turnSeq    uint64
	current    *Turn
	turnCtx    context.Context
	cancelTurn context.CancelFunc
	capState   captureState
	captureSeq uint64
	startReply chan error
	lostLink   bool
}

// captureState tracks the provider as seen by the loop. Starts run off the
// loop and report back with cmdCaptureStarted.
type captureState int

const (
	captureOff captureState = iota
	captureStarting
	captureOn
)

// New assembles an orchestrator. frames may be nil when the session has no
// camera. Capture events must be routed to [Orchestrator.HandleEvent].
func New(cp capture.Provider, m Media, frames FrameSource, r Responder, sp Speaker, cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		capture: cp,
		media:   m,
		frames:  frames,
		respond: r,
		speaker: sp,
		cfg:     cfg,
		log:     slog.With("session_id", cfg.SessionID, "variant", cp.Variant().String()),
		inbox:   newInbox(),
		done:    make(chan struct{}),
	}
}

// State returns the current turn state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Availability returns the session's media state.
func (o *Orchestrator) Availability() media.Availability { return o.media.Availability() }

// Done is closed once the session has ended.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Start runs the loop and starts capture. On success the state is Listening.
// A transport failure of the initial connect is reported to subscribers and
// the session still starts, so typed messages keep working; any other
// capture failure is returned and the session stays Idle.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifeMu.Lock()
	if o.ended {
		o.lifeMu.Unlock()
		return ErrEnded
	}
	if !o.started {
		o.started = true
		o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
		go o.loop()
	}
	o.lifeMu.Unlock()

	reply := make(chan error, 1)
	o.inbox.push(cmdStart{reply: reply})
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEvent routes a capture event into the loop. It never blocks and is
// meant to be the capture provider's sink.
func (o *Orchestrator) HandleEvent(ev capture.Event) {
	switch {
	case ev.Utterance != nil:
		o.inbox.push(cmdUtterance{u: *ev.Utterance, source: SourceSpeech})
	case ev.Err != nil:
		o.inbox.push(cmdCaptureError{err: ev.Err})
	case ev.Transport != nil:
		o.inbox.push(cmdTransport{change: *ev.Transport})
	}
}

// SubmitText sends a typed message. It follows the same gating as speech.
func (o *Orchestrator) SubmitText(text string) {
	o.inbox.push(cmdUtterance{
		u:      capture.Utterance{Text: text, CapturedAt: time.Now()},
		source: SourceText,
	})
}

// SetMuted toggles the microphone and capture without changing the state.
func (o *Orchestrator) SetMuted(muted bool) error {
	return o.call(func(reply chan error) command { return cmdMute{muted: muted, reply: reply} })
}

// SetVideoEnabled toggles the camera.
func (o *Orchestrator) SetVideoEnabled(on bool) error {
	return o.call(func(reply chan error) command { return cmdVideo{on: on, reply: reply} })
}

func (o *Orchestrator) call(mk func(chan error) command) error {
	o.lifeMu.Lock()
	running := o.started && !o.ended
	o.lifeMu.Unlock()
	if !running {
		return ErrEnded
	}
	reply := make(chan error, 1)
	o.inbox.push(mk(reply))
	select {
	case err := <-reply:
		return err
	case <-o.done:
		return ErrEnded
	}
}

// End cancels in-flight work, stops capture and releases the media. It may
// be called any number of times, before or after Start.
func (o *Orchestrator) End() {
	o.lifeMu.Lock()
	if o.ended {
		started := o.started
		o.lifeMu.Unlock()
		if started {
			<-o.done
		}
		return
	}
	o.ended = true
	started := o.started
	o.lifeMu.Unlock()

	if started {
		// Unblocks a capture start that is still dialing.
		o.ending.Store(true)
		o.cancel()
		o.inbox.push(cmdEnd{})
		<-o.done
		return
	}
	o.stopProvider()
	o.closeProvider()
	o.media.Release()
	o.closeSubscribers()
	close(o.done)
}

// Subscribe returns a channel of updates. It is closed when the session
// ends.
func (o *Orchestrator) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.closed {
		close(ch)
		return ch
	}
	o.subs = append(o.subs, ch)
	return ch
}

func (o *Orchestrator) publish(u Update) {
	u.State = o.State()
	u.Availability = o.media.Availability()
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- u:
		default:
			o.log.Debug("turn: subscriber full, update dropped")
		}
	}
}

func (o *Orchestrator) closeSubscribers() {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for _, ch := range o.subs {
		close(ch)
	}
	o.subs = nil
}

// ── loop ──────────────────────────────────────────────────────────────────────

func (o *Orchestrator) loop() {
	defer close(o.done)
	o.cfg.Metrics.ActiveSessions.Add(o.ctx, 1)
	defer o.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)

	for range o.inbox.signal {
		for _, c := range o.inbox.drain() {
			if o.handle(c) {
				return
			}
		}
	}
}

// handle applies one command and reports whether the session ended.
func (o *Orchestrator) handle(c command) bool {
	if o.ending.Load() {
		return o.handleEnding(c)
	}
	switch c := c.(type) {
	case cmdStart:
		o.onStart(c.reply)
	case cmdCaptureStarted:
		o.onCaptureStarted(c)
	case cmdUtterance:
		o.onUtterance(c.u, c.source)
	case cmdGenerated:
		o.onGenerated(c)
	case cmdPlayed:
		o.onPlayed(c)
	case cmdCaptureError:
		o.onCaptureError(c.err)
	case cmdTransport:
		o.onTransport(c.change)
	case cmdMute:
		c.reply <- o.onMute(c.muted)
	case cmdVideo:
		c.reply <- o.onVideo(c.on)
	case cmdEnd:
		o.onEnd()
		return true
	}
	return false
}

// handleEnding drains the inbox after End. Waiting callers get ErrEnded.
func (o *Orchestrator) handleEnding(c command) bool {
	switch c := c.(type) {
	case cmdStart:
		c.reply <- ErrEnded
	case cmdMute:
		c.reply <- ErrEnded
	case cmdVideo:
		c.reply <- ErrEnded
	case cmdEnd:
		o.onEnd()
		return true
	}
	return false
}

func (o *Orchestrator) setState(s State) {
	if State(o.state.Load()) == s {
		return
	}
	o.state.Store(int32(s))
	o.log.Debug("turn: state", "state", s.String())
	o.publish(Update{})
}

// onStart begins the initial capture start. The reply is sent once the
// provider has answered, or right away when there is nothing to start.
func (o *Orchestrator) onStart(reply chan error) {
	if o.State() != Idle || o.startReply != nil {
		// Already running, or the first caller gets the pending result.
		reply <- nil
		return
	}
	o.startReply = reply
	if !o.startCapture() {
		o.markStarted()
	}
}

// markStarted completes a pending Start.
func (o *Orchestrator) markStarted() {
	o.setState(Listening)
	o.log.Info("turn: session started")
	o.startReply <- nil
	o.startReply = nil
}

func (o *Orchestrator) onUtterance(u capture.Utterance, src Source) {
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return
	}
	if st := o.State(); st != Listening {
		o.log.Debug("turn: utterance dropped", "state", st.String(), "source", src.String())
		o.cfg.Metrics.RecordDroppedUtterance(o.ctx, src.String(), st.String())
		return
	}

	o.turnSeq++
	t := &Turn{
		ID:        o.turnSeq,
		Epoch:     o.epoch,
		Utterance: u,
		Source:    src,
		started:   time.Now(),
	}
	o.current = t
	o.setState(Thinking)

	o.cfg.Metrics.RecordUtterance(o.ctx, src.String())
	o.publish(Update{Transcript: &Transcript{Sender: SenderUser, Text: u.Text, At: u.CapturedAt}})

	if o.frames != nil && o.media.Availability().VideoEnabled {
		if f, ok := o.frames.CaptureFrame(); ok {
			t.Frame = f
		}
	}

	ctx, cancel := context.WithCancel(o.ctx)
	o.turnCtx, o.cancelTurn = ctx, cancel
	req := respond.Request{Text: u.Text, Frame: t.Frame}
	id, epoch := t.ID, t.Epoch
	go func() {
		text, err := o.respond.Respond(ctx, req)
		o.inbox.push(cmdGenerated{turnID: id, epoch: epoch, text: text, err: err})
	}()
}

// stale reports whether a completion for (id, epoch) no longer applies in
// state want.
func (o *Orchestrator) stale(id, epoch uint64, want State) bool {
	return epoch != o.epoch || o.current == nil || o.current.ID != id || o.State() != want
}

func (o *Orchestrator) onGenerated(c cmdGenerated) {
	if o.stale(c.turnID, c.epoch, Thinking) {
		o.log.Debug("turn: stale generation ignored", "turn_id", c.turnID)
		return
	}
	t := o.current

	if c.err != nil {
		o.log.Warn("turn: generation failed, using fallback", "turn_id", t.ID, "err", c.err)
		o.cfg.Metrics.Fallbacks.Add(o.ctx, 1)
		t.ResponseText = FallbackText
		o.publish(Update{Transcript: &Transcript{
			Sender: SenderAgent, Text: FallbackText, Fallback: true, At: time.Now(),
		}})
		o.finishTurn()
		return
	}

	t.ResponseText = c.text
	o.publish(Update{Transcript: &Transcript{Sender: SenderAgent, Text: c.text, At: time.Now()}})
	o.stopCapture()
	o.setState(Speaking)

	id, epoch := t.ID, t.Epoch
	o.speaker.Speak(o.turnCtx, c.text, o.cfg.VoiceID, func() {
		o.inbox.push(cmdPlayed{turnID: id, epoch: epoch})
	})
}

func (o *Orchestrator) onPlayed(c cmdPlayed) {
	if o.stale(c.turnID, c.epoch, Speaking) {
		o.log.Debug("turn: stale playback completion ignored", "turn_id", c.turnID)
		return
	}
	o.finishTurn()
}

// finishTurn closes the current turn and returns to Listening.
func (o *Orchestrator) finishTurn() {
	t := o.current
	o.cfg.Metrics.TurnDuration.Record(o.ctx, time.Since(t.started).Seconds())
	o.current = nil
	o.endTurnContext()
	o.setState(Listening)
	o.startCapture()
}

func (o *Orchestrator) endTurnContext() {
	if o.cancelTurn != nil {
		o.cancelTurn()
	}
	o.turnCtx, o.cancelTurn = nil, nil
}

func (o *Orchestrator) onCaptureStarted(c cmdCaptureStarted) {
	if c.seq != o.captureSeq {
		// Superseded by a stop. A start that still succeeded is undone
		// unless capture is wanted again by now.
		if c.err == nil && o.capState == captureOff {
			o.stopProvider()
		}
		return
	}
	pending := o.startReply != nil
	if c.err == nil {
		o.capState = captureOn
		if pending {
			o.markStarted()
		}
		return
	}

	o.capState = captureOff
	transport := capture.IsKind(c.err, capture.KindTransport)
	if pending && !transport {
		o.startReply <- fmt.Errorf("turn: start capture: %w", c.err)
		o.startReply = nil
		return
	}
	if transport {
		o.log.Warn("turn: capture transport unavailable", "err", c.err)
		o.media.SetTransportConnected(false)
		o.lostLink = true
	} else {
		o.log.Warn("turn: restart capture", "err", c.err)
	}
	o.publish(Update{Err: c.err})
	if pending {
		o.markStarted()
	}
}

func (o *Orchestrator) onCaptureError(e *capture.Error) {
	o.cfg.Metrics.RecordProviderError(o.ctx, e.Variant.String(), "capture."+e.Kind.String())
	switch e.Kind {
	case capture.KindTransient:
		o.log.Debug("turn: transient capture error", "err", e)
	case capture.KindRecognition:
		// The variant stopped itself; re-armed on the next Listening entry.
		o.log.Warn("turn: recognition error", "err", e)
		o.capState = captureOff
		o.captureSeq++
		o.publish(Update{Err: e})
	default:
		o.log.Warn("turn: capture transport error", "err", e)
		o.media.SetTransportConnected(false)
		o.lostLink = true
		o.publish(Update{Err: e})
	}
}

func (o *Orchestrator) onTransport(tc capture.TransportChange) {
	o.media.SetTransportConnected(tc.Connected)
	if tc.Connected && o.lostLink {
		o.cfg.Metrics.RecordCaptureReconnect(o.ctx, tc.Variant.String())
	}
	o.lostLink = !tc.Connected
	o.log.Info("turn: transport changed", "connected", tc.Connected)
	o.publish(Update{})
}

func (o *Orchestrator) onMute(muted bool) error {
	if err := o.media.SetTrackEnabled(media.KindAudio, !muted); err != nil {
		return err
	}
	if muted {
		o.stopCapture()
	} else if o.State() == Listening {
		o.startCapture()
	}
	o.publish(Update{})
	return nil
}

func (o *Orchestrator) onVideo(on bool) error {
	if err := o.media.SetTrackEnabled(media.KindVideo, on); err != nil {
		return err
	}
	o.publish(Update{})
	return nil
}

func (o *Orchestrator) onEnd() {
	o.epoch++
	o.endTurnContext()
	o.current = nil
	o.speaker.Stop()
	o.stopCapture()
	o.closeProvider()
	if o.startReply != nil {
		o.startReply <- ErrEnded
		o.startReply = nil
	}
	o.media.Release()
	o.setState(Idle)
	o.cancel()
	o.closeSubscribers()
	o.log.Info("turn: session ended")
}

// startCapture starts the provider in the background and reports whether
// a start is in flight.
func (o *Orchestrator) startCapture() bool {
	if !o.media.Availability().AudioEnabled {
		return false
	}
	if o.capState != captureOff {
		return o.capState == captureStarting
	}
	o.capState = captureStarting
	o.captureSeq++
	seq, ctx := o.captureSeq, o.ctx
	go func() {
		err := o.capture.Start(ctx)
		o.inbox.push(cmdCaptureStarted{seq: seq, err: err})
	}()
	return true
}

// stopCapture stops the provider and supersedes any pending start.
func (o *Orchestrator) stopCapture() {
	o.captureSeq++
	o.capState = captureOff
	o.stopProvider()
}

// closeProvider releases a provider that holds a connection beyond Stop,
// such as a joined room.
func (o *Orchestrator) closeProvider() {
	if cl, ok := o.capture.(io.Closer); ok {
		if err := cl.Close(); err != nil {
			o.log.Warn("turn: close capture", "err", err)
		}
	}
}

func (o *Orchestrator) stopProvider() {
	if err := o.capture.Stop(); err != nil {
		o.log.Warn("turn: stop capture", "err", err)
	}
}

// ── commands ──────────────────────────────────────────────────────────────────

type command any

type cmdStart struct{ reply chan error }

type cmdCaptureStarted struct {
	seq uint64
	err error
}

type cmdUtterance struct {
	u      capture.Utterance
	source Source
}

type cmdGenerated struct {
	turnID uint64
	epoch  uint64
	text   string
	err    error
}

type cmdPlayed struct {
	turnID uint64
	epoch  uint64
}

type cmdCaptureError struct{ err *capture.Error }

type cmdTransport struct{ change capture.TransportChange }

type cmdMute struct {
	muted bool
	reply chan error
}

type cmdVideo struct {
	on    bool
	reply chan error
}

type cmdEnd struct{}

// inbox is an unbounded FIFO with a level-triggered wakeup.
type inbox struct {
	mu     sync.Mutex
	items  []command
	signal chan struct{}
}

func newInbox() inbox {
	return inbox{signal: make(chan struct{}, 1)}
}

func (b *inbox) push(c command) {
	b.mu.Lock()
	b.items = append(b.items, c)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []command {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}
