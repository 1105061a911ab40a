// Package mock provides a test double for capture.Provider.
//
// The double records Start/Stop calls and lets a test push events into the
// sink it was given, as a real variant would.
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eduplay/voiceroom/pkg/capture"
)

// Provider is a mock implementation of capture.Provider.
type Provider struct {
	mu      sync.Mutex
	variant capture.Variant
	sink    capture.Sink
	running bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	StartCalls int
	StopCalls  int
}

// New returns a running-capable mock of variant v delivering to sink.
func New(v capture.Variant, sink capture.Sink) *Provider {
	return &Provider{variant: v, sink: sink}
}

// SetSink replaces the sink. Used when the consumer is built after the
// provider.
func (p *Provider) SetSink(sink capture.Sink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *Provider) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls++
	if p.StartErr != nil {
		return p.StartErr
	}
	p.running = true
	return nil
}

func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	p.running = false
	return nil
}

func (p *Provider) Variant() capture.Variant { return p.variant }

// Running reports whether Start succeeded more recently than Stop.
func (p *Provider) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Counts returns the Start and Stop call counts.
func (p *Provider) Counts() (starts, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.StartCalls, p.StopCalls
}

func (p *Provider) send(ev capture.Event) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

// Say emits an utterance regardless of running state, like a late result.
func (p *Provider) Say(text string) {
	p.send(capture.Event{Utterance: &capture.Utterance{Text: text, CapturedAt: time.Now()}})
}

// Fail emits an error of kind k.
func (p *Provider) Fail(k capture.Kind, msg string) {
	p.send(capture.Event{Err: &capture.Error{Variant: p.variant, Kind: k, Err: errors.New(msg)}})
}

// Transport emits a transport change.
func (p *Provider) Transport(connected bool) {
	p.send(capture.Event{Transport: &capture.TransportChange{Variant: p.variant, Connected: connected}})
}

var _ capture.Provider = (*Provider)(nil)
