// Package observe provides the observability primitives shared by every
// voiceroom session: OpenTelemetry metrics and tracing, trace-aware slog
// loggers, and HTTP middleware for the ops server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus bridge set up by [InitProvider]. Components that are
// not handed a [Metrics] fall back to [DefaultMetrics]; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voiceroom metrics.
const meterName = "github.com/eduplay/voiceroom"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// TurnDuration tracks the time from an accepted utterance to the agent
	// finishing its reply (or falling back).
	TurnDuration metric.Float64Histogram

	// GenerateDuration tracks reply generation latency.
	GenerateDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech latency.
	SynthesisDuration metric.Float64Histogram

	// ProviderRequests counts provider calls. Attributes: provider, kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// UtterancesAccepted counts user turns that started a reply.
	// Attribute: source ("speech" or "text").
	UtterancesAccepted metric.Int64Counter

	// UtterancesDropped counts user turns ignored because the agent was not
	// listening. Attributes: source, state.
	UtterancesDropped metric.Int64Counter

	// Fallbacks counts turns answered with the local apology.
	Fallbacks metric.Int64Counter

	// CaptureReconnects counts reconnect attempts. Attribute: variant.
	CaptureReconnects metric.Int64Counter

	// ActiveSessions tracks the number of live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks ops server latency. Attributes: method, path
	// (the route pattern), status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Turns
// include model and playback time and run well past a second.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.TurnDuration, err = histogram("voiceroom.turn.duration",
		"Time from an accepted utterance to the end of the reply."); err != nil {
		return nil, err
	}
	if met.GenerateDuration, err = histogram("voiceroom.generate.duration",
		"Latency of reply generation."); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = histogram("voiceroom.synthesis.duration",
		"Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("voiceroom.provider.requests",
		metric.WithDescription("Provider calls by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voiceroom.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesAccepted, err = m.Int64Counter("voiceroom.utterances.accepted",
		metric.WithDescription("User turns that started a reply."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDropped, err = m.Int64Counter("voiceroom.utterances.dropped",
		metric.WithDescription("User turns ignored while the agent was not listening."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("voiceroom.turn.fallbacks",
		metric.WithDescription("Turns answered with the local apology."),
	); err != nil {
		return nil, err
	}
	if met.CaptureReconnects, err = m.Int64Counter("voiceroom.capture.reconnects",
		metric.WithDescription("Speech capture reconnect attempts by variant."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voiceroom.active_sessions",
		metric.WithDescription("Number of live sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voiceroom.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records an accepted user turn from source.
func (m *Metrics) RecordUtterance(ctx context.Context, source string) {
	m.UtterancesAccepted.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordDroppedUtterance records a user turn ignored in state.
func (m *Metrics) RecordDroppedUtterance(ctx context.Context, source, state string) {
	m.UtterancesDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("state", state),
		),
	)
}

// RecordCaptureReconnect records a reconnect attempt by a capture variant.
func (m *Metrics) RecordCaptureReconnect(ctx context.Context, variant string) {
	m.CaptureReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("variant", variant)))
}
