// Package observe wires PanelAI's telemetry: OpenTelemetry instruments for
// sessions, audio and model calls, tracing helpers, a trace-aware logger and
// the HTTP middleware that ties them together.
//
// Instruments are created from whatever [metric.MeterProvider] is global
// when [DefaultMetrics] is first called; [InitProvider] installs one that
// is exported through Prometheus. Tests build their own with [NewMetrics]
// and a manual reader.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/panelai"

// Metrics holds every instrument PanelAI records. The OTel instruments are
// safe for concurrent use.
type Metrics struct {
	// ── Sessions ──

	// ActiveSessions is the number of connected interviews.
	ActiveSessions metric.Int64UpDownCounter
	// SessionsEnded counts finished interviews by "reason".
	SessionsEnded metric.Int64Counter
	// SessionDuration is the wall-clock length of finished interviews.
	SessionDuration metric.Float64Histogram
	// SessionErrors counts session failures by "kind".
	SessionErrors metric.Int64Counter
	// TranscriptTurns counts finalized turns by "speaker".
	TranscriptTurns metric.Int64Counter

	// ── Audio ──

	// AudioFramesSent counts microphone frames handed to the connection.
	AudioFramesSent metric.Int64Counter
	// ChunksPlayed counts speech chunks scheduled for playback.
	ChunksPlayed metric.Int64Counter
	// Interruptions counts barge-ins that discarded queued speech.
	Interruptions metric.Int64Counter

	// ── Text models ──

	// ProviderRequests counts model calls by "provider", "kind" and "status".
	ProviderRequests metric.Int64Counter
	// FeedbackDuration is the latency of report generation.
	FeedbackDuration metric.Float64Histogram

	// ── HTTP ──

	// HTTPRequestDuration is request latency by "method", "route" and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// Histogram boundaries in seconds.
var (
	latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40}
	sessionBuckets = []float64{10, 30, 60, 120, 300, 600, 900, 1200}
)

// instruments creates instruments on one meter and keeps the first error.
type instruments struct {
	m   metric.Meter
	err error
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.m.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.m.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *instruments) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if buckets != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := b.m.Float64Histogram(name, opts...)
	b.keep(err)
	return h
}

func (b *instruments) keep(err error) {
	if b.err == nil {
		b.err = err
	}
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		ActiveSessions:  b.upDown("panelai.sessions.active", "Number of live interview sessions."),
		SessionsEnded:   b.counter("panelai.session.ended", "Finished sessions by end reason."),
		SessionDuration: b.seconds("panelai.session.duration", "Length of finished interview sessions.", sessionBuckets),
		SessionErrors:   b.counter("panelai.session.errors", "Session errors by kind."),
		TranscriptTurns: b.counter("panelai.transcript.turns", "Finalized transcript turns by speaker."),

		AudioFramesSent: b.counter("panelai.audio.frames_sent", "Microphone frames sent to the model."),
		ChunksPlayed:    b.counter("panelai.audio.chunks_played", "Speech chunks scheduled for playback."),
		Interruptions:   b.counter("panelai.audio.interruptions", "Barge-in interruptions."),

		ProviderRequests: b.counter("panelai.provider.requests", "Generative model requests by provider, kind and status."),
		FeedbackDuration: b.seconds("panelai.feedback.duration", "Latency of feedback report generation.", latencyBuckets),

		HTTPRequestDuration: b.seconds("panelai.http.request.duration", "HTTP request latency by method, route and status.", nil),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics], created on first use
// from the global meter provider. It panics if the instruments cannot be
// created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		if defaultMetrics, err = NewMetrics(otel.GetMeterProvider()); err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest counts one model call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordSessionError counts one session failure.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSessionEnded counts a finished session and records its length.
func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string, seconds float64) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.SessionDuration.Record(ctx, seconds)
}

// RecordTurn counts one finalized transcript turn.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.TranscriptTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}
