// Package observe holds the server's telemetry: OpenTelemetry instruments for
// turns, providers, audio and fan-out, spans tagged with the session and
// participant being served, and the HTTP middleware that ties a request's
// trace id to its logs. [InitProvider] exports everything to Prometheus.
// Tests build their own [Metrics] with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/geova/livementor"

// Metrics is the set of instruments the server records to.
type Metrics struct {
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks a whole turn, from inbound event to the last
	// emitted event. Use with attribute.String("kind", "greeting"|"message").
	TurnDuration metric.Float64Histogram

	// ProviderRequests and ProviderErrors carry provider and kind
	// (llm, stt, tts); requests also carry status.
	ProviderRequests metric.Int64Counter
	ProviderErrors   metric.Int64Counter

	// Turns counts completed turns by kind and status.
	Turns metric.Int64Counter

	// AudioChunks counts response.audio.delta events sent.
	AudioChunks metric.Int64Counter

	// InboundEvents counts decoded client events by type.
	InboundEvents metric.Int64Counter

	// BroadcastDeliveries counts fan-out sends by status.
	BroadcastDeliveries metric.Int64Counter

	// LedgerDropped counts lifecycle records the ledger could not queue.
	LedgerDropped metric.Int64Counter

	ActiveSessions    metric.Int64UpDownCounter
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration is labelled by method, mux route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Model and
// synthesis calls routinely take several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics registers every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	seconds := []metric.Float64HistogramOption{
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	}
	for _, h := range []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "livementor.stt.duration", "Speech-to-text latency."},
		{&met.LLMDuration, "livementor.llm.duration", "Language-model completion latency."},
		{&met.TTSDuration, "livementor.tts.duration", "Speech synthesis latency."},
		{&met.TurnDuration, "livementor.turn.duration", "Mentor turn latency, inbound event to last outbound event."},
		{&met.HTTPRequestDuration, "livementor.http.request.duration", "HTTP request latency by method, route and status."},
	} {
		if *h.dst, err = m.Float64Histogram(h.name, append(seconds, metric.WithDescription(h.desc))...); err != nil {
			return nil, fmt.Errorf("observe: %s: %w", h.name, err)
		}
	}

	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "livementor.provider.requests", "Provider calls by provider, kind and status."},
		{&met.ProviderErrors, "livementor.provider.errors", "Provider failures by provider and kind."},
		{&met.Turns, "livementor.turns", "Mentor turns by kind and status."},
		{&met.AudioChunks, "livementor.audio.chunks", "Audio chunks streamed to clients."},
		{&met.InboundEvents, "livementor.inbound.events", "Client events by type."},
		{&met.BroadcastDeliveries, "livementor.broadcast.deliveries", "Broadcast sends by status."},
		{&met.LedgerDropped, "livementor.ledger.dropped", "Lifecycle records the ledger dropped."},
	} {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("observe: %s: %w", c.name, err)
		}
	}

	for _, g := range []struct {
		dst  *metric.Int64UpDownCounter
		name string
		desc string
	}{
		{&met.ActiveSessions, "livementor.active_sessions", "Sessions held by the registry."},
		{&met.ActiveConnections, "livementor.active_connections", "Connected participants across all sessions."},
	} {
		if *g.dst, err = m.Int64UpDownCounter(g.name, metric.WithDescription(g.desc)); err != nil {
			return nil, fmt.Errorf("observe: %s: %w", g.name, err)
		}
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns process-wide instruments on the global meter
// provider. Call it after [InitProvider].
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records a finished turn and its duration.
func (m *Metrics) RecordTurn(ctx context.Context, kind, status string, d time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	m.TurnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordInbound counts one decoded client event.
func (m *Metrics) RecordInbound(ctx context.Context, eventType string) {
	m.InboundEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordBroadcast records the outcome of one fan-out.
func (m *Metrics) RecordBroadcast(ctx context.Context, delivered, failed int) {
	if delivered > 0 {
		m.BroadcastDeliveries.Add(ctx, int64(delivered), metric.WithAttributes(attribute.String("status", "ok")))
	}
	if failed > 0 {
		m.BroadcastDeliveries.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("status", "error")))
	}
}
