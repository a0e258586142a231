package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the tracer.
const tracerName = "github.com/geova/livementor"

// Span attribute keys set from [WithParticipant] and [WithConnection].
const (
	AttrSessionID     = attribute.Key("livementor.session.id")
	AttrParticipantID = attribute.Key("livementor.participant.id")
	AttrConnectionID  = attribute.Key("livementor.connection.id")
)

type (
	participantKey struct{}
	connectionKey  struct{}
)

type participant struct {
	sessionID string
	id        string
}

// WithParticipant tags ctx with the session and participant it serves.
// [Logger] and [StartSpan] pick the tags up, so call sites do not repeat them.
func WithParticipant(ctx context.Context, sessionID, participantID string) context.Context {
	return context.WithValue(ctx, participantKey{}, participant{sessionID: sessionID, id: participantID})
}

// Participant returns the tags set by [WithParticipant].
func Participant(ctx context.Context) (sessionID, participantID string, ok bool) {
	p, ok := ctx.Value(participantKey{}).(participant)
	return p.sessionID, p.id, ok
}

// WithConnection tags ctx with the id of the socket registration serving the
// participant. A participant that reconnects keeps its id but gets a new
// connection id.
func WithConnection(ctx context.Context, connectionID string) context.Context {
	return context.WithValue(ctx, connectionKey{}, connectionID)
}

// Connection returns the tag set by [WithConnection].
func Connection(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connectionKey{}).(string)
	return id, ok
}

// Tracer returns the package-level [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. Participant tags on ctx become span
// attributes. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if sid, pid, ok := Participant(ctx); ok {
		opts = append(opts, trace.WithAttributes(AttrSessionID.String(sid), AttrParticipantID.String(pid)))
	}
	if id, ok := Connection(ctx); ok {
		opts = append(opts, trace.WithAttributes(AttrConnectionID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "" without one.
// HTTP clients receive it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the trace and participant
// found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if sid, pid, ok := Participant(ctx); ok {
		attrs = append(attrs, slog.String("session", sid), slog.String("participant", pid))
	}
	if id, ok := Connection(ctx); ok {
		attrs = append(attrs, slog.String("connection", id))
	}
	l := slog.Default()
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
