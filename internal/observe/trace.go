package observe

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of meetscribe spans.
const tracerName = "github.com/MrWong99/meetscribe"

// AttrMeetingID tags spans that belong to one recording session.
const AttrMeetingID = attribute.Key("meeting_id")

type meetingKey struct{}

// WithMeeting returns a context tagged with a recording session's meeting
// ID. The span already in ctx and every span started from the result carry
// [AttrMeetingID], and [Logger] adds a meeting_id field.
func WithMeeting(ctx context.Context, meetingID string) context.Context {
	if meetingID == "" {
		return ctx
	}
	trace.SpanFromContext(ctx).SetAttributes(AttrMeetingID.String(meetingID))
	return context.WithValue(ctx, meetingKey{}, meetingID)
}

// MeetingID returns the meeting ID set by [WithMeeting], or "".
func MeetingID(ctx context.Context) string {
	id, _ := ctx.Value(meetingKey{}).(string)
	return id
}

// Tracer returns the meetscribe tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span, tagged with the context's meeting ID if any. The
// caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := MeetingID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(AttrMeetingID.String(id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It is echoed in X-Correlation-ID and logged as trace_id.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// InjectHeaders writes the W3C traceparent of ctx into h so the processing
// service can join the recorder's trace.
func InjectHeaders(ctx context.Context, h http.Header) {
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(h))
}

// Logger returns the default logger with trace_id, span_id and meeting_id
// fields taken from ctx where present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := MeetingID(ctx); id != "" {
		l = l.With(slog.String("meeting_id", id))
	}
	return l
}
