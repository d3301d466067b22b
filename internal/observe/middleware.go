package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// quietRoutes are health and scrape routes logged at debug level.
var quietRoutes = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// route returns the path part of the ServeMux pattern that served r, or
// "unmatched". Metrics are labelled by route so per-meeting URLs such as
// /api/sessions/{meetingID} share one series.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// Middleware instruments a [http.ServeMux] serving the meetscribe HTTP API.
// Each request joins the caller's W3C trace or starts one, gets an
// X-Correlation-ID response header, and is recorded in
// [Metrics.HTTPRequestDuration] by method, route and status. Requests that
// address a meeting through a {meetingID} path value are tagged with
// [AttrMeetingID].
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			cid := CorrelationID(ctx)
			if cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			// The mux fills in Pattern and path values on this request.
			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			rt := route(r)
			span.SetName("HTTP " + r.Method + " " + rt)
			span.SetAttributes(
				semconv.HTTPRoute(rt),
				semconv.HTTPResponseStatusCode(rec.statusCode),
			)
			if id := r.PathValue("meetingID"); id != "" {
				span.SetAttributes(AttrMeetingID.String(id))
			}

			duration := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", rt),
					attribute.Int("status", rec.statusCode),
				),
			)

			level := slog.LevelInfo
			if quietRoutes[rt] {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "http: request completed",
				slog.String("trace_id", cid),
				slog.String("method", r.Method),
				slog.String("route", rt),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Duration("duration", duration),
			)
		})
	}
}
