// Package observe provides application-wide observability primitives for
// meetscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all meetscribe metrics.
const meterName = "github.com/MrWong99/meetscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ForwardDuration tracks calls to the processing service. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	ForwardDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts recording sessions that reached Recording.
	SessionsStarted metric.Int64Counter

	// SessionsStopped counts sessions that reached Completed. Use with attribute:
	//   attribute.String("reason", ...)
	SessionsStopped metric.Int64Counter

	// ChunksEmitted counts chunk descriptors built by the scheduler. Use with attribute:
	//   attribute.String("kind", "interval"|"final")
	ChunksEmitted metric.Int64Counter

	// CapturedBytes counts raw PCM bytes written to participant sinks.
	CapturedBytes metric.Int64Counter

	// AutoLeaves counts watchdog disconnects caused by an empty channel.
	AutoLeaves metric.Int64Counter

	// --- Error counters ---

	// ForwardErrors counts failed processing-service calls. Use with attribute:
	//   attribute.String("op", ...)
	ForwardErrors metric.Int64Counter

	// CaptureErrors counts per-participant pipeline faults. Use with attribute:
	//   attribute.String("stage", "decode"|"write"|"open"|"close")
	CaptureErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks sessions in Recording or Stopping.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveCaptures tracks open participant sinks across all sessions.
	ActiveCaptures metric.Int64UpDownCounter

	// WatchdogConnections tracks passive voice connections.
	WatchdogConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by "method",
	// "route" (the mux pattern path) and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// uploads of multi-megabyte PCM chunks.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ForwardDuration, err = m.Float64Histogram("meetscribe.forward.duration",
		metric.WithDescription("Latency of processing-service calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionsStarted, err = m.Int64Counter("meetscribe.sessions.started",
		metric.WithDescription("Total recording sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStopped, err = m.Int64Counter("meetscribe.sessions.stopped",
		metric.WithDescription("Total recording sessions completed by stop reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksEmitted, err = m.Int64Counter("meetscribe.chunks.emitted",
		metric.WithDescription("Total chunk descriptors emitted by kind."),
	); err != nil {
		return nil, err
	}
	if met.CapturedBytes, err = m.Int64Counter("meetscribe.capture.bytes",
		metric.WithDescription("Raw PCM bytes written by participant captures."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AutoLeaves, err = m.Int64Counter("meetscribe.watchdog.auto_leaves",
		metric.WithDescription("Total watchdog disconnects caused by an empty channel."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ForwardErrors, err = m.Int64Counter("meetscribe.forward.errors",
		metric.WithDescription("Total failed processing-service calls by operation."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("meetscribe.capture.errors",
		metric.WithDescription("Total participant capture faults by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetscribe.active_sessions",
		metric.WithDescription("Number of recording sessions not yet completed."),
	); err != nil {
		return nil, err
	}
	if met.ActiveCaptures, err = m.Int64UpDownCounter("meetscribe.active_captures",
		metric.WithDescription("Number of open participant sinks across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogConnections, err = m.Int64UpDownCounter("meetscribe.watchdog.connections",
		metric.WithDescription("Number of passive voice connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordForward records one processing-service call: its latency, and an
// error increment when err is non-nil.
func (m *Metrics) RecordForward(ctx context.Context, op string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ForwardErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
	m.ForwardDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordChunk records an emitted chunk descriptor.
func (m *Metrics) RecordChunk(ctx context.Context, final bool) {
	kind := "interval"
	if final {
		kind = "final"
	}
	m.ChunksEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordCaptureError records a participant pipeline fault.
func (m *Metrics) RecordCaptureError(ctx context.Context, stage string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordSessionStopped records a completed session and its stop reason.
func (m *Metrics) RecordSessionStopped(ctx context.Context, reason string) {
	m.SessionsStopped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
