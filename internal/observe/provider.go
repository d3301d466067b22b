package observe

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys specific to meetscribe.
const (
	AttrProcessingURL = attribute.Key("meetscribe.processing.url")
	AttrCommandGuild  = attribute.Key("meetscribe.discord.command_guild")
)

// ProviderConfig configures the telemetry of one meetscribe process.
type ProviderConfig struct {
	// ServiceName defaults to "meetscribe".
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment, e.g. "prod".
	Environment string

	// InstanceID defaults to the host name.
	InstanceID string

	// ProcessingURL is the processing service the recorder forwards to.
	ProcessingURL string

	// CommandGuild is set when slash commands are registered to one guild.
	CommandGuild string

	// TraceSampleRatio is the fraction of new traces recorded. Values
	// outside (0, 1) record every trace. Sampling follows the parent when a
	// request carries a traceparent header.
	TraceSampleRatio float64

	// TraceExporter receives finished spans. Nil keeps spans in process
	// only, which still gives log lines their trace_id.
	TraceExporter sdktrace.SpanExporter
}

// Provider owns the meter and tracer providers registered as OTel globals.
type Provider struct {
	Resource *resource.Resource

	meters  *sdkmetric.MeterProvider
	tracers *sdktrace.TracerProvider
}

// NewResource describes the meetscribe process for exported telemetry.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "meetscribe"
	}
	if cfg.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.InstanceID = host
		}
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, attribute.String("service.instance.id", cfg.InstanceID))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	if cfg.ProcessingURL != "" {
		attrs = append(attrs, AttrProcessingURL.String(cfg.ProcessingURL))
	}
	if cfg.CommandGuild != "" {
		attrs = append(attrs, AttrCommandGuild.String(cfg.CommandGuild))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// sampler picks the trace sampler for ratio.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// InitProvider builds the meter provider behind the /metrics Prometheus
// bridge and the tracer provider, and registers both as OTel globals.
// Call [Provider.Shutdown] before exit to flush exporters.
func InitProvider(_ context.Context, cfg ProviderConfig) (*Provider, error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	meters := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.TraceSampleRatio)),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tracers := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(meters)
	otel.SetTracerProvider(tracers)
	return &Provider{Resource: res, meters: meters, tracers: tracers}, nil
}

// Shutdown flushes pending spans first, then stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(p.tracers.Shutdown(ctx), p.meters.Shutdown(ctx))
}
