package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for every span the runtime
// starts.
const TracerName = "qbit"

// TraceConfig configures the OTLP trace exporter.
type TraceConfig struct {
	// ServiceName identifies this process in traces (default "qbit").
	ServiceName string

	// Endpoint is the OTLP gRPC collector address; empty disables
	// exporting and leaves the no-op global tracer in place.
	Endpoint string

	// Insecure disables TLS for the collector connection.
	Insecure bool
}

// SetupTracing installs a batching OTLP trace provider as the global
// tracer provider. The returned shutdown function flushes pending spans;
// call it on process exit. A config with no endpoint is a no-op.
func SetupTracing(ctx context.Context, cfg TraceConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "qbit"
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}

// Tracer returns the runtime's tracer from the global provider. Before
// SetupTracing runs (or when it is disabled) this is a no-op tracer, so
// instrumented code paths cost nothing.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
