// Package telemetry configures OpenTelemetry tracing for the agent and its
// record publisher.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// DefaultServiceName names spans when the config leaves it empty.
const DefaultServiceName = "jobhunt-agent"

// Config controls tracing.
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Option adjusts the tracer provider.
type Option func(*[]sdktrace.TracerProviderOption)

// WithSpanProcessor registers an additional span processor, such as an
// exporter pipeline or a test recorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(opts *[]sdktrace.TracerProviderOption) {
		*opts = append(*opts, sdktrace.WithSpanProcessor(sp))
	}
}

// InitTracerProvider installs the global trace provider and the W3C trace
// context propagator. The returned function flushes and stops the provider.
// When tracing is disabled only the propagator is installed, so trace
// context from callers still reaches published messages.
func InitTracerProvider(ctx context.Context, cfg Config, opts ...Option) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("tracing sample_ratio must be within [0,1], got %v", cfg.SampleRatio)
	}
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	ratio := cfg.SampleRatio
	if ratio == 0 {
		ratio = 1
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	for _, opt := range opts {
		opt(&providerOpts)
	}
	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
