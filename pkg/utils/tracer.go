package utils

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

type TracerOptions struct {
	ServiceName string
	Endpoint    string
	Env         string
	// SampleRatio applies to root spans only; children follow their parent.
	SampleRatio float64
	Insecure    bool
}

// Sampler keeps every trace at ratio 1 and drops root spans entirely at 0.
func (o TracerOptions) Sampler() sdktrace.Sampler {
	var root sdktrace.Sampler
	switch {
	case o.SampleRatio >= 1:
		root = sdktrace.AlwaysSample()
	case o.SampleRatio <= 0:
		root = sdktrace.NeverSample()
	default:
		root = sdktrace.TraceIDRatioBased(o.SampleRatio)
	}

	return sdktrace.ParentBased(root)
}

// InitTracer installs a global tracer provider exporting over OTLP HTTP and
// the W3C propagators used by the kafka headers.
func InitTracer(ctx context.Context, opts TracerOptions) (*sdktrace.TracerProvider, error) {
	clientOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(opts.Endpoint),
	}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(clientOpts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.DeploymentEnvironmentKey.String(opts.Env),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(opts.Sampler()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
