package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Setup initialises tracing for service and returns the tracer to use.
//
// Tracing is opt-in: when disabled or when endpoint is empty Setup returns a
// no-op tracer and shutdown function, and no global provider is registered.
// The returned shutdown flushes pending spans and should be deferred.
func Setup(ctx context.Context, enabled bool, service, endpoint string) (trace.Tracer, func(context.Context) error, error) {
	nop := func(context.Context) error { return nil }
	if !enabled || strings.TrimSpace(endpoint) == "" {
		return noop.NewTracerProvider().Tracer(InstrumentationName), nop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nop, err
	}

	if service == "" {
		service = "acommand"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, nop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Tracer(InstrumentationName), tp.Shutdown, nil
}
