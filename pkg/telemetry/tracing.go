package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "tablestream"

// GetTracer returns a tracer from the globally registered trace provider.
// If no provider has been registered this is a no-op tracer.
func GetTracer() oteltrace.Tracer {
	return otel.GetTracerProvider().Tracer(tracerName)
}

// NewSpan creates and starts a new internal span, and a context containing it.
func NewSpan(ctx context.Context, t oteltrace.Tracer, name string,
	opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	opts = append(opts, oteltrace.WithSpanKind(oteltrace.SpanKindInternal))
	return t.Start(ctx, name, opts...)
}
