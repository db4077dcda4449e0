package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type otelSpan struct {
	span oteltrace.Span
}

// Start begins a new span named name, on the tracer the global otel tracer
// provider returns for this tracer's instrumentation name.
func (t *otelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := otel.Tracer(t.name).Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// Span returns the span already present in ctx, or a noop span when absent.
func (t *otelTracer) Span(ctx context.Context) Span {
	span := oteltrace.SpanFromContext(ctx)
	if span == nil {
		return noopSpan{}
	}
	return &otelSpan{span: span}
}

func (s *otelSpan) AddEvent(name string, kv ...string) {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	s.span.AddEvent(name, oteltrace.WithAttributes(attrs...))
}

func (s *otelSpan) SetStatus(code SpanCode, msg string) {
	var c codes.Code
	switch code {
	case SpanCodeOK:
		c = codes.Ok
	case SpanCodeError:
		c = codes.Error
	default:
		c = codes.Unset
	}
	s.span.SetStatus(c, msg)
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func (s *otelSpan) End() { s.span.End() }
