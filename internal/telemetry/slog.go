package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// slogLogger adapts Logger onto the standard library structured logger. It is
// the production default when no observability backend is configured.
type slogLogger struct {
	base *slog.Logger
}

// NewSlogLogger wraps the given slog.Logger (or slog.Default() when nil).
func NewSlogLogger(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{base: base}
}

func (l *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.base.DebugContext(ctx, msg, kv...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.base.InfoContext(ctx, msg, kv...)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.base.WarnContext(ctx, msg, kv...)
}

func (l *slogLogger) Error(ctx context.Context, msg string, kv ...any) {
	l.base.ErrorContext(ctx, msg, kv...)
}

// otelTracer wraps go.opentelemetry.io/otel spans without requiring a
// configured exporter; the global (noop) TracerProvider is used unless the
// host process configures one. This keeps tracing instrumentation present in
// the codebase, per the ambient stack requirement, without standing up a
// collector (explicitly out of scope).
type otelTracer struct {
	name string
}

// NewOtelTracer returns a Tracer backed by the global otel tracer provider
// under the given instrumentation name.
func NewOtelTracer(name string) Tracer {
	return &otelTracer{name: name}
}

// recordingMetrics accumulates counters/timers/gauges in memory, exposing a
// minimal interface suitable for /metrics style introspection without a full
// Prometheus exporter.
type recordingMetrics struct {
	mu       chan struct{}
	counters map[string]float64
	timers   map[string][]time.Duration
	gauges   map[string]float64
}

// NewRecordingMetrics returns an in-process Metrics implementation intended
// for tests and lightweight admin introspection endpoints.
func NewRecordingMetrics() Metrics {
	return &recordingMetrics{
		mu:       make(chan struct{}, 1),
		counters: map[string]float64{},
		timers:   map[string][]time.Duration{},
		gauges:   map[string]float64{},
	}
}

func (m *recordingMetrics) lock()   { m.mu <- struct{}{} }
func (m *recordingMetrics) unlock() { <-m.mu }

func (m *recordingMetrics) IncCounter(name string, value float64, _ ...string) {
	m.lock()
	defer m.unlock()
	m.counters[name] += value
}

func (m *recordingMetrics) RecordTimer(name string, d time.Duration, _ ...string) {
	m.lock()
	defer m.unlock()
	m.timers[name] = append(m.timers[name], d)
}

func (m *recordingMetrics) RecordGauge(name string, value float64, _ ...string) {
	m.lock()
	defer m.unlock()
	m.gauges[name] = value
}
