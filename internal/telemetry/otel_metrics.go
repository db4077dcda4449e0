package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// otelMetrics implements Metrics on top of an otel/metric.Meter, lazily
// creating one instrument per metric name the first time it is recorded.
type otelMetrics struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	timers   map[string]metric.Float64Histogram
	gauges   map[string]metric.Float64Gauge
}

// NewOtelMetrics builds a Metrics implementation backed by the given
// meter name, registered against the global otel MeterProvider (a no-op
// provider by default when no exporter is configured; the instrumentation
// points still exist, they simply have nowhere to export to until an
// operator wires a real MeterProvider).
func NewOtelMetrics(meterName string) Metrics {
	return &otelMetrics{
		meter:    otel.Meter(meterName),
		counters: map[string]metric.Float64Counter{},
		timers:   map[string]metric.Float64Histogram{},
		gauges:   map[string]metric.Float64Gauge{},
	}
}

// attrsFromKV converts the package's flat string-pair kv convention (used
// throughout Logger/Metrics/Span calls) into otel attribute.KeyValue pairs.
func attrsFromKV(kv []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return attrs
}

func (m *otelMetrics) IncCounter(name string, value float64, kv ...string) {
	m.mu.Lock()
	c, ok := m.counters[name]
	if !ok {
		var err error
		c, err = m.meter.Float64Counter(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = c
	}
	m.mu.Unlock()
	c.Add(context.Background(), value, metric.WithAttributes(attrsFromKV(kv)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, kv ...string) {
	m.mu.Lock()
	h, ok := m.timers[name]
	if !ok {
		var err error
		h, err = m.meter.Float64Histogram(name, metric.WithUnit("ms"))
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.timers[name] = h
	}
	m.mu.Unlock()
	h.Record(context.Background(), float64(d.Milliseconds()), metric.WithAttributes(attrsFromKV(kv)...))
}

func (m *otelMetrics) RecordGauge(name string, value float64, kv ...string) {
	m.mu.Lock()
	g, ok := m.gauges[name]
	if !ok {
		var err error
		g, err = m.meter.Float64Gauge(name)
		if err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = g
	}
	m.mu.Unlock()
	g.Record(context.Background(), value, metric.WithAttributes(attrsFromKV(kv)...))
}
