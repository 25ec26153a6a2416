// Package telemetry wires an OpenTelemetry tracer provider around the
// proxy's upstream HTTP client, so every forwarded MCP call carries a
// span. It is independent of the Prometheus metrics exposed at
// /metrics: traces describe individual calls, the Prometheus counters
// describe aggregate rates.
package telemetry

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Provider owns the process-wide tracer and meter providers. A nil
// *Provider is valid and yields no-op instruments, so callers may wire
// it in unconditionally regardless of whether tracing is enabled.
type Provider struct {
	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// NewProvider builds tracer and meter providers that write spans and
// metric snapshots as JSON to w (typically os.Stderr, never stdout, so
// it doesn't interleave with JSON-RPC traffic on a stdio transport).
// serviceName tags every span's and every metric's resource attributes.
func NewProvider(ctx context.Context, serviceName string, w io.Writer) (*Provider, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(time.Minute))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return &Provider{tp: tp, mp: mp}, nil
}

// Tracer returns a named tracer. Safe to call on a nil *Provider: it
// falls back to the global (no-op, unless SetTracerProvider was called
// elsewhere) tracer provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Meter returns a named meter. Safe to call on a nil *Provider.
func (p *Provider) Meter(name string) metric.Meter {
	if p == nil || p.mp == nil {
		return otel.Meter(name)
	}
	return p.mp.Meter(name)
}

// Shutdown flushes pending spans and metric snapshots and releases
// exporter resources. Safe to call on a nil *Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.mp != nil {
		if err := p.mp.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}
