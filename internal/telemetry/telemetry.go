// Package telemetry wires the gateway's OpenTelemetry tracer and meter
// providers to stdout exporters, grounded on the pack's
// r3e-network-service_layer/pkg/tracing.NewOTLPTracerProvider shape
// (exporter -> resource -> provider -> global registration -> shutdown
// func), adapted from an OTLP/gRPC exporter to the stdout exporters this
// gateway's go.mod actually declares: there is no collector endpoint to
// configure here, only a local diagnostic trace/metric stream alongside
// the structured slog output.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Shutdown flushes and releases the telemetry providers started by Setup.
type Shutdown func(context.Context) error

// Setup installs a tracer provider and a meter provider that write spans
// and metric points as JSON to stdout, and registers them as the global
// providers so every package using otel.Tracer/otel.Meter by name
// (internal/service's "gateway.call_tool" span, in particular) is
// observed. enabled lets operators turn this off without touching code,
// since the stdout exporters are noisy for a long-running gateway.
func Setup(ctx context.Context, serviceName string, enabled bool) (Shutdown, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
	}
	tracerProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: build metric exporter: %w", err)
	}
	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(shutdownCtx context.Context) error {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
		}
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shutdown meter provider: %w", err)
		}
		return nil
	}, nil
}
