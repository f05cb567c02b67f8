// Package telemetry wires the OpenTelemetry SDK into the bundler core: an OTLP/gRPC
// trace exporter and an OTLP/gRPC metric exporter, set as the process-wide global
// providers pkg/client and pkg/bundler pull their Tracer/Meter from. When no collector
// is configured, Setup leaves the global no-op providers in place, so call sites never
// need to branch on whether telemetry is enabled.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Config is the subset of internal/config.Values telemetry needs; kept narrow so this
// package doesn't import internal/config and create a cycle.
type Config struct {
	ServiceName string
	CollectorURL string
	Headers      map[string]string
	Insecure     bool
}

// Provider holds the SDK providers constructed by Setup, so main can flush them on
// shutdown.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Setup dials the configured OTLP collector over gRPC and installs the resulting
// TracerProvider/MeterProvider as the process-wide otel globals. If conf.CollectorURL
// is empty, telemetry stays on the SDK's default no-op globals and Setup returns a
// Provider whose Shutdown is a no-op.
func Setup(ctx context.Context, conf Config) (*Provider, error) {
	if conf.CollectorURL == "" {
		return &Provider{}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(conf.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(conf.CollectorURL)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(conf.CollectorURL)}
	if conf.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	if len(conf.Headers) > 0 {
		traceOpts = append(traceOpts, otlptracegrpc.WithHeaders(conf.Headers))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithHeaders(conf.Headers))
	}

	traceClient := otlptracegrpc.NewClient(traceOpts...)
	traceExporter, err := otlptrace.New(ctx, traceClient)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dialing trace collector: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: dialing metric collector: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return &Provider{tracerProvider: tp, meterProvider: mp}, nil
}

// Shutdown flushes and closes the underlying exporters, if Setup configured any.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
