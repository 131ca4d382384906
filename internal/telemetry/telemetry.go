// Package telemetry builds the OpenTelemetry meter provider the server
// exports engine counters through.
package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config drives OTLP metric export.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP/gRPC collector address, host:port.
	Endpoint string
	Insecure bool
	Interval time.Duration
}

// NewMeterProvider returns a provider that pushes to cfg.Endpoint every
// cfg.Interval. Callers must Shutdown it.
func NewMeterProvider(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("telemetry: endpoint is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return NewMeterProviderWithReader(ctx, cfg, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval)))
}

// NewMeterProviderWithReader builds a provider around reader with the
// service resource attached.
func NewMeterProviderWithReader(ctx context.Context, cfg Config, reader sdkmetric.Reader) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("env", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	), nil
}
