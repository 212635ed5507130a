package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// ExporterConfig configures OTLP metric export.
type ExporterConfig struct {
	// Endpoint is the collector's gRPC address, e.g. "localhost:4317".
	Endpoint string
	// Insecure disables TLS.
	Insecure bool
	// Interval is the export period. Zero uses the SDK default.
	Interval time.Duration
	// ServiceName is reported as service.name.
	ServiceName string
}

// StartMetricExport installs a global MeterProvider that pushes to an OTLP
// collector. The returned function flushes pending metrics and shuts the
// provider down; call it before the process exits.
//
// Must be called before NewMetricsRecorder so instruments bind to the provider.
func StartMetricExport(ctx context.Context, cfg ExporterConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("otlp endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "attribution"
	}
	res := resource.NewSchemaless(attribute.String("service.name", name))

	var readerOpts []sdkmetric.PeriodicReaderOption
	if cfg.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.Interval))
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
