package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"

	kitconfig "github.com/flexprice/go-kit/config"
)

// InitMetricsOpts contains options for the InitMetrics method
type InitMetricsOpts struct {
	Config  kitconfig.Base
	AppName string
	// Name of the meter; metrics recorded by the async processor are reported under it
	MeterName string
}

// InitMetrics initializes the meter provider, using the exporter selected with OTEL_METRICS_EXPORTER.
// The provider is set as the global one too, so instrumentation that uses it (such as otelhttp) reports to the same exporter.
func InitMetrics(ctx context.Context, opts InitMetricsOpts) (meter api.Meter, shutdownFn func(ctx context.Context) error, err error) {
	res, err := otelResource(opts.Config, opts.AppName)
	if err != nil {
		return nil, nil, err
	}

	setDefaultExporter("OTEL_METRICS_EXPORTER")
	reader, err := autoexport.NewMetricReader(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry metric reader: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	)
	otel.SetMeterProvider(provider)

	name := opts.MeterName
	if name == "" {
		name = opts.AppName
	}
	return provider.Meter(name), provider.Shutdown, nil
}
