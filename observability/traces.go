package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdkTrace "go.opentelemetry.io/otel/sdk/trace"

	kitconfig "github.com/flexprice/go-kit/config"
)

// InitTracesOpts contains options for the InitTraces method
type InitTracesOpts struct {
	Config  kitconfig.Base
	AppName string
	// Sampler for new traces; defaults to sampling every trace that doesn't have a sampled parent
	Sampler sdkTrace.Sampler
}

// InitTraces initializes the tracer provider, using the exporter selected with OTEL_TRACES_EXPORTER.
// Requests to the ingestion API carry the W3C trace context, so they can be correlated with the server's traces.
func InitTraces(ctx context.Context, opts InitTracesOpts) (provider *sdkTrace.TracerProvider, shutdownFn func(ctx context.Context) error, err error) {
	res, err := otelResource(opts.Config, opts.AppName)
	if err != nil {
		return nil, nil, err
	}

	setDefaultExporter("OTEL_TRACES_EXPORTER")
	exporter, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry span exporter: %w", err)
	}

	sampler := opts.Sampler
	if sampler == nil {
		sampler = sdkTrace.ParentBased(sdkTrace.AlwaysSample())
	}

	provider = sdkTrace.NewTracerProvider(
		sdkTrace.WithResource(res),
		sdkTrace.WithBatcher(exporter),
		sdkTrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	// Shutting down the provider flushes pending spans
	return provider, provider.Shutdown, nil
}
