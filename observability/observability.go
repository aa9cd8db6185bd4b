// Package observability initializes logs, metrics, and traces for applications, using slog and OpenTelemetry.
// Exporters are configured with the standard OTEL_* env vars; when those are not set, nothing is exported to OpenTelemetry.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	api "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkTrace "go.opentelemetry.io/otel/sdk/trace"

	kitconfig "github.com/flexprice/go-kit/config"
)

// InitOpts contains options for the Init method
type InitOpts struct {
	Config     kitconfig.Base
	AppName    string
	AppVersion string

	// Log level, format, and destination (stderr if nil)
	LogLevel  string
	LogJSON   bool
	LogOutput io.Writer

	// Name of the meter; defaults to AppName
	MeterName string
}

// Telemetry contains the objects created by Init
type Telemetry struct {
	Log           *slog.Logger
	Meter         api.Meter
	TraceProvider *sdkTrace.TracerProvider

	shutdownFns []func(ctx context.Context) error
}

// Init initializes logs, metrics, and traces.
// The logger is also set as the default slog logger.
func Init(ctx context.Context, opts InitOpts) (*Telemetry, error) {
	t := &Telemetry{}

	log, logShutdownFn, err := InitLogs(ctx, InitLogsOpts{
		Level:      opts.LogLevel,
		JSON:       opts.LogJSON,
		Output:     opts.LogOutput,
		Config:     opts.Config,
		AppName:    opts.AppName,
		AppVersion: opts.AppVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logs: %w", err)
	}
	t.Log = log
	t.shutdownFns = append(t.shutdownFns, logShutdownFn)
	slog.SetDefault(log)

	meter, metricsShutdownFn, err := InitMetrics(ctx, InitMetricsOpts{
		Config:    opts.Config,
		AppName:   opts.AppName,
		MeterName: opts.MeterName,
	})
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	t.Meter = meter
	t.shutdownFns = append(t.shutdownFns, metricsShutdownFn)

	traceProvider, tracesShutdownFn, err := InitTraces(ctx, InitTracesOpts{
		Config:  opts.Config,
		AppName: opts.AppName,
	})
	if err != nil {
		_ = t.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize traces: %w", err)
	}
	t.TraceProvider = traceProvider
	t.shutdownFns = append(t.shutdownFns, tracesShutdownFn)

	return t, nil
}

// Shutdown flushes and shuts down all providers, in reverse order of initialization.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	errs := make([]error, 0, len(t.shutdownFns))
	for i := len(t.shutdownFns) - 1; i >= 0; i-- {
		err := t.shutdownFns[i](ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdownFns = nil
	return errors.Join(errs...)
}

// setDefaultExporter disables the OpenTelemetry exporter selected by the env var when the env var is not set.
func setDefaultExporter(envVar string) {
	if os.Getenv(envVar) == "" {
		_ = os.Setenv(envVar, "none") //nolint:errcheck
	}
}

func otelResource(cfg kitconfig.Base, appName string) (*resource.Resource, error) {
	res, err := cfg.GetOtelResource(appName)
	if err != nil {
		return nil, fmt.Errorf("failed to get OpenTelemetry resource: %w", err)
	}
	return res, nil
}
