package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	logGlobal "go.opentelemetry.io/otel/log/global"
	logSdk "go.opentelemetry.io/otel/sdk/log"

	kitconfig "github.com/flexprice/go-kit/config"
)

// InitLogsOpts contains options for the InitLogs method
type InitLogsOpts struct {
	// Log level: "debug", "info", "warn", "error", or an empty string (defaults to "info")
	// Levels can have an offset, such as "info+2"
	Level string
	// If true, logs as JSON
	JSON bool
	// Where logs are written; defaults to stderr, so stdout is left for the output of commands
	Output io.Writer

	Config     kitconfig.Base
	AppName    string
	AppVersion string
}

func parseLogLevel(level string) (slog.Level, error) {
	if level == "" {
		return slog.LevelInfo, nil
	}

	var l slog.Level
	err := l.UnmarshalText([]byte(level))
	if err != nil {
		return 0, kitconfig.NewConfigError(err, "Invalid value for 'logLevel'")
	}
	return l, nil
}

// consoleHandler returns the handler for logs written to out.
// Colors are enabled when out is a terminal.
func consoleHandler(out io.Writer, level slog.Level, json bool) slog.Handler {
	if json {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}

	f, ok := out.(*os.File)
	if ok && isatty.IsTerminal(f.Fd()) {
		return tint.NewHandler(out, &tint.Options{
			Level:      level,
			TimeFormat: time.StampMilli,
		})
	}

	return slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
}

// InitLogs initializes a new slog logger.
// Logs are also sent to the OpenTelemetry exporter selected with OTEL_LOGS_EXPORTER, if any.
func InitLogs(ctx context.Context, opts InitLogsOpts) (log *slog.Logger, shutdownFn func(ctx context.Context) error, err error) {
	level, err := parseLogLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	res, err := otelResource(opts.Config, opts.AppName)
	if err != nil {
		return nil, nil, err
	}

	setDefaultExporter("OTEL_LOGS_EXPORTER")
	exp, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OpenTelemetry log exporter: %w", err)
	}

	provider := logSdk.NewLoggerProvider(
		logSdk.WithProcessor(logSdk.NewBatchProcessor(exp)),
		logSdk.WithResource(res),
	)
	logGlobal.SetLoggerProvider(provider)

	// Fan out to the console and to OpenTelemetry
	handler := slog.NewMultiHandler(
		consoleHandler(out, level, opts.JSON),
		otelslog.NewHandler(opts.AppName, otelslog.WithLoggerProvider(provider)),
	)

	log = slog.New(handler).With(
		slog.String("app", opts.AppName),
		slog.String("version", opts.AppVersion),
	)
	return log, provider.Shutdown, nil
}
