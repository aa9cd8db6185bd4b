package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"

	kitconfig "github.com/flexprice/go-kit/config"
)

type testConfig struct{}

func (testConfig) GetLoadedConfigPath() string { return "" }

func (testConfig) SetLoadedConfigPath(string) {}

func (testConfig) GetInstanceID() string { return "test-instance" }

func (c testConfig) GetOtelResource(name string) (*resource.Resource, error) {
	return kitconfig.NewOtelResource(name, c.GetInstanceID())
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "warn", want: slog.LevelWarn},
		{in: "Error", want: slog.LevelError},
		{in: "info+2", want: slog.LevelInfo + 2},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if tt.wantErr {
				var cfgErr *kitconfig.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInit(t *testing.T) {
	// Disable all exporters explicitly
	t.Setenv("OTEL_LOGS_EXPORTER", "none")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_TRACES_EXPORTER", "none")

	defaultLogger := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(defaultLogger)
	})

	var out bytes.Buffer
	tel, err := Init(t.Context(), InitOpts{
		Config:     testConfig{},
		AppName:    "eventsender",
		AppVersion: "test",
		LogLevel:   "debug",
		LogJSON:    true,
		LogOutput:  &out,
		MeterName:  "eventsender",
	})
	require.NoError(t, err)
	require.NotNil(t, tel.Log)
	require.NotNil(t, tel.Meter)
	require.NotNil(t, tel.TraceProvider)

	assert.Same(t, tel.Log, slog.Default())
	assert.True(t, tel.Log.Enabled(context.Background(), slog.LevelDebug))

	tel.Log.Debug("Hello", slog.String("eventId", "evt_1"))
	assert.Contains(t, out.String(), `"msg":"Hello"`)
	assert.Contains(t, out.String(), `"app":"eventsender"`)
	assert.Contains(t, out.String(), `"eventId":"evt_1"`)

	counter, err := tel.Meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(t.Context(), 1)

	require.NoError(t, tel.Shutdown(t.Context()))

	// Shutdown is idempotent
	require.NoError(t, tel.Shutdown(t.Context()))
}

func TestInitInvalidLogLevel(t *testing.T) {
	_, err := Init(t.Context(), InitOpts{
		Config:   testConfig{},
		AppName:  "eventsender",
		LogLevel: "loud",
	})
	require.ErrorContains(t, err, "failed to initialize logs")
}
