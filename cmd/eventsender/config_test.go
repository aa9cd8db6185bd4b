package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexprice/go-kit/asyncprocessor"
	kitconfig "github.com/flexprice/go-kit/config"
)

func loadTestConfig(t *testing.T, content string) (*Config, error) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("EVENTSENDER_CONFIG", path)

	cfg := &Config{}
	err := kitconfig.LoadConfig(cfg, kitconfig.LoadConfigOpts{
		EnvVar:  "EVENTSENDER_CONFIG",
		DirName: appName,
	})
	return cfg, err
}

func TestLoadConfig(t *testing.T) {
	t.Run("full configuration", func(t *testing.T) {
		t.Setenv("FLEXPRICE_API_KEY", "sk_from_env")

		cfg, err := loadTestConfig(t, `
apiKey: ${FLEXPRICE_API_KEY}
baseURL: https://api.example.com
requestTimeout: 5s
workers: 4
queueSize: 50
maxRetries: 0
baseDelay: 200ms
maxDelay: 2s
defaultSource: billing
dedupeWindow: 1m
shutdownPolicy: abandon
shutdownTimeout: 10s
serverAPIKeys:
  - key1
logLevel: debug
logJSON: true
`)
		require.NoError(t, err)

		assert.Equal(t, "sk_from_env", cfg.APIKey)
		assert.Equal(t, "https://api.example.com", cfg.BaseURL)
		assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
		assert.Equal(t, []string{"key1"}, cfg.ServerAPIKeys)
		assert.Equal(t, 10*time.Second, cfg.GetShutdownTimeout())
		assert.True(t, cfg.LogJSON)
		assert.NotEmpty(t, cfg.GetLoadedConfigPath())

		asyncCfg := cfg.AsyncConfig()
		assert.Equal(t, 4, asyncCfg.Workers)
		assert.Equal(t, 50, asyncCfg.QueueSize)
		require.NotNil(t, asyncCfg.MaxRetries)
		assert.Equal(t, 0, *asyncCfg.MaxRetries)
		assert.Equal(t, 200*time.Millisecond, asyncCfg.BaseDelay)
		assert.Equal(t, 2*time.Second, asyncCfg.MaxDelay)
		assert.Equal(t, "billing", asyncCfg.DefaultSource)
		assert.Equal(t, time.Minute, asyncCfg.DedupeWindow)
		assert.Equal(t, asyncprocessor.ShutdownAbandon, asyncCfg.ShutdownPolicy)
	})

	t.Run("defaults", func(t *testing.T) {
		cfg, err := loadTestConfig(t, "apiKey: sk_test\n")
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, cfg.GetShutdownTimeout())

		asyncCfg := cfg.AsyncConfig()
		assert.Equal(t, 2, asyncCfg.Workers)
		assert.Equal(t, 1000, asyncCfg.QueueSize)
		require.NotNil(t, asyncCfg.MaxRetries)
		assert.Equal(t, 3, *asyncCfg.MaxRetries)
		assert.Equal(t, time.Second, asyncCfg.BaseDelay)
		assert.Equal(t, asyncprocessor.ShutdownDrain, asyncCfg.ShutdownPolicy)
	})

	t.Run("invalid values", func(t *testing.T) {
		tests := map[string]string{
			"shutdown policy":  "shutdownPolicy: later\n",
			"base URL":         "baseURL: not-a-url\n",
			"workers":          "workers: -1\n",
			"log level":        "logLevel: verbose\n",
			"tailnet hostname": "tailnet:\n  enabled: true\n",
			"tailnet tags":     "tailnet:\n  hostname: ingest\n  tags: [ingest]\n",
			"tailnet port":     "tailnet:\n  port: 70000\n",
		}

		for name, content := range tests {
			t.Run(name, func(t *testing.T) {
				_, err := loadTestConfig(t, content)
				var cfgErr *kitconfig.ConfigError
				require.ErrorAs(t, err, &cfgErr)
				assert.Contains(t, err.Error(), "Invalid configuration")
			})
		}
	})

	t.Run("log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "INFO", "warn", "error", "info+2", "DEBUG-4"} {
			t.Run(level, func(t *testing.T) {
				cfg, err := loadTestConfig(t, "apiKey: sk_test\nlogLevel: "+level+"\n")
				require.NoError(t, err)
				assert.Equal(t, level, cfg.LogLevel)
			})
		}
	})

	t.Run("unknown keys", func(t *testing.T) {
		_, err := loadTestConfig(t, "apiKey: sk_test\nretries: 3\n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Error loading config file")
	})
}

func TestFlagsValidate(t *testing.T) {
	require.NoError(t, flags{File: "-"}.validate())
	require.NoError(t, flags{Watch: "/tmp/spool"}.validate())
	require.NoError(t, flags{Serve: ":8080"}.validate())
	require.NoError(t, flags{Config: "sender.yaml", File: "-"}.validate())
	require.Error(t, flags{}.validate())
	require.Error(t, flags{Config: "sender.yaml"}.validate())
	require.Error(t, flags{File: "a", Watch: "b"}.validate())
}
