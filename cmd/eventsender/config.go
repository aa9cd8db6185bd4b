package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/flexprice/go-kit/asyncprocessor"
	kitconfig "github.com/flexprice/go-kit/config"
	"github.com/flexprice/go-kit/events"
)

// Config is the configuration of eventsender, loaded from config.yaml.
// Values in the form "${NAME}" are replaced with the value of the env var NAME.
type Config struct {
	// API key used to authenticate with the ingestion API
	// It's required to send events; it's recommended to set it as "${FLEXPRICE_API_KEY}"
	APIKey string `yaml:"apiKey"`
	// Base URL of the ingestion API
	BaseURL string `yaml:"baseURL" validate:"omitempty,http_url"`
	// Timeout for HTTP requests
	RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gte=0"`

	// Number of background workers
	Workers int `yaml:"workers" validate:"gte=0"`
	// Maximum number of events waiting to be sent
	QueueSize int `yaml:"queueSize" validate:"gte=0"`
	// Maximum number of retries after the first attempt
	MaxRetries *int `yaml:"maxRetries" validate:"omitempty,gte=0"`
	// Base delay for the exponential backoff between retries
	BaseDelay time.Duration `yaml:"baseDelay" validate:"gte=0"`
	// Maximum delay between retries
	MaxDelay time.Duration `yaml:"maxDelay" validate:"gte=0"`
	// Source applied to events that don't have one
	DefaultSource string `yaml:"defaultSource"`
	// Events with an ID that was already sent within this window are skipped
	DedupeWindow time.Duration `yaml:"dedupeWindow" validate:"gte=0"`

	// What to do with queued events when stopping: "drain" (default) or "abandon"
	ShutdownPolicy string `yaml:"shutdownPolicy" validate:"omitempty,oneof=drain abandon"`
	// Maximum time to wait for queued events when stopping
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gte=0"`

	// API keys accepted by the local ingestion server
	// If empty, requests to the local server are not authenticated
	ServerAPIKeys []string `yaml:"serverAPIKeys"`
	// Exposes the local ingestion server on a Tailscale network too
	Tailnet TailnetConfig `yaml:"tailnet"`

	// Log level: "debug", "info", "warn", or "error", optionally with an offset such as "info+2"
	LogLevel string `yaml:"logLevel" validate:"omitempty,loglevel"`
	// If true, logs are emitted as JSON
	LogJSON bool `yaml:"logJSON"`

	// Internal keys
	loadedConfigPath string
	instanceID       string
}

// TailnetConfig contains the options for exposing the local ingestion server on a tailnet.
type TailnetConfig struct {
	Enabled bool `yaml:"enabled"`
	// Hostname of the node in the tailnet
	Hostname string `yaml:"hostname" validate:"required_if=Enabled true"`
	// Auth key; if empty, the TS_AUTH_KEY env var is used, or interactive login is required
	AuthKey string `yaml:"authKey"`
	// Directory where the node's state is stored
	StateDir string `yaml:"stateDir"`
	// If true, the node is removed from the tailnet when it goes offline
	Ephemeral bool `yaml:"ephemeral"`
	// ACL tags to advertise
	Tags []string `yaml:"tags" validate:"dive,startswith=tag:"`
	// Port to listen on with TLS; defaults to 443
	Port int `yaml:"port" validate:"gte=0,lte=65535"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Accepts any level that slog can parse
	err := v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		var level slog.Level
		return level.UnmarshalText([]byte(fl.Field().String())) == nil
	})
	if err != nil {
		panic(err)
	}

	return v
}

// GetLoadedConfigPath returns the path to the config file that was loaded
func (c *Config) GetLoadedConfigPath() string {
	return c.loadedConfigPath
}

// SetLoadedConfigPath sets the path to the config file that was loaded
func (c *Config) SetLoadedConfigPath(filePath string) {
	c.loadedConfigPath = filePath
}

// GetInstanceID returns the instance ID
func (c *Config) GetInstanceID() string {
	if c.instanceID == "" {
		// Without an instance ID, the OpenTelemetry resource falls back to the attributes in the env
		c.instanceID, _ = kitconfig.GetInstanceID()
	}
	return c.instanceID
}

// GetOtelResource returns the OpenTelemetry Resource object
func (c *Config) GetOtelResource(name string) (*resource.Resource, error) {
	return kitconfig.NewOtelResource(name, c.GetInstanceID())
}

// Validate the configuration.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("invalid value for '%s': failed rule '%s'", fe.Field(), fe.Tag())
	}
	return err
}

// AsyncConfig returns the configuration for the events.AsyncClient.
func (c *Config) AsyncConfig() events.AsyncConfig {
	cfg := events.DefaultAsyncConfig()
	if c.Workers > 0 {
		cfg.Workers = c.Workers
	}
	if c.QueueSize > 0 {
		cfg.QueueSize = c.QueueSize
	}
	if c.MaxRetries != nil {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.BaseDelay > 0 {
		cfg.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		cfg.MaxDelay = c.MaxDelay
	}
	if c.DefaultSource != "" {
		cfg.DefaultSource = c.DefaultSource
	}
	if c.DedupeWindow > 0 {
		cfg.DedupeWindow = c.DedupeWindow
	}

	switch c.ShutdownPolicy {
	case "abandon":
		cfg.ShutdownPolicy = asyncprocessor.ShutdownAbandon
	default:
		cfg.ShutdownPolicy = asyncprocessor.ShutdownDrain
	}

	return cfg
}

// GetShutdownTimeout returns the shutdown timeout, or the default value of 30s.
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return c.ShutdownTimeout
}
