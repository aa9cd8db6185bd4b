package config

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Base includes the list of methods that config objects are expected to implement
type Base interface {
	// GetLoadedConfigPath returns the path to the config file that was loaded
	GetLoadedConfigPath() string
	// SetLoadedConfigPath sets the path to the config file that was loaded.
	SetLoadedConfigPath(path string)
	// GetInstanceID returns the instance ID
	GetInstanceID() string
	// GetOtelResource returns the OpenTelemetry Resource object
	GetOtelResource(name string) (*resource.Resource, error)
}

// Validator is implemented by config objects that can validate themselves after being loaded.
type Validator interface {
	Validate() error
}

// NewOtelResource returns an OpenTelemetry Resource for the service with the given name and instance ID.
// Attributes set in the OTEL_RESOURCE_ATTRIBUTES env var are included too.
func NewOtelResource(name string, instanceID string) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", name),
	}
	if instanceID != "" {
		attrs = append(attrs, attribute.String("service.instance.id", instanceID))
	}

	res, err := resource.New(context.Background(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry resource: %w", err)
	}
	return res, nil
}
