package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// GetInstanceID returns the ID of the current instance.
// In order, it uses:
//   - The name of the replica when running on Azure Container Apps (CONTAINER_APP_REPLICA_NAME)
//   - The "service.instance.id" attribute in OTEL_RESOURCE_ATTRIBUTES
//   - A random ID
func GetInstanceID() (string, error) {
	if replica := os.Getenv("CONTAINER_APP_REPLICA_NAME"); replica != "" {
		return replica, nil
	}

	if id := instanceIDFromOtelAttributes(os.Getenv("OTEL_RESOURCE_ATTRIBUTES")); id != "" {
		return id, nil
	}

	// 7 bytes encode to a 10-char string without padding
	b := make([]byte, 7)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("failed to generate random instance ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Values in OTEL_RESOURCE_ATTRIBUTES are URL-encoded: see https://opentelemetry.io/docs/specs/otel/resource/sdk/#specifying-resource-information-via-an-environment-variable
func instanceIDFromOtelAttributes(attrs string) string {
	for pair := range strings.SplitSeq(attrs, ",") {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) != "service.instance.id" {
			continue
		}

		decoded, err := url.QueryUnescape(strings.TrimSpace(val))
		if err != nil {
			return ""
		}
		return decoded
	}

	return ""
}
