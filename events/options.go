package events

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.cloud.flexprice.io"
	defaultTimeout = 10 * time.Second
)

// HTTPDoer is the interface of the HTTP client used by APIClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures the APIClient.
type Option func(*clientOptions) error

type clientOptions struct {
	baseURL    string
	httpClient HTTPDoer
	timeout    time.Duration
	userAgent  string
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		baseURL: defaultBaseURL,
		timeout: defaultTimeout,
	}
}

// WithBaseURL sets the base URL of the API.
// Default: "https://api.cloud.flexprice.io"
func WithBaseURL(url string) Option {
	return func(o *clientOptions) error {
		if url == "" {
			return errors.New("base URL cannot be empty")
		}
		o.baseURL = strings.TrimSuffix(url, "/")
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client.
// When set, WithTimeout is ignored.
func WithHTTPClient(client HTTPDoer) Option {
	return func(o *clientOptions) error {
		if client == nil {
			return errors.New("HTTP client cannot be nil")
		}
		o.httpClient = client
		return nil
	}
}

// WithTimeout sets the timeout for each request.
// Default: 10s
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		o.timeout = d
		return nil
	}
}

// WithUserAgent appends a value to the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *clientOptions) error {
		o.userAgent = ua
		return nil
	}
}
