package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Version of the client, reported in the User-Agent header.
const Version = "0.1.0"

const (
	eventsPath      = "/v1/events"
	apiKeyHeader    = "x-api-key"
	requestIDHeader = "X-Request-Id"

	// Responses larger than this are truncated
	maxResponseSize = 1 << 20
)

// APIClient sends events to the ingestion API synchronously.
type APIClient struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient HTTPDoer
}

// NewAPIClient returns a new APIClient that authenticates with the given API key.
func NewAPIClient(apiKey string, opts ...Option) (*APIClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	o := defaultClientOptions()
	for _, opt := range opts {
		err := opt(o)
		if err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	userAgent := "flexprice-go/" + Version
	if o.userAgent != "" {
		userAgent += " " + o.userAgent
	}

	return &APIClient{
		baseURL:    o.baseURL,
		apiKey:     apiKey,
		userAgent:  userAgent,
		httpClient: httpClient,
	}, nil
}

// EventsPost sends a single event and waits for the API to accept it.
// The event is validated before being sent.
func (c *APIClient) EventsPost(ctx context.Context, event *Event) (*IngestResponse, error) {
	err := event.Validate()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+eventsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(apiKeyHeader, c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "request", Err: err}
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{Op: "read", Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, parseAPIError(res, resBody)
	}

	out := &IngestResponse{}
	if len(bytes.TrimSpace(resBody)) > 0 {
		err = json.Unmarshal(resBody, out)
		if err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	if out.EventID == "" {
		out.EventID = event.EventID
	}

	return out, nil
}

// Submit implements asyncprocessor.Transport.
func (c *APIClient) Submit(ctx context.Context, event *Event) (*IngestResponse, error) {
	return c.EventsPost(ctx, event)
}

// parseAPIError builds an APIError from an error response.
// The body can be in the format `{"error": "msg"}`, `{"error": {"message": "msg"}}`, or `{"message": "msg"}`.
func parseAPIError(res *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: res.StatusCode,
		RequestID:  res.Header.Get(requestIDHeader),
	}

	var errRes struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &errRes) == nil {
		var (
			msg string
			obj struct {
				Message string `json:"message"`
			}
		)
		switch {
		case len(errRes.Error) > 0 && json.Unmarshal(errRes.Error, &msg) == nil && msg != "":
			apiErr.Message = msg
		case len(errRes.Error) > 0 && json.Unmarshal(errRes.Error, &obj) == nil && obj.Message != "":
			apiErr.Message = obj.Message
		case errRes.Message != "":
			apiErr.Message = errRes.Message
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(res.StatusCode)
	}

	return apiErr
}
