package ingestserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUse(t *testing.T) {
	var order []string
	record := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+" in")
				next.ServeHTTP(w, r)
				order = append(order, name+" out")
			})
		}
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	Use(handler, record("apiKey"), record("requestID")).
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/events", nil))

	// The last middleware is the outermost one
	assert.Equal(t, []string{"requestID in", "apiKey in", "handler", "apiKey out", "requestID out"}, order)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMiddlewareMaxBodySize(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body) //nolint:errcheck
	})

	tests := []struct {
		name       string
		maxSize    int64
		body       string
		wantStatus int
	}{
		{name: "Allowed size", maxSize: 100, body: "small body content", wantStatus: http.StatusOK},
		{name: "Exact size", maxSize: 15, body: strings.Repeat("a", 15), wantStatus: http.StatusOK},
		{name: "Exceeds size", maxSize: 10, body: strings.Repeat("a", 20), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "Zero size", maxSize: 0, body: "a", wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			MiddlewareMaxBodySize(tt.maxSize)(handler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), "http: request body too large")
			}
		})
	}
}

func TestMiddlewareRequestID(t *testing.T) {
	handler := MiddlewareRequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("Generates ID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		assert.Len(t, rec.Header().Get(HeaderRequestID), 36)
	})

	t.Run("Keeps ID from request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(HeaderRequestID, "req_1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "req_1", rec.Header().Get(HeaderRequestID))
	})
}

func TestMiddlewareAPIKey(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		keys       []string
		header     string
		wantStatus int
	}{
		{name: "No keys configured", keys: nil, header: "", wantStatus: http.StatusOK},
		{name: "Valid key", keys: []string{"key1", "key2"}, header: "key2", wantStatus: http.StatusOK},
		{name: "Invalid key", keys: []string{"key1"}, header: "nope", wantStatus: http.StatusUnauthorized},
		{name: "Missing key", keys: []string{"key1"}, header: "", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set(HeaderAPIKey, tt.header)
			}
			rec := httptest.NewRecorder()

			MiddlewareAPIKey(tt.keys)(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":{"code":"unauthorized","message":"Missing or invalid API key"}}`, rec.Body.String())
			}
		})
	}
}
