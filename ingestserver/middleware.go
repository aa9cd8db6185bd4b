package ingestserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
)

// Middleware type is a function that takes an http.Handler and returns another http.Handler
type Middleware func(next http.Handler) http.Handler

// Use applies middlewares to the handler
// The first middleware is the innermost one.
func Use(h http.Handler, middlewares ...Middleware) http.Handler {
	for _, middleware := range middlewares {
		h = middleware(h)
	}
	return h
}

// MiddlewareMaxBodySize is a middleware that limits the size of the request body
func MiddlewareMaxBodySize(maxSize int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}

// MiddlewareRequestID is a middleware that sets the X-Request-Id response header.
// The value from the request is used if present, otherwise a new ID is generated.
func MiddlewareRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, reqID)
			next.ServeHTTP(w, r)
		})
	}
}

// MiddlewareAPIKey is a middleware that requires the x-api-key header to contain one of the keys.
// If keys is empty, all requests are allowed.
func MiddlewareAPIKey(keys []string) Middleware {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(HeaderAPIKey))
			for _, k := range keys {
				if subtle.ConstantTimeCompare(got, []byte(k)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			ErrUnauthorized.WriteResponse(w, r)
		})
	}
}
