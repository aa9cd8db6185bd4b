// Package ingestserver implements a local server that accepts events like the FlexPrice ingestion API does.
// It's used during development and in tests to receive events without reaching the real API.
package ingestserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	kclock "k8s.io/utils/clock"

	"github.com/flexprice/go-kit/events"
)

const (
	HeaderAPIKey      = "x-api-key"
	HeaderRequestID   = "X-Request-Id"
	HeaderContentType = "Content-Type"
	ContentTypeJson   = "application/json; charset=utf-8"

	defaultMaxBodySize = 1 << 20
	acceptedMessage    = "Event accepted for processing"
)

// Sink receives the events accepted by the server.
// If it returns an error, the request fails with status 500.
type Sink func(ctx context.Context, event *events.Event) error

// Options contains options for New.
type Options struct {
	// API keys that are accepted in the x-api-key header.
	// If empty, requests are not authenticated.
	APIKeys []string

	// Receives accepted events.
	// If nil, events are only logged.
	Sink Sink

	// Maximum size of the request body.
	// Defaults to 1MB.
	MaxBodySize int64

	// Logger; defaults to slog.Default().
	Logger *slog.Logger

	// Internal clock, used for testing
	clock kclock.PassiveClock
}

// Server is a http.Handler that implements the POST /v1/events endpoint.
type Server struct {
	handler  http.Handler
	sink     Sink
	log      *slog.Logger
	clock    kclock.PassiveClock
	accepted atomic.Int64
}

// New returns a new Server.
func New(opts Options) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = defaultMaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}

	s := &Server{
		sink:  opts.Sink,
		log:   opts.Logger,
		clock: opts.clock,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.handleIngest)

	s.handler = otelhttp.NewHandler(
		Use(mux,
			MiddlewareMaxBodySize(opts.MaxBodySize),
			MiddlewareAPIKey(opts.APIKeys),
			MiddlewareRequestID(),
		),
		"ingest",
	)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Accepted returns the number of events accepted so far.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// ListenAndServe starts listening on addr and serves requests until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves requests on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	serveErrCh := make(chan error, 1)
	go func() {
		s.log.Info("Ingestion server listening", slog.String("addr", ln.Addr().String()))
		serveErrCh <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("error running server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("error shutting down server: %w", err)
		}
		s.log.Info("Ingestion server stopped")
		return nil
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	event := &events.Event{}
	err := json.NewDecoder(r.Body).Decode(event)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			ErrBodyTooLarge.WriteResponse(w, r)
			return
		}
		ErrInvalidBody.Clone(WithMetadata(map[string]string{"error": err.Error()})).
			WriteResponse(w, r)
		return
	}

	err = event.Validate()
	if err != nil {
		var vErr *events.ValidationError
		if errors.As(err, &vErr) {
			ErrValidationFailed.
				Clone(
					WithMessage(vErr.Field+" "+vErr.Message),
					WithMetadata(map[string]string{"field": vErr.Field}),
				).
				WriteResponse(w, r)
			return
		}
		ErrValidationFailed.WriteResponse(w, r)
		return
	}

	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = s.clock.Now().UTC().Format(time.RFC3339)
	}

	log := s.log.With(
		slog.String("eventId", event.EventID),
		slog.String("eventName", event.EventName),
		slog.String("externalCustomerId", event.ExternalCustomerID),
	)

	if s.sink != nil {
		err = s.sink(r.Context(), event)
		if err != nil {
			log.ErrorContext(r.Context(), "Failed to store event", slog.Any("error", err))
			ErrSinkFailed.WriteResponse(w, r)
			return
		}
	}

	s.accepted.Add(1)
	log.DebugContext(r.Context(), "Accepted event")

	RespondWithJSON(w, r, http.StatusAccepted, events.IngestResponse{
		EventID: event.EventID,
		Message: acceptedMessage,
	})
}
