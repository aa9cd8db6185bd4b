package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	kclock "k8s.io/utils/clock"
	"k8s.io/utils/ptr"

	"github.com/flexprice/go-kit/asyncprocessor"
	"github.com/flexprice/go-kit/dedupe"
)

// AsyncConfig contains the configuration for the AsyncClient.
// Zero values are replaced with the defaults from DefaultAsyncConfig, except for DedupeWindow.
type AsyncConfig struct {
	// Number of background workers sending events
	Workers int
	// Maximum number of events waiting to be sent
	QueueSize int
	// Maximum number of retries after the first attempt
	MaxRetries *int
	// Base delay for the exponential backoff between retries
	BaseDelay time.Duration
	// Maximum delay between retries
	MaxDelay time.Duration
	// Timeout for each attempt; if 0, the timeout of the HTTP client applies
	AttemptTimeout time.Duration
	// Source applied to events that don't have one
	DefaultSource string
	// Events with an ID that was enqueued within this window are rejected with ErrDuplicateEvent
	// Set to 0 to disable de-duplication
	DedupeWindow time.Duration
	// What to do with queued events on Stop
	ShutdownPolicy asyncprocessor.ShutdownPolicy
	// Invoked when an event enqueued without a callback fails to be delivered
	// If nil, failures are logged
	OnError func(event *Event, err error)
	// Logger; defaults to slog.Default()
	Logger *slog.Logger
	// Meter used to record metrics
	Meter metric.Meter

	// Internal clock, used for testing
	clock kclock.PassiveClock
}

// DefaultAsyncConfig returns the default configuration for the AsyncClient.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Workers:       2,
		QueueSize:     1000,
		MaxRetries:    ptr.To(3),
		BaseDelay:     time.Second,
		MaxDelay:      30 * time.Second,
		DefaultSource: DefaultSource,
		DedupeWindow:  5 * time.Minute,
	}
}

// AsyncClient sends events in background, without blocking the caller.
// Events are retried with exponential backoff if the API returns a transient error.
type AsyncClient struct {
	api       *APIClient
	processor *asyncprocessor.Processor[*Event, *IngestResponse]
	window    *dedupe.Window
	source    string
	onError   func(event *Event, err error)
	log       *slog.Logger
	clock     kclock.PassiveClock
}

// NewAsyncClient returns a new AsyncClient using the default configuration.
// The client must be started with Start.
func NewAsyncClient(api *APIClient) *AsyncClient {
	return NewAsyncClientWithConfig(api, DefaultAsyncConfig())
}

// NewAsyncClientWithConfig returns a new AsyncClient with the given configuration.
// The client must be started with Start.
func NewAsyncClientWithConfig(api *APIClient, cfg AsyncConfig) *AsyncClient {
	def := DefaultAsyncConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries == nil {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = def.DefaultSource
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = kclock.RealClock{}
	}

	c := &AsyncClient{
		api:     api,
		source:  cfg.DefaultSource,
		onError: cfg.OnError,
		log:     cfg.Logger,
		clock:   cfg.clock,
	}

	c.processor = asyncprocessor.NewProcessor(asyncprocessor.Options[*Event, *IngestResponse]{
		Workers:        cfg.Workers,
		QueueSize:      cfg.QueueSize,
		MaxRetries:     cfg.MaxRetries,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		AttemptTimeout: cfg.AttemptTimeout,
		IsRetryable:    IsRetryable,
		Validate:       (*Event).Validate,
		ShutdownPolicy: cfg.ShutdownPolicy,
		Logger:         cfg.Logger,
		Meter:          cfg.Meter,
	})

	if cfg.DedupeWindow > 0 {
		c.window = dedupe.NewWindow(dedupe.WindowOptions{
			TTL: cfg.DedupeWindow,
		})
	}

	return c
}

// Start the background workers.
func (c *AsyncClient) Start() {
	c.processor.Start()
}

// Stop the background workers, waiting for in-flight events until ctx is done.
// Depending on the shutdown policy, queued events are sent or abandoned.
// The client can be started again after Stop.
func (c *AsyncClient) Stop(ctx context.Context) error {
	return c.processor.Stop(ctx)
}

// Flush blocks until every queued event has been sent (or has permanently failed), or until ctx is done.
// The client keeps running after Flush returns.
func (c *AsyncClient) Flush(ctx context.Context) error {
	return c.processor.Flush(ctx)
}

// Close stops the client and releases its resources.
// The client cannot be used after Close.
func (c *AsyncClient) Close(ctx context.Context) error {
	err := c.processor.Stop(ctx)
	if c.window != nil {
		c.window.Stop()
	}
	return err
}

// Pending returns the number of events waiting in the queue.
func (c *AsyncClient) Pending() int {
	return c.processor.Pending()
}

// Processor returns the underlying processor.
func (c *AsyncClient) Processor() *asyncprocessor.Processor[*Event, *IngestResponse] {
	return c.processor
}

// EventsPostAsync queues an event to be sent in background and returns immediately.
// It returns false if the event could not be queued, in which case cb is never invoked; the reason is logged.
// Otherwise, cb (if not nil) is invoked exactly once with the outcome.
// The event is not modified: defaults are applied to a copy.
func (c *AsyncClient) EventsPostAsync(event *Event, cb asyncprocessor.Callback[*IngestResponse]) bool {
	return c.enqueue(event, cb) == nil
}

// TryEventsPostAsync is like EventsPostAsync but it returns an error describing why the event could not be queued.
// The error wraps ErrDuplicateEvent or one of the asyncprocessor errors ErrInvalidEvent and ErrQueueFull.
func (c *AsyncClient) TryEventsPostAsync(event *Event, cb asyncprocessor.Callback[*IngestResponse]) error {
	return c.enqueue(event, cb)
}

// Capacity returns the maximum number of events that can wait in the queue.
func (c *AsyncClient) Capacity() int {
	return c.processor.Capacity()
}

// Enqueue queues an event with the given name, customer, and properties.
// Failures to deliver the event are reported to the OnError handler.
func (c *AsyncClient) Enqueue(eventName string, externalCustomerID string, properties map[string]any) error {
	return c.EnqueueWithOptions(EventOptions{
		EventName:          eventName,
		ExternalCustomerID: externalCustomerID,
		Properties:         properties,
	})
}

// EnqueueWithOptions queues an event described by opts.
// Failures to deliver the event are reported to the OnError handler.
func (c *AsyncClient) EnqueueWithOptions(opts EventOptions) error {
	event := opts.Event()
	return c.enqueue(event, nil)
}

func (c *AsyncClient) enqueue(event *Event, cb asyncprocessor.Callback[*IngestResponse]) error {
	if event == nil {
		err := fmt.Errorf("%w: %w", asyncprocessor.ErrInvalidEvent, &ValidationError{Field: "event", Message: "is nil"})
		c.log.Error("Failed to queue event", slog.Any("error", err))
		return err
	}

	event = c.withDefaults(event)

	if c.window != nil && c.window.Seen(event.EventID) {
		err := fmt.Errorf("%w: %s", ErrDuplicateEvent, event.EventID)
		c.log.Warn("Event was not queued", slog.String("eventId", event.EventID), slog.Any("error", err))
		return err
	}

	if cb == nil {
		cb = c.reportFailure(event)
	}

	err := c.processor.TrySubmit(event, c.api, cb)
	if err != nil {
		// The event was not queued, so it can be submitted again
		if c.window != nil {
			c.window.Forget(event.EventID)
		}
		return err
	}

	return nil
}

// withDefaults returns a copy of the event with the default source, timestamp, and ID applied.
func (c *AsyncClient) withDefaults(event *Event) *Event {
	event = event.Clone()
	if event.Source == "" {
		event.Source = c.source
	}
	if event.Timestamp == "" {
		event.Timestamp = c.clock.Now().UTC().Format(time.RFC3339)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return event
}

func (c *AsyncClient) reportFailure(event *Event) asyncprocessor.Callback[*IngestResponse] {
	return func(res asyncprocessor.Result[*IngestResponse]) {
		if res.Success() {
			return
		}

		err := res.Err()
		if c.onError != nil {
			c.onError(event, err)
			return
		}

		attrs := []any{
			slog.String("eventId", event.EventID),
			slog.String("eventName", event.EventName),
			slog.Int("attempts", res.Attempts()),
			slog.Any("error", err),
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RequestID != "" {
			attrs = append(attrs, slog.String("requestId", apiErr.RequestID))
		}
		c.log.Error("Failed to send event", attrs...)
	}
}
