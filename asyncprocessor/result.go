package asyncprocessor

import (
	"context"
	"errors"
)

var (
	// ErrInvalidEvent is returned by TrySubmit when the event is nil or fails validation.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrNilTransport is returned by TrySubmit when the transport is nil.
	ErrNilTransport = errors.New("transport is nil")
	// ErrQueueFull is returned by TrySubmit when the queue is at capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrRetriesExhausted wraps the last transport error once all attempts have failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrAborted is reported when delivery is interrupted because Stop gave up waiting for the workers.
	ErrAborted = errors.New("delivery aborted")
	// ErrTransportPanic is reported when the transport panics during an attempt.
	ErrTransportPanic = errors.New("transport panicked")
	// ErrStopTimeout is returned by Stop when the workers did not exit before the context ended.
	ErrStopTimeout = errors.New("timed out waiting for workers to stop")
	// ErrProcessingPanic is reported when processing an event panics outside of the transport.
	ErrProcessingPanic = errors.New("panic while processing event")
	// ErrFlushTimeout is returned by Flush when events are still outstanding once the context ends.
	ErrFlushTimeout = errors.New("timed out waiting for events to be processed")
	// ErrNotRunning is returned by Flush when events are outstanding but the processor is stopped.
	ErrNotRunning = errors.New("processor is not running")
)

// Transport performs the actual delivery of an event.
// Implementations must be safe for concurrent use, as multiple workers can call Submit at the same time.
type Transport[E, R any] interface {
	Submit(ctx context.Context, event E) (R, error)
}

// TransportFunc is an adapter to allow the use of ordinary functions as a Transport.
type TransportFunc[E, R any] func(ctx context.Context, event E) (R, error)

// Submit calls f(ctx, event).
func (f TransportFunc[E, R]) Submit(ctx context.Context, event E) (R, error) {
	return f(ctx, event)
}

// Callback receives the final outcome of a submitted event.
// It is invoked exactly once, on a worker goroutine, and should return quickly.
type Callback[R any] func(res Result[R])

// Result is the final outcome of the delivery of an event.
// A successful result carries the value returned by the transport; a failed one carries a non-nil error.
type Result[R any] struct {
	value    R
	err      error
	attempts int
}

func succeeded[R any](value R, attempts int) Result[R] {
	return Result[R]{
		value:    value,
		attempts: attempts,
	}
}

func failed[R any](err error, attempts int) Result[R] {
	if err == nil {
		err = errors.New("delivery failed")
	}
	return Result[R]{
		err:      err,
		attempts: attempts,
	}
}

// Success returns true if the event was delivered.
func (r Result[R]) Success() bool {
	return r.err == nil
}

// Value returns the value returned by the transport.
// It's the zero value when the delivery failed.
func (r Result[R]) Value() R {
	return r.value
}

// Err returns the error that caused the delivery to fail, or nil on success.
// When all attempts failed, the error wraps both ErrRetriesExhausted and the last transport error.
func (r Result[R]) Err() error {
	return r.err
}

// Attempts returns the number of times the transport was invoked.
func (r Result[R]) Attempts() int {
	return r.attempts
}

// queueItem is an event waiting to be delivered.
type queueItem[E, R any] struct {
	event     E
	transport Transport[E, R]
	callback  Callback[R]
}
