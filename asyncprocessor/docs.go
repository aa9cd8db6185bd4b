// Package asyncprocessor implements a fire-and-forget processor that delivers events through a caller-supplied transport.
// Events are kept in a bounded in-memory queue and consumed by a fixed pool of background goroutines.
// Each event is attempted at least once and retried with exponential backoff and jitter, up to a configured limit.
// Submitting never blocks: when the queue is full the event is rejected immediately.
// The outcome of every accepted event is reported exactly once through its optional callback.
package asyncprocessor
