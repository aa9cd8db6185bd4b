package asyncprocessor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	kclock "k8s.io/utils/clock"
)

// ShutdownPolicy controls what happens to queued events when the processor is stopped.
type ShutdownPolicy int

const (
	// ShutdownAbandon stops the workers after their in-flight event, leaving queued events in the queue.
	// Abandoned events are neither delivered nor reported, unless the processor is started again.
	ShutdownAbandon ShutdownPolicy = iota
	// ShutdownDrain keeps delivering queued events until the queue is empty or the context passed to Stop ends.
	ShutdownDrain
)

const (
	defaultWorkers   = 2
	defaultQueueSize = 1000
	defaultRetries   = 3
	defaultBaseDelay = time.Second
)

// Options contains options for NewProcessor.
type Options[E, R any] struct {
	// Number of background workers.
	// Defaults to 2.
	Workers int

	// Capacity of the queue.
	// Defaults to 1000.
	QueueSize int

	// Maximum number of retries after the first attempt.
	// Nil means the default of 3; use ptr.To(0) to disable retries.
	MaxRetries *int

	// Base delay for the exponential backoff.
	// Before retry n, workers wait BaseDelay * 2^(n-1), multiplied by a random factor in [0.5, 1.5).
	// Defaults to 1s.
	BaseDelay time.Duration

	// If greater than 0, caps the delay between retries.
	MaxDelay time.Duration

	// If greater than 0, each attempt gets a context with this timeout.
	AttemptTimeout time.Duration

	// Classifies transport errors.
	// Errors for which it returns false end the delivery immediately.
	// If nil, all errors are retried.
	IsRetryable func(err error) bool

	// Optional validation performed on events at submission time.
	Validate func(event E) error

	// What to do with queued events on Stop.
	ShutdownPolicy ShutdownPolicy

	// Logger; defaults to slog.Default().
	Logger *slog.Logger

	// Meter used to record metrics; if nil, metrics are not recorded.
	Meter metric.Meter

	// Internal properties, used for testing
	clock  kclock.Clock
	jitter func() float64
}

// Processor delivers events asynchronously using a pool of background workers.
type Processor[E, R any] struct {
	workers        int
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
	isRetryable    func(err error) bool
	validate       func(event E) error
	policy         ShutdownPolicy
	log            *slog.Logger
	clock          kclock.Clock
	jitter         func() float64
	metrics        *processorMetrics

	queue chan queueItem[E, R]

	lock    sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc

	// Events accepted by TrySubmit whose callback hasn't been invoked yet
	// idleCh is closed while outstanding is 0
	outstandingLock sync.Mutex
	outstanding     int
	idleCh          chan struct{}
}

// NewProcessor returns a new Processor.
// The processor is created in the stopped state: call Start to begin delivering events.
func NewProcessor[E, R any](opts Options[E, R]) *Processor[E, R] {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	maxRetries := defaultRetries
	if opts.MaxRetries != nil {
		maxRetries = max(*opts.MaxRetries, 0)
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.IsRetryable == nil {
		opts.IsRetryable = func(error) bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}
	if opts.jitter == nil {
		opts.jitter = rand.Float64
	}

	p := &Processor[E, R]{
		workers:        opts.Workers,
		maxRetries:     maxRetries,
		baseDelay:      opts.BaseDelay,
		maxDelay:       opts.MaxDelay,
		attemptTimeout: opts.AttemptTimeout,
		isRetryable:    opts.IsRetryable,
		validate:       opts.Validate,
		policy:         opts.ShutdownPolicy,
		log:            opts.Logger,
		clock:          opts.clock,
		jitter:         opts.jitter,
		queue:          make(chan queueItem[E, R], opts.QueueSize),
		idleCh:         make(chan struct{}),
	}
	close(p.idleCh)

	metrics, err := newProcessorMetrics(opts.Meter, p.Pending)
	if err != nil {
		p.log.Warn("Failed to initialize processor metrics; metrics will not be recorded", slog.Any("error", err))
		metrics, _ = newProcessorMetrics(nil, p.Pending)
	}
	p.metrics = metrics

	return p
}

// Start the background workers.
// Calling Start on a running processor is a no-op.
func (p *Processor[E, R]) Start() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	var wg sync.WaitGroup
	for i := range p.workers {
		wg.Go(func() {
			p.work(ctx, i, stopCh)
		})
	}
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	p.running = true
	p.stopCh = stopCh
	p.doneCh = doneCh
	p.cancel = cancel

	p.log.Info("Started async event processor", slog.Int("workers", p.workers))
}

// Stop the background workers.
// Workers complete the event they are processing (including its retries) and then exit; with ShutdownDrain, they first deliver the events that are still queued.
// Stop waits until all workers have exited or ctx ends. In the latter case, in-flight deliveries are aborted (their callbacks are invoked with an error wrapping ErrAborted) and ErrStopTimeout is returned.
// Calling Stop on a stopped processor is a no-op, but if another call to Stop is still waiting for the workers, this call waits too.
func (p *Processor[E, R]) Stop(ctx context.Context) error {
	p.lock.Lock()
	doneCh := p.doneCh
	if !p.running {
		p.lock.Unlock()
		if doneCh == nil || isClosed(doneCh) {
			return nil
		}
		select {
		case <-doneCh:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
		}
	}
	p.running = false
	close(p.stopCh)
	cancel := p.cancel
	p.lock.Unlock()

	defer cancel()

	stopped := func() error {
		if n := p.Pending(); n > 0 {
			p.log.Warn("Async event processor stopped with events still in the queue", slog.Int("pending", n))
		} else {
			p.log.Info("Async event processor stopped")
		}
		return nil
	}

	// Workers that already exited win over a context that is already done
	if isClosed(doneCh) {
		return stopped()
	}

	select {
	case <-doneCh:
		return stopped()
	case <-ctx.Done():
		p.log.Warn("Timed out waiting for async event processor workers to stop; aborting in-flight deliveries", slog.Any("error", ctx.Err()))
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// Flush blocks until every event accepted so far has been processed and its callback invoked, or until ctx ends.
// Unlike Stop, it leaves the processor running.
// It returns ErrNotRunning if events are outstanding while the processor is stopped, and ErrFlushTimeout if ctx ends first.
func (p *Processor[E, R]) Flush(ctx context.Context) error {
	for {
		p.outstandingLock.Lock()
		n := p.outstanding
		idleCh := p.idleCh
		p.outstandingLock.Unlock()
		if n == 0 {
			return nil
		}

		p.lock.Lock()
		running := p.running
		doneCh := p.doneCh
		p.lock.Unlock()
		if !running {
			return fmt.Errorf("%w: %d events are outstanding", ErrNotRunning, n)
		}

		select {
		case <-idleCh:
			return nil
		case <-doneCh:
			// Stopped while flushing; check again
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrFlushTimeout, ctx.Err())
		}
	}
}

func (p *Processor[E, R]) addOutstanding(delta int) {
	p.outstandingLock.Lock()
	defer p.outstandingLock.Unlock()

	if p.outstanding == 0 && delta > 0 {
		p.idleCh = make(chan struct{})
	}
	p.outstanding += delta
	if p.outstanding == 0 {
		close(p.idleCh)
	}
}

// Running returns true if the workers are running.
func (p *Processor[E, R]) Running() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.running
}

// Capacity returns the maximum number of events that can wait in the queue.
func (p *Processor[E, R]) Capacity() int {
	return cap(p.queue)
}

// Pending returns the number of events waiting in the queue.
func (p *Processor[E, R]) Pending() int {
	return len(p.queue)
}

// Submit queues an event for asynchronous delivery using transport, without blocking.
// It returns false if the event or transport are nil, the event fails validation, or the queue is full; in these cases cb is never invoked.
//
// Once Submit returns true, the outcome is reported only through cb. Submission is fire-and-forget: if cb is nil, delivery failures are only logged and are otherwise not observable.
func (p *Processor[E, R]) Submit(event E, transport Transport[E, R], cb Callback[R]) bool {
	return p.TrySubmit(event, transport, cb) == nil
}

// TrySubmit is like Submit but it returns an error describing why the event was rejected.
// The error is one of ErrInvalidEvent, ErrNilTransport, or ErrQueueFull.
func (p *Processor[E, R]) TrySubmit(event E, transport Transport[E, R], cb Callback[R]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: validation panicked: %v", ErrInvalidEvent, r)
			p.reject(err)
		}
	}()

	switch {
	case isNil(event):
		err = ErrInvalidEvent
	case isNil(transport):
		err = ErrNilTransport
	case p.validate != nil:
		vErr := p.validate(event)
		if vErr != nil {
			err = fmt.Errorf("%w: %w", ErrInvalidEvent, vErr)
		}
	}
	if err != nil {
		p.reject(err)
		return err
	}

	// Counted before queueing, so a worker can't complete the event first
	p.addOutstanding(1)
	select {
	case p.queue <- queueItem[E, R]{event: event, transport: transport, callback: cb}:
		p.metrics.recordSubmitted()
		p.log.Debug("Event queued for async processing")
		return nil
	default:
		p.addOutstanding(-1)
		p.reject(ErrQueueFull)
		return ErrQueueFull
	}
}

func (p *Processor[E, R]) reject(err error) {
	p.metrics.recordRejected(err)
	p.log.Error("Failed to queue event", slog.Any("error", err))
}

// work is the loop of a single worker.
func (p *Processor[E, R]) work(ctx context.Context, id int, stopCh <-chan struct{}) {
	log := p.log.With(slog.Int("worker", id))
	for {
		// Check the stop signal first so a busy queue can't delay shutdown
		select {
		case <-stopCh:
			p.shutdownWorker(ctx, log)
			return
		default:
		}

		select {
		case <-stopCh:
			p.shutdownWorker(ctx, log)
			return
		case item := <-p.queue:
			p.process(ctx, log, item)
		}
	}
}

func (p *Processor[E, R]) shutdownWorker(ctx context.Context, log *slog.Logger) {
	if p.policy != ShutdownDrain {
		return
	}

	for ctx.Err() == nil {
		select {
		case item := <-p.queue:
			p.process(ctx, log, item)
		default:
			// Queue is empty
			return
		}
	}
}

// process delivers a single item and reports the outcome.
// Panics are recovered so a bad item can't kill the worker; the callback is still invoked exactly once.
func (p *Processor[E, R]) process(ctx context.Context, log *slog.Logger, item queueItem[E, R]) {
	notified := false
	defer func() {
		defer p.addOutstanding(-1)

		r := recover()
		if r == nil {
			return
		}
		log.Error("Recovered panic while processing event",
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		if !notified {
			p.notify(log, item.callback, failed[R](fmt.Errorf("%w: %v", ErrProcessingPanic, r), 0))
		}
	}()

	res := p.deliver(ctx, log, item)
	p.metrics.recordCompleted(res.Success())
	notified = true
	p.notify(log, item.callback, res)
}

func (p *Processor[E, R]) deliver(ctx context.Context, log *slog.Logger, item queueItem[E, R]) Result[R] {
	maxAttempts := p.maxRetries + 1

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		if attempts > 0 {
			select {
			case <-p.clock.After(p.backoff(attempts)):
				// Continue after delay
			case <-ctx.Done():
				return failed[R](abortedError(lastErr), attempts)
			}
		}
		if ctx.Err() != nil {
			return failed[R](abortedError(lastErr), attempts)
		}

		log.Debug("Sending event", slog.Int("attempt", attempts+1), slog.Int("maxAttempts", maxAttempts))
		val, err := p.attempt(ctx, item)
		attempts++
		p.metrics.recordAttempt()

		if err == nil {
			log.Debug("Event delivered", slog.Int("attempts", attempts))
			return succeeded(val, attempts)
		}

		lastErr = err
		if !p.retryable(log, err) {
			log.Error("Event delivery failed with a non-retryable error",
				slog.Int("attempt", attempts),
				slog.Any("error", err),
			)
			return failed[R](err, attempts)
		}

		log.Warn("Event delivery attempt failed",
			slog.Int("attempt", attempts),
			slog.Int("maxAttempts", maxAttempts),
			slog.Any("error", err),
		)
	}

	log.Error("Event delivery permanently failed",
		slog.Int("attempts", attempts),
		slog.Any("error", lastErr),
	)
	return failed[R](fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, lastErr), attempts)
}

// retryable invokes the IsRetryable hook; a panicking hook makes the error final.
func (p *Processor[E, R]) retryable(log *slog.Logger, err error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic in IsRetryable; treating the error as non-retryable", slog.Any("panic", r))
			ok = false
		}
	}()
	return p.isRetryable(err)
}

// attempt invokes the transport once, converting panics into errors.
func (p *Processor[E, R]) attempt(ctx context.Context, item queueItem[E, R]) (val R, err error) {
	if p.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			var zero R
			val = zero
			err = fmt.Errorf("%w: %v", ErrTransportPanic, r)
		}
	}()

	val, err = item.transport.Submit(ctx, item.event)
	if err != nil {
		var zero R
		val = zero
	}
	return val, err
}

// backoff returns the delay before the given attempt (1-based count of attempts already made).
func (p *Processor[E, R]) backoff(attempt int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(2, float64(attempt-1)) * (0.5 + p.jitter())
	if p.maxDelay > 0 && d > float64(p.maxDelay) {
		d = float64(p.maxDelay)
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p *Processor[E, R]) notify(log *slog.Logger, cb Callback[R], res Result[R]) {
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered panic in event callback",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	cb(res)
}

func abortedError(lastErr error) error {
	if lastErr == nil {
		return ErrAborted
	}
	return fmt.Errorf("%w: %w", ErrAborted, lastErr)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// isNil returns true for nil interfaces as well as interfaces holding nil pointers, maps, slices, funcs, or channels.
func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
