package asyncprocessor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Stopper is implemented by Processor.
type Stopper interface {
	Stop(ctx context.Context) error
}

// StopOnDone registers a shutdown hook: when ctx is done, s is stopped, waiting at most timeout for it.
// Typically ctx is returned by signal.NotifyContext.
// This is best-effort and does not guarantee that queued events are delivered.
// The returned function unregisters the hook; it does not stop s.
func StopOnDone(ctx context.Context, s Stopper, timeout time.Duration) (unregister func()) {
	unregisterCh := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			err := s.Stop(stopCtx)
			if err != nil {
				slog.Warn("Error stopping async event processor on shutdown", slog.Any("error", err))
			}
		case <-unregisterCh:
			// Nop
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(unregisterCh)
		})
	}
}
