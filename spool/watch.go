package spool

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	kclock "k8s.io/utils/clock"
)

// Changes happening within this interval from the first one are batched in a single notification
const batchInterval = 500 * time.Millisecond

// Watch returns a channel that receives a notification when a file is created or written to in a folder.
// If filter is not nil, only changes to files whose base name is accepted by filter trigger notifications.
// The channel is closed when ctx is canceled.
func Watch(ctx context.Context, folder string, filter func(name string) bool) (<-chan struct{}, error) {
	return watchFolder(ctx, folder, filter, slog.Default(), kclock.RealClock{})
}

func watchFolder(ctx context.Context, folder string, filter func(name string) bool, log *slog.Logger, clock kclock.Clock) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	err = watcher.Add(folder)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to add watched folder: %w", err)
	}

	notify := make(chan struct{}, 1)
	go func() {
		defer close(notify)
		defer watcher.Close() //nolint:errcheck

		// Pending batch; batchCh is nil when there's none
		var (
			batch   kclock.Timer
			batchCh <-chan time.Time
		)
		defer func() {
			if batch != nil {
				batch.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isChange(event, filter) || batchCh != nil {
					continue
				}
				batch = clock.NewTimer(batchInterval)
				batchCh = batch.C()

			case <-batchCh:
				batch, batchCh = nil, nil

				// Drop the notification if the receiver hasn't consumed the previous one yet
				select {
				case notify <- struct{}{}:
				default:
				}

			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WarnContext(ctx, "Error while watching spool folder",
					slog.Any("error", watchErr),
					slog.String("folder", folder),
				)
			}
		}
	}()

	return notify, nil
}

// isChange returns true for files that were created (including renamed into the folder) or written to.
func isChange(event fsnotify.Event, filter func(name string) bool) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return filter == nil || filter(filepath.Base(event.Name))
}
