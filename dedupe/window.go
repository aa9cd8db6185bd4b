// This code was adapted from https://github.com/dapr/kit/tree/v0.15.4/
// Copyright (C) 2023 The Dapr Authors
// License: Apache2

// Package dedupe implements a time window that remembers keys, such as event IDs, to detect duplicates.
// Keys expire after a TTL and are periodically purged in background.
package dedupe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	kclock "k8s.io/utils/clock"
)

// Window remembers keys for a fixed amount of time.
type Window struct {
	m         *haxmap.Map[string, time.Time]
	ttl       time.Duration
	clock     kclock.WithTicker
	lock      sync.Mutex
	stopped   atomic.Bool
	runningCh chan struct{}
	stopCh    chan struct{}
}

// WindowOptions are options for NewWindow.
type WindowOptions struct {
	// How long keys are remembered for.
	// This is required and must be 1ms or greater.
	TTL time.Duration

	// Initial size for the underlying map.
	// This is optional, and if empty will be left to the underlying library to decide.
	InitialSize int32

	// Interval to perform garbage collection.
	// This is optional, and defaults to the TTL (but no less than 1s).
	CleanupInterval time.Duration

	// Internal clock property, used for testing
	clock kclock.WithTicker
}

// NewWindow returns a new Window.
// It panics if the TTL is less than 1ms.
func NewWindow(opts WindowOptions) *Window {
	if opts.TTL < time.Millisecond {
		panic("invalid TTL: must be 1ms or greater")
	}

	var m *haxmap.Map[string, time.Time]
	if opts.InitialSize > 0 {
		m = haxmap.New[string, time.Time](uintptr(opts.InitialSize))
	} else {
		m = haxmap.New[string, time.Time]()
	}

	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = max(opts.TTL, time.Second)
	}

	if opts.clock == nil {
		opts.clock = kclock.RealClock{}
	}

	w := &Window{
		m:      m,
		ttl:    opts.TTL,
		clock:  opts.clock,
		stopCh: make(chan struct{}),
	}
	w.startBackgroundCleanup(opts.CleanupInterval)

	return w
}

// Seen records the key and reports whether it had already been recorded within the TTL.
// It is safe for concurrent use: when multiple goroutines call Seen with the same new key, only one of them gets false.
func (w *Window) Seen(key string) bool {
	for {
		now := w.clock.Now()
		exp, loaded := w.m.GetOrSet(key, now.Add(w.ttl))
		if !loaded {
			return false
		}
		if exp.After(now) {
			return true
		}

		// The key is expired: replace it, unless another goroutine did it first
		w.lock.Lock()
		cur, ok := w.m.Get(key)
		if ok && !cur.After(now) {
			w.m.Set(key, now.Add(w.ttl))
			w.lock.Unlock()
			return false
		}
		w.lock.Unlock()
	}
}

// Forget removes a key from the window, so it's not considered a duplicate anymore.
func (w *Window) Forget(key string) {
	w.m.Del(key)
}

// Len returns the number of keys in the window, including expired ones not yet purged.
func (w *Window) Len() int {
	return int(w.m.Len())
}

// Cleanup removes all expired keys.
func (w *Window) Cleanup() {
	// Holding the lock prevents deleting a key that Seen is replacing concurrently
	w.lock.Lock()
	defer w.lock.Unlock()

	now := w.clock.Now()

	// Look for all expired keys and then remove them in bulk
	// This is more efficient than removing keys one-by-one
	keys := make([]string, 0)
	w.m.ForEach(func(k string, exp time.Time) bool {
		if !exp.After(now) {
			keys = append(keys, k)
		}
		return true
	})

	if len(keys) > 0 {
		w.m.Del(keys...)
	}
}

func (w *Window) startBackgroundCleanup(d time.Duration) {
	w.runningCh = make(chan struct{})
	go func() {
		defer close(w.runningCh)

		t := w.clock.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-w.stopCh:
				// Stop the background goroutine
				return
			case <-t.C():
				w.Cleanup()
			}
		}
	}()
}

// Stop the background cleanup.
func (w *Window) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.stopCh)
	}
	<-w.runningCh
}
