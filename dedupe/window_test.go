// This code was adapted from https://github.com/dapr/kit/tree/v0.15.4/
// Copyright (C) 2023 The Dapr Authors
// License: Apache2

package dedupe

import (
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestWindow(t *testing.T) {
	clock := &clocktesting.FakeClock{}
	clock.SetTime(time.Now())

	w := NewWindow(WindowOptions{
		TTL:             5 * time.Second,
		InitialSize:     10,
		CleanupInterval: 20 * time.Second,
		clock:           clock,
	})
	defer w.Stop()

	require.False(t, w.Seen("evt_1"))
	require.True(t, w.Seen("evt_1"))

	clock.Step(2 * time.Second)
	require.False(t, w.Seen("evt_2"))
	require.True(t, w.Seen("evt_1"))

	// evt_1 expires after 5s, evt_2 after 7s
	clock.Step(3 * time.Second)
	require.False(t, w.Seen("evt_1"))
	require.True(t, w.Seen("evt_2"))
	require.True(t, w.Seen("evt_1"))

	// Forgotten keys are not duplicates anymore
	w.Forget("evt_2")
	require.False(t, w.Seen("evt_2"))

	require.Equal(t, 2, w.Len())
}

func TestWindowCleanup(t *testing.T) {
	clock := &clocktesting.FakeClock{}
	clock.SetTime(time.Now())

	w := NewWindow(WindowOptions{
		TTL:             time.Second,
		CleanupInterval: 10 * time.Second,
		clock:           clock,
	})
	defer w.Stop()

	// Wait for the background cleanup ticker to be registered
	require.Eventually(t, clock.HasWaiters, time.Second, 10*time.Millisecond)

	for i := range 5 {
		w.Seen("evt_" + strconv.Itoa(i))
	}

	// Values are still stored as they haven't been cleaned up yet
	clock.Step(2 * time.Second)
	require.Equal(t, 5, w.Len())

	// Advance the clock to make sure the cleanup runs
	clock.Step(8 * time.Second)

	require.EventuallyWithT(t, func(c *assert.CollectT) {
		if !assert.Equal(c, 0, w.Len()) {
			runtime.Gosched()
		}
	}, time.Second, 20*time.Millisecond)
}

func TestWindowCleanupRemovesExpiredKeysAtBoundary(t *testing.T) {
	clock := &clocktesting.FakeClock{}
	clock.SetTime(time.Now())

	w := NewWindow(WindowOptions{
		TTL:             time.Second,
		CleanupInterval: time.Hour,
		clock:           clock,
	})
	defer w.Stop()

	w.Seen("evt")
	w.Seen("evt_later")
	clock.Step(500 * time.Millisecond)
	w.Forget("evt_later")
	w.Seen("evt_later")

	clock.Step(500 * time.Millisecond)
	w.Cleanup()

	assert.Equal(t, 1, w.Len())
	assert.False(t, w.Seen("evt"))
	assert.True(t, w.Seen("evt_later"))
}

func TestWindowConcurrentSeen(t *testing.T) {
	w := NewWindow(WindowOptions{TTL: time.Minute})
	defer w.Stop()

	const goroutines = 16
	var firsts atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Go(func() {
			if !w.Seen("evt_shared") {
				firsts.Add(1)
			}
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, firsts.Load())
}

func TestNewWindowInvalidTTL(t *testing.T) {
	assert.Panics(t, func() {
		NewWindow(WindowOptions{TTL: time.Microsecond})
	})
}
