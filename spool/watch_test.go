package spool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func startWatch(t *testing.T, dir string, filter func(string) bool) (<-chan struct{}, *clocktesting.FakeClock) {
	t.Helper()

	clock := clocktesting.NewFakeClock(time.Now())
	ch, err := watchFolder(t.Context(), dir, filter, discardLogger(), clock)
	require.NoError(t, err)
	return ch, clock
}

func assertNoNotification(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
		t.Fatal("received unexpected notification")
	case <-time.After(100 * time.Millisecond):
		// No notification
	}
}

func assertNotification(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case _, ok := <-ch:
		require.True(t, ok, "channel was closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestWatch(t *testing.T) {
	t.Run("file created", func(t *testing.T) {
		dir := t.TempDir()
		ch, clock := startWatch(t, dir, IsSpoolFile)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "events.ndjson"), []byte("{}\n"), 0o644))

		// The notification is sent once the batch interval elapses
		require.Eventually(t, clock.HasWaiters, 2*time.Second, 5*time.Millisecond)
		assertNoNotification(t, ch)
		clock.Step(batchInterval)
		assertNotification(t, ch)
	})

	t.Run("file written to", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "existing.ndjson")
		require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

		ch, clock := startWatch(t, dir, IsSpoolFile)

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		require.NoError(t, err)
		_, err = f.WriteString("{}\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.Eventually(t, clock.HasWaiters, 2*time.Second, 5*time.Millisecond)
		clock.Step(batchInterval)
		assertNotification(t, ch)
	})

	t.Run("files rejected by the filter", func(t *testing.T) {
		dir := t.TempDir()
		ch, clock := startWatch(t, dir, IsSpoolFile)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "old.ndjson.done"), []byte("{}\n"), 0o644))

		assertNoNotification(t, ch)
		assert.False(t, clock.HasWaiters())
	})

	t.Run("changes are batched", func(t *testing.T) {
		dir := t.TempDir()
		ch, clock := startWatch(t, dir, nil)

		for i := range 5 {
			require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%03d.ndjson", i)), []byte("{}\n"), 0o644))
		}

		require.Eventually(t, clock.HasWaiters, 2*time.Second, 5*time.Millisecond)
		clock.Step(batchInterval)
		assertNotification(t, ch)

		// Changes received after the batch ended start a new one
		require.NoError(t, os.WriteFile(filepath.Join(dir, "005.ndjson"), []byte("{}\n"), 0o644))
		require.Eventually(t, clock.HasWaiters, 2*time.Second, 5*time.Millisecond)
		clock.Step(batchInterval)
		assertNotification(t, ch)
	})

	t.Run("channel closed when context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		ch, err := Watch(ctx, t.TempDir(), nil)
		require.NoError(t, err)

		cancel()

		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel should be closed")
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for channel to close")
		}
	})

	t.Run("folder does not exist", func(t *testing.T) {
		ch, err := Watch(t.Context(), filepath.Join(t.TempDir(), "missing"), nil)
		require.ErrorContains(t, err, "failed to add watched folder")
		assert.Nil(t, ch)
	})
}
