package spool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flexprice/go-kit/events"
)

//nolint:errcheck
func ExampleSpool_Drain() {
	base, _ := os.MkdirTemp("", "spool-example")
	defer os.RemoveAll(base)

	spoolDir := filepath.Join(base, "spool")
	stagingDir := filepath.Join(base, "staging")
	os.Mkdir(spoolDir, 0o755)
	os.Mkdir(stagingDir, 0o755)

	// Write the file outside of the spool, then move it in once it's complete
	staged := filepath.Join(stagingDir, "batch-001"+FileExt)
	os.WriteFile(staged, []byte(`{"event_name":"api_call","external_customer_id":"cus_1"}`+"\n"), 0o644)
	os.Rename(staged, filepath.Join(spoolDir, "batch-001"+FileExt))

	s := New(spoolDir, slog.New(slog.DiscardHandler))
	stats, _ := s.Drain(context.Background(), func(ctx context.Context, e *events.Event) error {
		// Queuing the event for asynchronous delivery would go here
		fmt.Println("Read event:", e.EventName)
		return nil
	})
	fmt.Printf("Files: %d, accepted: %d\n", stats.Files, stats.Accepted)

	// The file is marked as done once its events have been handed over
	_, err := os.Stat(filepath.Join(spoolDir, "batch-001"+FileExt+DoneSuffix))
	fmt.Println("Marked as done:", err == nil)
	// Output:
	// Read event: api_call
	// Files: 1, accepted: 1
	// Marked as done: true
}
