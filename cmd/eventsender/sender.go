package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/flexprice/go-kit/asyncprocessor"
	"github.com/flexprice/go-kit/events"
	"github.com/flexprice/go-kit/spool"
)

// Summary contains the outcome of the events processed by the sender.
type Summary struct {
	Delivered int64
	Failed    int64
	Rejected  int64
	Malformed int64
}

func (s Summary) String() string {
	return fmt.Sprintf("Delivered: %d, Failed: %d, Rejected: %d, Malformed: %d", s.Delivered, s.Failed, s.Rejected, s.Malformed)
}

// sender queues events read from files into an AsyncClient and keeps track of their outcome.
type sender struct {
	client *events.AsyncClient
	log    *slog.Logger

	// How long to wait before checking again if there's room in the queue
	queueWait time.Duration

	delivered atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
	malformed atomic.Int64
}

func newSender(client *events.AsyncClient, log *slog.Logger) *sender {
	return &sender{
		client:    client,
		log:       log,
		queueWait: 20 * time.Millisecond,
	}
}

// Send queues an event.
// If the queue is full, it waits until there's room or ctx is canceled.
func (s *sender) Send(ctx context.Context, event *events.Event) error {
	for s.client.Pending() >= s.client.Capacity() {
		select {
		case <-time.After(s.queueWait):
			// Check again
		case <-ctx.Done():
			s.rejected.Add(1)
			return ctx.Err()
		}
	}

	err := s.client.TryEventsPostAsync(event, s.onResult(event))
	if err != nil {
		s.rejected.Add(1)
		return err
	}
	return nil
}

func (s *sender) onResult(event *events.Event) asyncprocessor.Callback[*events.IngestResponse] {
	return func(res asyncprocessor.Result[*events.IngestResponse]) {
		if res.Success() {
			s.delivered.Add(1)
			s.log.Debug("Event delivered",
				slog.String("eventId", res.Value().EventID),
				slog.Int("attempts", res.Attempts()),
			)
			return
		}

		s.failed.Add(1)
		s.log.Error("Event could not be delivered",
			slog.String("eventName", event.EventName),
			slog.String("externalCustomerId", event.ExternalCustomerID),
			slog.Int("attempts", res.Attempts()),
			slog.Any("error", res.Err()),
		)
	}
}

// SendFile sends all events in the NDJSON file at path; if path is "-", events are read from stdin.
func (s *sender) SendFile(ctx context.Context, path string) error {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		r = f
	}

	stats, err := spool.ReadEvents(ctx, r, s.log.With(slog.String("file", path)), s.Send)
	s.malformed.Add(int64(stats.Malformed))
	if err != nil {
		return fmt.Errorf("failed to read events: %w", err)
	}
	return nil
}

// WatchSpool sends the events in the spool folder dir, and keeps watching it for new files until ctx is canceled.
func (s *sender) WatchSpool(ctx context.Context, dir string) error {
	return spool.New(dir, s.log).Run(ctx, s.Send, func(stats spool.Stats) {
		s.malformed.Add(int64(stats.Malformed))
	})
}

// Summary returns the counters collected so far.
// Delivery outcomes are final only after the client has been stopped.
func (s *sender) Summary() Summary {
	return Summary{
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Rejected:  s.rejected.Load(),
		Malformed: s.malformed.Load(),
	}
}
