// Package spool reads events from a folder of newline-delimited JSON files.
// Each file with the ".ndjson" extension contains one event per line; once a file has been read, it's renamed with the ".done" suffix so it's not read again.
// The folder can be watched for changes, to process new files as soon as they are written.
//
// A ".done" file means that its events were handed to the handler, not that they were delivered: when the handler queues events for asynchronous delivery, events that are still queued when the process stops (with ShutdownAbandon) or crashes are lost.
//
// Files are read as soon as they appear, so writers must not create them in the folder directly: write each file elsewhere (on the same filesystem) and rename it into the folder once it's complete.
package spool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	kclock "k8s.io/utils/clock"

	"github.com/flexprice/go-kit/events"
)

const (
	// FileExt is the extension of files read from the spool.
	FileExt = ".ndjson"
	// DoneSuffix is appended to the name of files that have been read.
	DoneSuffix = ".done"

	// Maximum length of a line
	maxLineSize = 1 << 20
)

// Handler is invoked for every event read from the spool.
// Errors returned by the handler are logged and counted as rejected events; reading continues with the next event.
type Handler func(ctx context.Context, event *events.Event) error

// Stats contains counters about events read from the spool.
type Stats struct {
	// Number of files read
	Files int
	// Number of events passed to the handler that were accepted
	Accepted int
	// Number of events the handler returned an error for
	Rejected int
	// Number of lines that could not be decoded
	Malformed int
}

// Add adds the counters of o to s.
func (s *Stats) Add(o Stats) {
	s.Files += o.Files
	s.Accepted += o.Accepted
	s.Rejected += o.Rejected
	s.Malformed += o.Malformed
}

// Spool is a folder containing NDJSON files with events.
type Spool struct {
	dir   string
	log   *slog.Logger
	clock kclock.Clock
}

// New returns a new Spool for the folder dir.
// If log is nil, slog.Default() is used.
func New(dir string, log *slog.Logger) *Spool {
	if log == nil {
		log = slog.Default()
	}
	return &Spool{
		dir:   dir,
		log:   log.With(slog.String("spool", dir)),
		clock: kclock.RealClock{},
	}
}

// IsSpoolFile returns true if name is the name of a file that is read from the spool.
func IsSpoolFile(name string) bool {
	return strings.HasSuffix(name, FileExt)
}

// Drain reads all pending files in the spool, in lexicographic order, passing each event to fn.
// Files are marked as done after they have been read entirely.
// Drain stops at the first file that can't be read, or when ctx is canceled.
func (s *Spool) Drain(ctx context.Context, fn Handler) (Stats, error) {
	var stats Stats

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return stats, fmt.Errorf("failed to read spool folder: %w", err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !IsSpoolFile(entry.Name()) {
			continue
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		path := filepath.Join(s.dir, entry.Name())
		fileStats, err := s.drainFile(ctx, path, fn)
		stats.Add(fileStats)
		if err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// Run drains the spool, then keeps draining it every time a file is added or changed, until ctx is canceled.
// The stats of every drain are passed to onDrain, if not nil.
func (s *Spool) Run(ctx context.Context, fn Handler, onDrain func(Stats)) error {
	changes, err := watchFolder(ctx, s.dir, IsSpoolFile, s.log, s.clock)
	if err != nil {
		return err
	}

	for {
		stats, err := s.Drain(ctx, fn)
		if err != nil && !errors.Is(err, ctx.Err()) {
			s.log.ErrorContext(ctx, "Failed to drain spool", slog.Any("error", err))
		}
		if onDrain != nil && stats.Files > 0 {
			onDrain(stats)
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		}
	}
}

func (s *Spool) drainFile(ctx context.Context, path string, fn Handler) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open file '%s': %w", path, err)
	}

	log := s.log.With(slog.String("file", filepath.Base(path)))
	stats, err := ReadEvents(ctx, f, log, fn)
	_ = f.Close()
	if err != nil {
		return stats, fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	err = os.Rename(path, path+DoneSuffix)
	if err != nil {
		return stats, fmt.Errorf("failed to mark file '%s' as done: %w", path, err)
	}

	stats.Files = 1
	log.InfoContext(ctx, "Read spool file",
		slog.Int("accepted", stats.Accepted),
		slog.Int("rejected", stats.Rejected),
		slog.Int("malformed", stats.Malformed),
	)
	return stats, nil
}

// ReadEvents decodes events from r, one JSON object per line, and passes them to fn.
// Blank lines are ignored; lines that are not valid JSON, or that are longer than 1 MiB, are logged and skipped.
func ReadEvents(ctx context.Context, r io.Reader, log *slog.Logger, fn Handler) (Stats, error) {
	var (
		stats   Stats
		line    []byte
		tooLong bool
		err     error
	)

	br := bufio.NewReaderSize(r, 64<<10)
	lineNo := 0
	for {
		line, tooLong, err = readLine(br, line)
		if errors.Is(err, io.EOF) {
			return stats, nil
		} else if err != nil {
			return stats, err
		}
		lineNo++
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		if tooLong {
			stats.Malformed++
			log.WarnContext(ctx, "Skipping line that is too long", slog.Int("line", lineNo), slog.Int("maxSize", maxLineSize))
			continue
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}

		event := &events.Event{}
		err = json.Unmarshal(trimmed, event)
		if err != nil {
			stats.Malformed++
			log.WarnContext(ctx, "Skipping malformed line", slog.Int("line", lineNo), slog.Any("error", err))
			continue
		}

		err = fn(ctx, event)
		if err != nil {
			stats.Rejected++
			log.WarnContext(ctx, "Event rejected", slog.Int("line", lineNo), slog.Any("error", err))
			continue
		}
		stats.Accepted++
	}
}

// readLine reads the next line from r into buf, without the line terminator.
// Lines longer than maxLineSize are consumed up to the next newline and reported with tooLong set; their content is discarded.
// It returns io.EOF when there are no more lines.
func readLine(r *bufio.Reader, buf []byte) ([]byte, bool, error) {
	tooLong := false
	buf = buf[:0]
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && (len(buf) > 0 || tooLong) {
				return buf, tooLong, nil
			}
			return nil, false, err
		}

		if !tooLong {
			if len(buf)+len(chunk) > maxLineSize {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, chunk...)
			}
		}

		if !isPrefix {
			return buf, tooLong, nil
		}
	}
}
