package slog

import (
	"context"
	"log/slog"
	"os"
)

// Allows overriding the exit function in tests
var exitFn = os.Exit

// FatalError logs a message at the error level with the error attached, then terminates the application with exit code 1.
// If log is nil, the default logger is used.
func FatalError(log *slog.Logger, msg string, err error) {
	if log == nil {
		log = slog.Default()
	}
	log.LogAttrs(context.Background(), slog.LevelError, msg, slog.Any("error", err))
	exitFn(1)
}
