// Package slog provides utilities for working with the standard library's log/slog package.
//
// The package exports the following main components:
//
//   - FatalError: Logs an error message and terminates the application with exit code 1.
//     Useful for unrecoverable errors during startup, such as an invalid configuration.
package slog
