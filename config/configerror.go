package config

import (
	"errors"
	"fmt"
	"log/slog"

	slogkit "github.com/flexprice/go-kit/slog"
)

// ConfigError is returned when the configuration cannot be loaded or is not valid.
// Msg is meant to be shown to users; the wrapped error contains the details.
type ConfigError struct {
	Msg string
	err error
}

// NewConfigError returns a new ConfigError.
// The err argument can be an error, a string, a fmt.Stringer, or nil.
func NewConfigError(err any, msg string) *ConfigError {
	e := &ConfigError{Msg: msg}
	switch x := err.(type) {
	case nil:
		// No details
	case error:
		e.err = x
	case string:
		e.err = errors.New(x)
	case fmt.Stringer:
		e.err = errors.New(x.String())
	default:
		// Indicates a development-time error
		panic("Invalid type for parameter 'err'")
	}
	return e
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.err.Error()
}

// Unwrap returns the wrapped error.
func (e *ConfigError) Unwrap() error {
	return e.err
}

// LogFatal logs the error and terminates the process.
func (e *ConfigError) LogFatal(log *slog.Logger) {
	err := e.err
	if err == nil {
		err = errors.New(e.Msg)
	}
	slogkit.FatalError(log, e.Msg, err)
}
