package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalError(t *testing.T) {
	var exitCode int
	origExitFn := exitFn
	exitFn = func(code int) {
		exitCode = code
	}
	t.Cleanup(func() {
		exitFn = origExitFn
	})

	buf := &bytes.Buffer{}
	log := slog.New(slog.NewJSONHandler(buf, nil))

	FatalError(log, "Error loading config file", errors.New("file not found"))

	assert.Equal(t, 1, exitCode)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "Error loading config file", record["msg"])
	assert.Equal(t, "file not found", record["error"])
}
