package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler("info", "json", &buf))
	logger.Debug("hidden")
	logger.Info("Stored blob", "key", "a/b")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Stored blob", rec["msg"])
	assert.Equal(t, "a/b", rec["key"])
}

func TestTextFormat(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	logger := slog.New(NewHandler("debug", "text", &buf))
	logger.Debug("Copied blob", "parts", 3)

	out := buf.String()
	assert.Contains(t, out, "Copied blob")
	assert.Contains(t, out, "parts=3")
	assert.NotContains(t, out, "\x1b[")
}

func TestSetupReplacesDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := Setup("warn", "logfmt", &buf)
	assert.Same(t, logger, slog.Default())
	slog.Info("dropped")
	slog.Warn("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
