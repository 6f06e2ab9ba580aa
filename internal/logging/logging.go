// Package logging configures structured logging using log/slog.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a level name to a slog level.
// Supported levels: "debug", "info", "warn", "error" (default: "info").
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewHandler builds a handler writing to w.
// Supported formats: "text" (colorized console output, honouring NO_COLOR),
// "json" and "logfmt" (default: "text").
func NewHandler(level, format string, w io.Writer) slog.Handler {
	lvl := ParseLevel(level)
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	case "logfmt":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		NoColor:    os.Getenv("NO_COLOR") != "",
		TimeFormat: time.DateTime,
	})
}

// Setup configures the default slog logger with the specified level and
// format and returns it.
func Setup(level, format string, w io.Writer) *slog.Logger {
	logger := slog.New(NewHandler(level, format, w))
	slog.SetDefault(logger)
	return logger
}
