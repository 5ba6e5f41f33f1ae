// Package logging provides consistent structured logging using slog.
//
// The dashboard shares a unified log format with the backend it fronts:
// Format: 2026-01-06T14:05:52Z [source] LEVEL message key=value...
//
// Usage:
//
//	// Initialize once at startup
//	logging.Init("dashboard")
//
//	// Then use slog directly throughout the codebase
//	slog.Info("Poll complete", "running", 2)
//	slog.Error("Trigger failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Handler implements slog.Handler with the unified dashboard format
type Handler struct {
	source string
	level  slog.Level
	writer io.Writer
	attrs  []slog.Attr
	groups []string
}

// NewHandler creates a handler with the unified format
func NewHandler(source string, w io.Writer, level slog.Level) *Handler {
	return &Handler{
		source: source,
		writer: w,
		level:  level,
	}
}

// Enabled reports whether the handler handles records at the given level
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes the log record
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(h.source)
	buf.WriteString("] ")
	buf.WriteString(r.Level.String())
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	writeAttr := func(a slog.Attr) {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		fmt.Fprintf(&buf, "%v", a.Value.Any())
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

// WithAttrs returns a new handler with the given attributes
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)
	return &Handler{
		source: h.source,
		writer: h.writer,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

// WithGroup returns a new handler with the given group
func (h *Handler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, 0, len(h.groups)+1)
	newGroups = append(newGroups, h.groups...)
	newGroups = append(newGroups, name)
	return &Handler{
		source: h.source,
		writer: h.writer,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// NewLogger creates a new slog logger with the level taken from LOG_LEVEL
func NewLogger(source string, w io.Writer) *slog.Logger {
	return NewLoggerWithLevel(source, w, getLevelFromEnv())
}

// NewLoggerWithLevel creates a new slog logger with the specified level
func NewLoggerWithLevel(source string, w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(source, w, level))
}

// getLevelFromEnv returns the log level from the LOG_LEVEL environment variable
func getLevelFromEnv() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init initializes the default slog logger with the given source
func Init(source string) {
	InitWithWriter(source, os.Stdout)
}

// InitWithWriter initializes the default slog logger with a custom writer (for testing)
func InitWithWriter(source string, w io.Writer) {
	slog.SetDefault(NewLogger(source, w))
}
