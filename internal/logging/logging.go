// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package logging adapts log/slog to the api.Logger contract.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/momentics/fluxd/api"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat maps a textual format to Format, defaulting to JSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

// NewSlog creates a structured logger writing to w at the configured level.
func NewSlog(w io.Writer, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// New builds an api.Logger writing to w.
func New(w io.Writer, level slog.Level, format Format) api.Logger {
	return NewSlogLogger(NewSlog(w, level, format))
}

// NewSlogLogger wraps a slog.Logger so it satisfies api.Logger.
func NewSlogLogger(log *slog.Logger) api.Logger {
	if log == nil {
		panic("fluxd: slog logger cannot be nil")
	}
	return &slogLogger{inner: log}
}

type slogLogger struct {
	inner *slog.Logger
}

func (l *slogLogger) With(fields api.LogFields) api.Logger {
	if len(fields) == 0 {
		return l
	}
	return &slogLogger{inner: l.inner.With(toArgs(fields)...)}
}

func (l *slogLogger) Debug(msg string, fields api.LogFields) {
	l.inner.Debug(msg, toArgs(fields)...)
}

func (l *slogLogger) Info(msg string, fields api.LogFields) {
	l.inner.Info(msg, toArgs(fields)...)
}

func (l *slogLogger) Warn(msg string, fields api.LogFields) {
	l.inner.Warn(msg, toArgs(fields)...)
}

func (l *slogLogger) Error(msg string, err error, fields api.LogFields) {
	args := toArgs(fields)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	l.inner.Error(msg, args...)
}

func toArgs(fields api.LogFields) []any {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields))
	for k, v := range fields {
		args = append(args, slog.Any(k, v))
	}
	return args
}

// OrNop returns log, or a discarding logger when log is nil.
func OrNop(log api.Logger) api.Logger {
	if log == nil {
		return api.NopLogger{}
	}
	return log
}
