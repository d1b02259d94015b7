// File: api/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// LogFields carries structured key/value pairs attached to a log entry.
type LogFields map[string]any

// Logger is the leveled logging sink every subsystem writes to.
type Logger interface {
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Warn(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	With(fields LogFields) Logger
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, LogFields) {}
func (NopLogger) Info(string, LogFields) {}
func (NopLogger) Warn(string, LogFields) {}
func (NopLogger) Error(string, error, LogFields) {}
func (n NopLogger) With(LogFields) Logger { return n }
