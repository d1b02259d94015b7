// File: internal/logging/plugin.go
// Author: momentics <momentics@gmail.com>

package logging

import (
	"io"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// NewPluginLogger creates the hclog logger handed to go-plugin clients.
// Plugin process stderr is forwarded through it.
func NewPluginLogger(w io.Writer, level slog.Level) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "fluxd-plugin",
		Output:     w,
		Level:      hclogLevel(level),
		JSONFormat: true,
	})
}

func hclogLevel(level slog.Level) hclog.Level {
	switch {
	case level <= slog.LevelDebug:
		return hclog.Debug
	case level <= slog.LevelInfo:
		return hclog.Info
	case level <= slog.LevelWarn:
		return hclog.Warn
	default:
		return hclog.Error
	}
}
