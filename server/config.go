// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/momentics/fluxd/internal/logging"
	"github.com/momentics/fluxd/module"
)

const (
	defaultPollTimeout     = 100 * time.Millisecond
	defaultShutdownTimeout = 10 * time.Second

	envModulesDir      = "FLUXD_MODULES_DIR"
	envRuntimeDir      = "FLUXD_RUNTIME_DIR"
	envWorkers         = "FLUXD_WORKERS"
	envPinWorkers      = "FLUXD_PIN_WORKERS"
	envPollTimeout     = "FLUXD_POLL_TIMEOUT"
	envAdminAddr       = "FLUXD_ADMIN_ADDR"
	envLogLevel        = "FLUXD_LOG_LEVEL"
	envLogFormat       = "FLUXD_LOG_FORMAT"
	envShutdownTimeout = "FLUXD_SHUTDOWN_TIMEOUT"
)

// Config holds the daemon settings.
type Config struct {
	ModulesDir string
	RuntimeDir string
	// Workers is the thread engine size; 0 selects two per CPU.
	Workers    int
	PinWorkers bool
	// PollTimeout bounds one multiplexer wait, and so the timer resolution.
	PollTimeout time.Duration
	// AdminAddr enables the admin HTTP surface when non-empty.
	AdminAddr       string
	LogLevel        slog.Level
	LogFormat       logging.Format
	ShutdownTimeout time.Duration
	// Autoload lists plugin paths loaded after the modules directory scan.
	Autoload []string
	// Settings seeds the configuration store plugins read from.
	Settings map[string]any
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ModulesDir:      module.DefaultModulesDir,
		RuntimeDir:      module.DefaultRuntimeDir,
		PollTimeout:     defaultPollTimeout,
		LogLevel:        slog.LevelInfo,
		LogFormat:       logging.FormatJSON,
		ShutdownTimeout: defaultShutdownTimeout,
	}
}

// LoadConfig reads FLUXD_* environment variables over the defaults.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv(envModulesDir); v != "" {
		cfg.ModulesDir = v
	}
	if v := os.Getenv(envRuntimeDir); v != "" {
		cfg.RuntimeDir = v
	}
	if v := os.Getenv(envAdminAddr); v != "" {
		cfg.AdminAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = logging.ParseLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.LogFormat = logging.ParseFormat(v)
	}
	if v := os.Getenv(envWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", envWorkers, err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv(envPinWorkers); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", envPinWorkers, err)
		}
		cfg.PinWorkers = b
	}
	if v := os.Getenv(envPollTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", envPollTimeout, err)
		}
		cfg.PollTimeout = d
	}
	if v := os.Getenv(envShutdownTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", envShutdownTimeout, err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the host cannot run with.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("config: poll timeout must be positive, got %s", c.PollTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}
