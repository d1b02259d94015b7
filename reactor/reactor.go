// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral entry point for the readiness pollers.

package reactor

import (
	"time"

	"github.com/momentics/fluxd/socket"
)

// DefaultMaxEvents bounds the readiness batch returned by one wait.
const DefaultMaxEvents = 128

// Config parameterizes New.
type Config struct {
	// MaxEvents bounds the events collected per Wait. Zero selects DefaultMaxEvents.
	MaxEvents int
}

// New returns the best poller for the current platform.
func New(cfg Config) (socket.Poller, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	return newPlatformPoller(cfg)
}

// timeoutMillis converts a Wait timeout; negative blocks indefinitely.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		ms = 1
	}
	return int(ms)
}
