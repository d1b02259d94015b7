// File: api/control.go
// Package api defines Control and configuration lookup interfaces.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// ConfigLookup is the read side of the daemon configuration.
type ConfigLookup interface {
	Lookup(key string) (any, bool)
	GetString(key, def string) string
	GetInt(key string, def int) int
	GetBool(key string, def bool) bool
	GetDuration(key string, def time.Duration) time.Duration
}

// Control manages dynamic config, runtime stats and debug probes.
type Control interface {
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	Stats() map[string]any
	OnReload(fn func())
	RegisterDebugProbe(name string, fn func() any)
}
