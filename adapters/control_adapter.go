// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control using control package primitives.

package adapters

import (
	"github.com/momentics/fluxd/api"
	"github.com/momentics/fluxd/control"
)

// StatsSource contributes counters to Control.Stats under a prefix.
type StatsSource func() map[string]int64

// ControlAdapter aggregates the config store, debug probes and subsystem stats.
type ControlAdapter struct {
	config  *control.ConfigStore
	debug   *control.DebugProbes
	sources map[string]StatsSource
}

// NewControlAdapter wires an adapter over existing primitives.
func NewControlAdapter(config *control.ConfigStore, debug *control.DebugProbes) *ControlAdapter {
	return &ControlAdapter{
		config:  config,
		debug:   debug,
		sources: make(map[string]StatsSource),
	}
}

// AddStats registers a stats source reported as "<prefix>.<key>".
// Sources are registered during host construction only.
func (c *ControlAdapter) AddStats(prefix string, src StatsSource) {
	c.sources[prefix] = src
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

func (c *ControlAdapter) Stats() map[string]any {
	combined := make(map[string]any)
	for prefix, src := range c.sources {
		for k, v := range src() {
			combined[prefix+"."+k] = v
		}
	}
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

var _ api.Control = (*ControlAdapter)(nil)
