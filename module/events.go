// File: module/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package module

import "net/netip"

// EventResult is returned by result-aggregating events.
type EventResult int

const (
	// Continue lets dispatch proceed to the next plugin.
	Continue EventResult = iota
	// Stop halts dispatch and becomes the overall result.
	Stop
)

func (r EventResult) String() string {
	if r == Stop {
		return "stop"
	}
	return "continue"
}

// Core event names as reported by Location.
const (
	EventModuleLoad   = "OnModuleLoad"
	EventModuleUnload = "OnModuleUnload"
	EventConfigReload = "OnConfigReload"
	EventShutdown     = "OnShutdown"
	EventAcceptFilter = "OnAcceptFilter"
)

// LoadObserver is told about every plugin registered after it.
type LoadObserver interface {
	OnModuleLoad(m Module)
}

// UnloadObserver is told before another plugin is torn down.
type UnloadObserver interface {
	OnModuleUnload(m Module)
}

// ReloadObserver is told after the configuration changed.
type ReloadObserver interface {
	OnConfigReload()
}

// ShutdownObserver is told once when the daemon starts shutting down.
type ShutdownObserver interface {
	OnShutdown()
}

// AcceptFilter vets accepted connections before they reach a listener's
// factory. Any Stop rejects the connection.
type AcceptFilter interface {
	OnAcceptFilter(peer netip.AddrPort) EventResult
}

// FireModuleLoad dispatches OnModuleLoad for m to every other plugin.
func FireModuleLoad(h *Handler, m Module) {
	forEach(h, callSite(EventModuleLoad), func(o LoadObserver) {
		if o.(Module) != m {
			o.OnModuleLoad(m)
		}
	})
}

// FireModuleUnload dispatches OnModuleUnload for m to every other plugin.
func FireModuleUnload(h *Handler, m Module) {
	forEach(h, callSite(EventModuleUnload), func(o UnloadObserver) {
		if o.(Module) != m {
			o.OnModuleUnload(m)
		}
	})
}

// FireConfigReload dispatches OnConfigReload.
func FireConfigReload(h *Handler) {
	forEach(h, callSite(EventConfigReload), func(o ReloadObserver) { o.OnConfigReload() })
}

// FireShutdown dispatches OnShutdown.
func FireShutdown(h *Handler) {
	forEach(h, callSite(EventShutdown), func(o ShutdownObserver) { o.OnShutdown() })
}

// FilterAccept asks every AcceptFilter about peer; false means reject.
func FilterAccept(h *Handler, peer netip.AddrPort) bool {
	return forEachResult(h, callSite(EventAcceptFilter), func(f AcceptFilter) EventResult {
		return f.OnAcceptFilter(peer)
	}) == Continue
}
