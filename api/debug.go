// File: api/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Debug is the named-probe registry behind the debug state dump.
type Debug interface {
	// DumpState evaluates every probe.
	DumpState() map[string]any
	RegisterProbe(name string, fn func() any)
}
