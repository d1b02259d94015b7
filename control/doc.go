// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, metrics and debug introspection layer of the daemon core.
//
// Provides concurrent-safe primitives:
//   - ConfigStore: key/value lookup with typed getters and reload listeners
//   - Metrics: Prometheus collectors shared by every subsystem
//   - DebugProbes: named probes evaluated on demand
//
// Platform probes are build-tag-partitioned.
package control
