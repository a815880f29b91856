// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control layer of the server: hot-reloadable configuration,
// prometheus metrics and debug probes.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates with reload observers
//   - Prometheus collectors that are safe to use through a nil *Metrics
//   - Probe registration for state export
package control
