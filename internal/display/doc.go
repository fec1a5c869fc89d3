// Package display owns the e-paper display backend.
//
// It defines the Device capability every backend satisfies in full (no
// runtime capability probing), provides the hardware Panel driver and the
// in-memory Mock, and hosts the Manager: the acquisition/fallback state
// machine that guarantees a working backend is always available once
// startup completes.
//
// # Backends
//
//   - Panel: drives a Waveshare 3.7" panel over an SPI bus and three GPIO
//     control lines (reset, data/command, busy). The busy-wait after each
//     refresh is bounded by a configured timeout so a wedged panel can
//     never hang the dispatcher.
//   - Mock: records operations in memory. Used when hardware acquisition
//     fails, when mock mode is configured, and throughout the tests.
//
// # Ownership
//
// The Manager is the only component permitted to call into a Device. All
// Device methods are invoked from the single dispatcher goroutine; the
// Manager's own state is guarded by its mutex.
package display
