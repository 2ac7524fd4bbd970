// Package metrics exposes the worker's Prometheus metrics.
//
// A Recorder owns a private registry holding the pass counters, the engine
// round-trip histogram, state gauges, the Go and process collectors and a
// host collector sampling system CPU and memory through gopsutil. All
// Recorder methods are safe on a nil receiver so callers can run without
// metrics.
package metrics
