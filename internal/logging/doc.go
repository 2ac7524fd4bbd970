// Package logging provides a unified logging interface for the worker.
// It abstracts the underlying logging implementation, allowing consistent logging
// across components while supporting multiple backends. Every backend writes to
// the error stream: standard output may carry the driver channel.
package logging
