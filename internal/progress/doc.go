// Package progress provides the event primitives and the non-blocking hub the
// engine and workers use to report job progress. It batches events on a
// background goroutine and fans them out to pluggable sinks such as logs,
// Prometheus metrics, or the job event timeline in the store.
package progress
