// Package sinks implements concrete progress consumers: Prometheus job
// metrics, the persisted job event timeline, and structured logging. Each
// sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
