// Package store defines interfaces for persistence dependencies (site
// registry, blueprint history, jobs, templates, and the job event timeline).
// Implementations live in internal/storage/...; this package must not import
// database drivers or concrete clients.
package store
