// Package templates holds the platform template catalog and the matcher that
// ranks templates against a site fingerprint.
package templates

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// Catalog serves lock-free template reads from an atomically swapped snapshot
// of the active templates in a repository.
type Catalog struct {
	repo     store.TemplateRepository
	logger   *zap.Logger
	snapshot atomic.Pointer[[]intel.Template]
	observe  func(int)
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithCandidateObserver registers a callback invoked with the candidate count
// of every FindCandidates call.
func WithCandidateObserver(fn func(int)) Option {
	return func(c *Catalog) {
		c.observe = fn
	}
}

// NewCatalog wires a catalog to its repository. Call Refresh to load the first
// snapshot; FindCandidates loads lazily otherwise.
func NewCatalog(repo store.TemplateRepository, logger *zap.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{repo: repo, logger: logger.Named("templates")}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh reloads the active templates. On failure the previous snapshot stays
// in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	active := true
	list, err := c.repo.ListTemplates(ctx, store.TemplateFilter{Active: &active})
	if err != nil {
		return intel.TemplateStoreUnavailable(fmt.Errorf("list templates: %w", err))
	}
	c.snapshot.Store(&list)
	c.logger.Debug("template snapshot refreshed", zap.Int("templates", len(list)))
	return nil
}

// Templates returns the current snapshot, loading it on first use.
func (c *Catalog) Templates(ctx context.Context) ([]intel.Template, error) {
	if snap := c.snapshot.Load(); snap != nil {
		return *snap, nil
	}
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}
	return *c.snapshot.Load(), nil
}

// FindCandidates ranks the snapshot against fp. No match yields an empty
// slice and a nil error.
func (c *Catalog) FindCandidates(ctx context.Context, fp intel.Fingerprint) ([]Candidate, error) {
	list, err := c.Templates(ctx)
	if err != nil {
		return nil, err
	}
	candidates := Rank(fp, list)
	if c.observe != nil {
		c.observe(len(candidates))
	}
	return candidates, nil
}
