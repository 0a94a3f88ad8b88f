package memory

import (
	"context"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// AppendBlueprint assigns the next version under the write lock, stores the
// row, and updates the owning site in the same critical section.
func (s *Store) AppendBlueprint(
	_ context.Context,
	draft intel.Blueprint,
	patch intel.SitePatch,
) (intel.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[draft.SiteID]
	if !ok {
		return intel.Blueprint{}, intel.NotFound("site", draft.SiteID)
	}
	if _, exists := s.blueprints[draft.ID]; exists {
		return intel.Blueprint{}, intel.Conflict("blueprint", "blueprint %q already exists", draft.ID)
	}
	bp := cloneBlueprint(draft)
	bp.Version = site.BlueprintVersion + 1
	s.blueprints[bp.ID] = bp
	s.history[site.ID] = append(s.history[site.ID], bp.ID)

	patch.Apply(&site)
	site.BlueprintVersion = bp.Version
	site.UpdatedAt = bp.CreatedAt
	s.sites[site.ID] = site
	return cloneBlueprint(bp), nil
}

// GetBlueprint fetches a blueprint by ID.
func (s *Store) GetBlueprint(_ context.Context, blueprintID string) (intel.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bp, ok := s.blueprints[blueprintID]
	if !ok {
		return intel.Blueprint{}, intel.NotFound("blueprint", blueprintID)
	}
	return cloneBlueprint(bp), nil
}

// GetBlueprintVersion fetches one version of a site's history.
func (s *Store) GetBlueprintVersion(_ context.Context, siteID string, version int) (intel.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history[siteID]
	if version < 1 || version > len(ids) {
		return intel.Blueprint{}, intel.NotFound("blueprint version", siteID)
	}
	return cloneBlueprint(s.blueprints[ids[version-1]]), nil
}

// ListBlueprints returns a site's history ordered by version descending.
func (s *Store) ListBlueprints(_ context.Context, siteID string) ([]intel.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history[siteID]
	out := make([]intel.Blueprint, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		out = append(out, cloneBlueprint(s.blueprints[ids[i]]))
	}
	return out, nil
}

// LatestBlueprint returns the current version for a site.
func (s *Store) LatestBlueprint(_ context.Context, siteID string) (intel.Blueprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history[siteID]
	if len(ids) == 0 {
		return intel.Blueprint{}, intel.NotFound("blueprint for site", siteID)
	}
	return cloneBlueprint(s.blueprints[ids[len(ids)-1]]), nil
}

func cloneBlueprint(bp intel.Blueprint) intel.Blueprint {
	cp := bp
	cp.Categories = cloneSlice(bp.Categories)
	cp.Endpoints = cloneSlice(bp.Endpoints)
	cp.Selectors = cloneSlice(bp.Selectors)
	if bp.RenderHints.Extra != nil {
		cp.RenderHints.Extra = make(map[string]string, len(bp.RenderHints.Extra))
		for k, v := range bp.RenderHints.Extra {
			cp.RenderHints.Extra[k] = v
		}
	}
	if bp.Confidence != nil {
		c := *bp.Confidence
		cp.Confidence = &c
	}
	return cp
}

func cloneSlice[T any](src []T) []T {
	if src == nil {
		return nil
	}
	out := make([]T, len(src))
	copy(out, src)
	return out
}
