package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// CreateSite inserts a new site keyed by its normalized domain.
func (s *Store) CreateSite(_ context.Context, site intel.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sites[site.ID]; exists {
		return intel.Conflict("site", "site %q already exists", site.ID)
	}
	if _, exists := s.domains[site.Domain]; exists {
		return intel.Conflict("site", "domain %q already registered", site.Domain)
	}
	s.sites[site.ID] = site
	s.domains[site.Domain] = site.ID
	return nil
}

// GetSite fetches a site by ID.
func (s *Store) GetSite(_ context.Context, siteID string) (intel.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[siteID]
	if !ok {
		return intel.Site{}, intel.NotFound("site", siteID)
	}
	return site, nil
}

// ListSites returns matching sites newest first.
func (s *Store) ListSites(_ context.Context, filter store.SiteFilter) ([]intel.Site, int, error) {
	s.mu.RLock()
	matched := make([]intel.Site, 0, len(s.sites))
	for _, site := range s.sites {
		if filter.Status != nil && site.Status != *filter.Status {
			continue
		}
		if filter.Platform != nil && (site.Platform == nil || *site.Platform != *filter.Platform) {
			continue
		}
		matched = append(matched, site)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []intel.Site{}, total, nil
	}
	end := offset + store.ClampLimit(filter.Limit)
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// UpdateSite applies patch to an existing site.
func (s *Store) UpdateSite(_ context.Context, siteID string, patch intel.SitePatch, at time.Time) (intel.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return intel.Site{}, intel.NotFound("site", siteID)
	}
	patch.Apply(&site)
	site.UpdatedAt = at
	s.sites[siteID] = site
	return site, nil
}

// DeleteSite removes the site and its blueprint history. Jobs stay as history.
func (s *Store) DeleteSite(_ context.Context, siteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return intel.NotFound("site", siteID)
	}
	for _, id := range s.history[siteID] {
		delete(s.blueprints, id)
	}
	delete(s.history, siteID)
	delete(s.domains, site.Domain)
	delete(s.sites, siteID)
	return nil
}
