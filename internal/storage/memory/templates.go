package memory

import (
	"context"
	"sort"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// CreateTemplate stores a new template.
func (s *Store) CreateTemplate(_ context.Context, tmpl intel.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[tmpl.ID]; exists {
		return intel.Conflict("template", "template %q already exists", tmpl.ID)
	}
	s.templates[tmpl.ID] = tmpl
	return nil
}

// GetTemplate fetches a template by ID.
func (s *Store) GetTemplate(_ context.Context, templateID string) (intel.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[templateID]
	if !ok {
		return intel.Template{}, intel.NotFound("template", templateID)
	}
	return tmpl, nil
}

// ListTemplates returns matching templates ordered by platform then ID.
func (s *Store) ListTemplates(_ context.Context, filter store.TemplateFilter) ([]intel.Template, error) {
	s.mu.RLock()
	out := make([]intel.Template, 0, len(s.templates))
	for _, tmpl := range s.templates {
		if filter.PlatformName != nil && tmpl.PlatformName != *filter.PlatformName {
			continue
		}
		if filter.Active != nil && tmpl.Active != *filter.Active {
			continue
		}
		out = append(out, tmpl)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlatformName != out[j].PlatformName {
			return out[i].PlatformName < out[j].PlatformName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateTemplate replaces an existing template.
func (s *Store) UpdateTemplate(_ context.Context, tmpl intel.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.templates[tmpl.ID]
	if !ok {
		return intel.NotFound("template", tmpl.ID)
	}
	tmpl.CreatedAt = existing.CreatedAt
	s.templates[tmpl.ID] = tmpl
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(_ context.Context, templateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[templateID]; !ok {
		return intel.NotFound("template", templateID)
	}
	delete(s.templates, templateID)
	return nil
}
