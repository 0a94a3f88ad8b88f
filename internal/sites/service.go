// Package sites manages the site registry: registration with an automatic
// fingerprint job, updates, and removal.
package sites

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// DefaultBusinessValue is assigned when a site is registered without a score.
const DefaultBusinessValue = 0.5

// Submitter schedules jobs.
type Submitter interface {
	Submit(ctx context.Context, sub engine.Submission) (intel.Job, error)
}

// CreateRequest registers a domain.
type CreateRequest struct {
	Domain             string
	Notes              string
	BusinessValueScore *float64
}

// UpdateRequest edits operator-owned fields. Nil fields are left untouched.
type UpdateRequest struct {
	Notes              *string
	BusinessValueScore *float64
}

// Service owns site registration.
type Service struct {
	repo   store.SiteRepository
	jobs   Submitter
	ids    intel.IDGenerator
	clock  intel.Clock
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(repo store.SiteRepository, jobs Submitter, ids intel.IDGenerator, clock intel.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, jobs: jobs, ids: ids, clock: clock, logger: logger.Named("sites")}
}

// Create normalizes the domain, stores a pending site, and schedules its
// fingerprint job. A duplicate domain is a Conflict. The returned job is nil
// when scheduling failed; the site is kept either way.
func (s *Service) Create(ctx context.Context, req CreateRequest) (intel.Site, *intel.Job, error) {
	domain, err := intel.NormalizeDomain(req.Domain)
	if err != nil {
		return intel.Site{}, nil, err
	}
	if err := validateScore(req.BusinessValueScore); err != nil {
		return intel.Site{}, nil, err
	}
	value := DefaultBusinessValue
	if req.BusinessValueScore != nil {
		value = *req.BusinessValueScore
	}
	id, err := s.ids.NewID()
	if err != nil {
		return intel.Site{}, nil, fmt.Errorf("site id: %w", err)
	}
	now := s.clock.Now()
	site := intel.Site{
		ID:                 id,
		Domain:             domain,
		Status:             intel.SiteStatusPending,
		BusinessValueScore: &value,
		Notes:              req.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.CreateSite(ctx, site); err != nil {
		return intel.Site{}, nil, err
	}
	s.logger.Info("site registered", zap.String("site_id", site.ID), zap.String("domain", domain))

	job, err := s.jobs.Submit(ctx, engine.Submission{SiteID: site.ID, Type: intel.JobTypeFingerprint})
	if err != nil {
		s.logger.Warn("fingerprint job not scheduled", zap.String("site_id", site.ID), zap.Error(err))
		return site, nil, nil
	}
	return site, &job, nil
}

// Get loads a site.
func (s *Service) Get(ctx context.Context, siteID string) (intel.Site, error) {
	return s.repo.GetSite(ctx, siteID)
}

// List returns a page of sites and the total match count.
func (s *Service) List(ctx context.Context, filter store.SiteFilter) ([]intel.Site, int, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, 0, intel.Validation("list sites", map[string]string{"status": "unknown site status"})
	}
	filter.Limit = store.ClampLimit(filter.Limit)
	if filter.Offset < 0 {
		return nil, 0, intel.Validation("list sites", map[string]string{"offset": "must not be negative"})
	}
	return s.repo.ListSites(ctx, filter)
}

// Update applies operator edits.
func (s *Service) Update(ctx context.Context, siteID string, req UpdateRequest) (intel.Site, error) {
	if err := validateScore(req.BusinessValueScore); err != nil {
		return intel.Site{}, err
	}
	patch := intel.SitePatch{Notes: req.Notes, BusinessValueScore: req.BusinessValueScore}
	return s.repo.UpdateSite(ctx, siteID, patch, s.clock.Now())
}

// Delete removes a site and its blueprints. Jobs remain as history.
func (s *Service) Delete(ctx context.Context, siteID string) error {
	if err := s.repo.DeleteSite(ctx, siteID); err != nil {
		return err
	}
	s.logger.Info("site deleted", zap.String("site_id", siteID))
	return nil
}

func validateScore(score *float64) error {
	if score != nil && (*score < 0 || *score > 1) {
		return intel.Validation("site", map[string]string{"business_value_score": "must be between 0 and 1"})
	}
	return nil
}
