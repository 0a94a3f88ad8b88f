package store

import (
	"context"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// Pagination defaults shared by list endpoints.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// SiteFilter narrows ListSites.
type SiteFilter struct {
	Status   *intel.SiteStatus
	Platform *string
	Limit    int
	Offset   int
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status *intel.JobStatus
	Type   *intel.JobType
	SiteID string
	Since  *time.Time
	Limit  int
}

// TemplateFilter narrows ListTemplates.
type TemplateFilter struct {
	PlatformName *string
	Active       *bool
}

// Counts summarizes registry totals for analytics.
type Counts struct {
	Sites         int
	ActiveJobs    int
	Blueprints    int
	SitesByStatus map[intel.SiteStatus]int
}

// SiteRepository is the durable registry of sites.
type SiteRepository interface {
	// CreateSite inserts a site; a duplicate domain is a Conflict.
	CreateSite(ctx context.Context, site intel.Site) error
	// GetSite loads a site or returns a NotFound error.
	GetSite(ctx context.Context, siteID string) (intel.Site, error)
	// ListSites returns sites newest first plus the unpaginated total.
	ListSites(ctx context.Context, filter SiteFilter) ([]intel.Site, int, error)
	// UpdateSite applies patch and returns the updated record.
	UpdateSite(ctx context.Context, siteID string, patch intel.SitePatch, at time.Time) (intel.Site, error)
	// DeleteSite removes a site and its blueprint history.
	DeleteSite(ctx context.Context, siteID string) error
}

// BlueprintRepository stores append-only blueprint history.
type BlueprintRepository interface {
	// AppendBlueprint assigns version = max+1 for draft.SiteID, inserts the
	// row, and applies patch plus the new blueprint_version to the site, all
	// as one atomic unit. The stored blueprint is returned.
	AppendBlueprint(ctx context.Context, draft intel.Blueprint, patch intel.SitePatch) (intel.Blueprint, error)
	// GetBlueprint loads a blueprint by id.
	GetBlueprint(ctx context.Context, blueprintID string) (intel.Blueprint, error)
	// GetBlueprintVersion loads one version of a site's blueprint.
	GetBlueprintVersion(ctx context.Context, siteID string, version int) (intel.Blueprint, error)
	// ListBlueprints returns a site's blueprints ordered by version descending.
	ListBlueprints(ctx context.Context, siteID string) ([]intel.Blueprint, error)
	// LatestBlueprint returns the highest version for a site.
	LatestBlueprint(ctx context.Context, siteID string) (intel.Blueprint, error)
}

// JobRepository persists jobs and enforces their state machine.
type JobRepository interface {
	// CreateJob inserts a queued job unless an active job already exists for
	// the same (site_id, job_type); that case is a Conflict and nothing changes.
	CreateJob(ctx context.Context, job intel.Job) error
	// GetJob loads a job by id.
	GetJob(ctx context.Context, jobID string) (intel.Job, error)
	// ListJobs returns jobs newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]intel.Job, error)
	// TransitionJob moves a job from one of the allowed statuses to next.
	// It returns the stored job and a Conflict if the current status is not
	// in from.
	TransitionJob(
		ctx context.Context,
		jobID string,
		from []intel.JobStatus,
		next intel.JobStatus,
		at time.Time,
		jobErr *intel.JobError,
	) (intel.Job, error)
	// CompleteJob moves a running job to its terminal outcome and applies the
	// outcome's site patch in the same atomic unit.
	CompleteJob(ctx context.Context, jobID string, outcome intel.JobOutcome) (intel.Job, error)
}

// TemplateRepository stores platform templates.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, tmpl intel.Template) error
	GetTemplate(ctx context.Context, templateID string) (intel.Template, error)
	ListTemplates(ctx context.Context, filter TemplateFilter) ([]intel.Template, error)
	UpdateTemplate(ctx context.Context, tmpl intel.Template) error
	DeleteTemplate(ctx context.Context, templateID string) error
}

// EventRepository persists the job progress timeline.
type EventRepository interface {
	AppendJobEvents(ctx context.Context, events []intel.JobEvent) error
	ListJobEvents(ctx context.Context, jobID string) ([]intel.JobEvent, error)
}

// StatsRepository answers aggregate questions for analytics.
type StatsRepository interface {
	Counts(ctx context.Context) (Counts, error)
}

// Store bundles every repository one backend provides.
type Store interface {
	SiteRepository
	BlueprintRepository
	JobRepository
	TemplateRepository
	EventRepository
	StatsRepository
}
