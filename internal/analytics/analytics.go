// Package analytics answers dashboard and per-method performance queries
// over the job and site registries.
package analytics

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// Date ranges accepted by Dashboard.
const (
	Range1d  = "1d"
	Range7d  = "7d"
	Range30d = "30d"
)

// DefaultCacheTTL applies when Config.CacheTTL is zero.
const DefaultCacheTTL = 60 * time.Second

var ranges = map[string]time.Duration{
	Range1d:  24 * time.Hour,
	Range7d:  7 * 24 * time.Hour,
	Range30d: 30 * 24 * time.Hour,
}

// Repository is the read surface analytics needs.
type Repository interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]intel.Job, error)
	Counts(ctx context.Context) (store.Counts, error)
	GetSite(ctx context.Context, siteID string) (intel.Site, error)
}

// Cache stores computed reports. Get reports a miss with false and no error.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Dashboard is the overview report.
type Dashboard struct {
	DateRange               string                   `json:"date_range"`
	TotalSites              int                      `json:"total_sites"`
	ActiveJobs              int                      `json:"active_jobs"`
	TotalBlueprints         int                      `json:"total_blueprints"`
	JobsInRange             int                      `json:"jobs_in_range"`
	AvgDiscoveryTimeSeconds float64                  `json:"avg_discovery_time_seconds"`
	SuccessRate             float64                  `json:"success_rate"`
	SitesByStatus           map[intel.SiteStatus]int `json:"sites_by_status"`
	GeneratedAt             time.Time                `json:"generated_at"`
}

// MethodStats summarizes terminal jobs for one method.
type MethodStats struct {
	Method         string  `json:"method"`
	TotalJobs      int     `json:"total_jobs"`
	SuccessRate    float64 `json:"success_rate"`
	AvgTimeSeconds float64 `json:"avg_time_seconds"`
	AvgCostUSD     float64 `json:"avg_cost_usd"`
}

// SiteMetrics summarizes one site's job history.
type SiteMetrics struct {
	SiteID                  string           `json:"site_id"`
	Domain                  string           `json:"domain"`
	Status                  intel.SiteStatus `json:"status"`
	BlueprintVersion        int              `json:"blueprint_version"`
	TotalJobs               int              `json:"total_jobs"`
	SuccessfulJobs          int              `json:"successful_jobs"`
	FailedJobs              int              `json:"failed_jobs"`
	ActiveJobs              int              `json:"active_jobs"`
	SuccessRate             float64          `json:"success_rate"`
	AvgDiscoveryTimeSeconds float64          `json:"avg_discovery_time_seconds"`
	LastJobAt               *time.Time       `json:"last_job_at,omitempty"`
	GeneratedAt             time.Time        `json:"generated_at"`
}

// Config tunes the service.
type Config struct {
	CacheTTL time.Duration
}

// Service computes reports, consulting the cache first when one is set.
type Service struct {
	repo   Repository
	clock  intel.Clock
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// New constructs a Service. cache may be nil.
func New(repo Repository, clock intel.Clock, cache Cache, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{repo: repo, clock: clock, cache: cache, ttl: ttl, logger: logger}
}

// Dashboard reports registry totals plus job statistics for dateRange
// (1d, 7d or 30d; empty means 7d).
func (s *Service) Dashboard(ctx context.Context, dateRange string) (Dashboard, error) {
	if dateRange == "" {
		dateRange = Range7d
	}
	window, ok := ranges[dateRange]
	if !ok {
		return Dashboard{}, intel.Validation("dashboard", map[string]string{
			"date_range": "must be one of 1d, 7d, 30d",
		})
	}

	var out Dashboard
	key := "analytics:dashboard:" + dateRange
	if s.fromCache(ctx, key, &out) {
		return out, nil
	}

	counts, err := s.repo.Counts(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	now := s.clock.Now()
	since := now.Add(-window)
	jobs, err := s.repo.ListJobs(ctx, store.JobFilter{Since: &since})
	if err != nil {
		return Dashboard{}, err
	}

	var (
		terminal, succeeded int
		discoveryTotal      time.Duration
		discoveryRuns       int
	)
	for _, job := range jobs {
		if !job.Status.Terminal() {
			continue
		}
		terminal++
		if job.Status != intel.JobStatusSuccess {
			continue
		}
		succeeded++
		if job.Type != intel.JobTypeDiscovery {
			continue
		}
		if d, ok := job.Duration(); ok {
			discoveryTotal += d
			discoveryRuns++
		}
	}

	out = Dashboard{
		DateRange:       dateRange,
		TotalSites:      counts.Sites,
		ActiveJobs:      counts.ActiveJobs,
		TotalBlueprints: counts.Blueprints,
		JobsInRange:     len(jobs),
		SitesByStatus:   counts.SitesByStatus,
		GeneratedAt:     now,
	}
	if out.SitesByStatus == nil {
		out.SitesByStatus = map[intel.SiteStatus]int{}
	}
	if discoveryRuns > 0 {
		out.AvgDiscoveryTimeSeconds = discoveryTotal.Seconds() / float64(discoveryRuns)
	}
	if terminal > 0 {
		out.SuccessRate = float64(succeeded) / float64(terminal)
	}
	s.toCache(ctx, key, out)
	return out, nil
}

// MethodPerformance reports per-method statistics over terminal jobs. Jobs
// without a method are grouped under "default".
func (s *Service) MethodPerformance(ctx context.Context) ([]MethodStats, error) {
	var out []MethodStats
	const key = "analytics:methods"
	if s.fromCache(ctx, key, &out) {
		return out, nil
	}

	jobs, err := s.repo.ListJobs(ctx, store.JobFilter{})
	if err != nil {
		return nil, err
	}

	type acc struct {
		total, success int
		timed          int
		duration       time.Duration
		costed         int
		cost           float64
	}
	byMethod := make(map[string]*acc)
	for _, job := range jobs {
		if !job.Status.Terminal() {
			continue
		}
		method := job.MethodLabel()
		a := byMethod[method]
		if a == nil {
			a = &acc{}
			byMethod[method] = a
		}
		a.total++
		if job.Status == intel.JobStatusSuccess {
			a.success++
		}
		if d, ok := job.Duration(); ok {
			a.timed++
			a.duration += d
		}
		if job.Result != nil {
			a.costed++
			a.cost += job.Result.CostUSD
		}
	}

	out = make([]MethodStats, 0, len(byMethod))
	for method, a := range byMethod {
		stats := MethodStats{
			Method:      method,
			TotalJobs:   a.total,
			SuccessRate: float64(a.success) / float64(a.total),
		}
		if a.timed > 0 {
			stats.AvgTimeSeconds = a.duration.Seconds() / float64(a.timed)
		}
		if a.costed > 0 {
			stats.AvgCostUSD = a.cost / float64(a.costed)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	s.toCache(ctx, key, out)
	return out, nil
}

// SiteMetrics reports job totals for one site. Discovery time averages
// successful discovery runs only.
func (s *Service) SiteMetrics(ctx context.Context, siteID string) (SiteMetrics, error) {
	var out SiteMetrics
	key := "analytics:site:" + siteID
	if s.fromCache(ctx, key, &out) {
		return out, nil
	}

	site, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return SiteMetrics{}, err
	}
	jobs, err := s.repo.ListJobs(ctx, store.JobFilter{SiteID: siteID})
	if err != nil {
		return SiteMetrics{}, err
	}

	out = SiteMetrics{
		SiteID:           site.ID,
		Domain:           site.Domain,
		Status:           site.Status,
		BlueprintVersion: site.BlueprintVersion,
		TotalJobs:        len(jobs),
		GeneratedAt:      s.clock.Now(),
	}
	var (
		discoveryTotal time.Duration
		discoveryRuns  int
	)
	for _, job := range jobs {
		if out.LastJobAt == nil || job.CreatedAt.After(*out.LastJobAt) {
			created := job.CreatedAt
			out.LastJobAt = &created
		}
		switch {
		case job.Status.Active():
			out.ActiveJobs++
		case job.Status == intel.JobStatusFailed:
			out.FailedJobs++
		case job.Status == intel.JobStatusSuccess:
			out.SuccessfulJobs++
			if job.Type != intel.JobTypeDiscovery {
				continue
			}
			if d, ok := job.Duration(); ok {
				discoveryTotal += d
				discoveryRuns++
			}
		}
	}
	if finished := out.SuccessfulJobs + out.FailedJobs; finished > 0 {
		out.SuccessRate = float64(out.SuccessfulJobs) / float64(finished)
	}
	if discoveryRuns > 0 {
		out.AvgDiscoveryTimeSeconds = discoveryTotal.Seconds() / float64(discoveryRuns)
	}
	s.toCache(ctx, key, out)
	return out, nil
}

// fromCache fills dst on a hit. Cache errors are logged and treated as misses.
func (s *Service) fromCache(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.logger.Warn("analytics cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) toCache(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}
