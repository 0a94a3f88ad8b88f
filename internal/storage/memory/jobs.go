package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// CreateJob checks the (site, type) active slot and inserts under one lock.
func (s *Store) CreateJob(_ context.Context, job intel.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return intel.Conflict("job", "job %q already exists", job.ID)
	}
	key := activeKey{siteID: job.SiteID, jobType: job.Type}
	if existing, busy := s.active[key]; busy && job.Status.Active() {
		return intel.Conflict("job", "active %s job %s already exists for site %s", job.Type, existing, job.SiteID)
	}
	s.jobs[job.ID] = job
	if job.Status.Active() {
		s.active[key] = job.ID
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, jobID string) (intel.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return intel.Job{}, intel.NotFound("job", jobID)
	}
	return job, nil
}

// ListJobs returns matching jobs newest first.
func (s *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]intel.Job, error) {
	s.mu.RLock()
	out := make([]intel.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && job.Type != *filter.Type {
			continue
		}
		if filter.SiteID != "" && job.SiteID != filter.SiteID {
			continue
		}
		if filter.Since != nil && job.CreatedAt.Before(*filter.Since) {
			continue
		}
		out = append(out, job)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// TransitionJob performs a compare-and-swap on the job status.
func (s *Store) TransitionJob(
	_ context.Context,
	jobID string,
	from []intel.JobStatus,
	next intel.JobStatus,
	at time.Time,
	jobErr *intel.JobError,
) (intel.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return intel.Job{}, intel.NotFound("job", jobID)
	}
	if !slices.Contains(from, job.Status) || !intel.CanTransition(job.Status, next) {
		return job, intel.Conflict("job", "job %s is %s, cannot move to %s", jobID, job.Status, next)
	}
	job.Status = next
	if next == intel.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = pointerTime(at)
	}
	if next.Terminal() {
		job.FinishedAt = pointerTime(at)
		job.Error = jobErr
	}
	s.storeJob(job)
	return job, nil
}

// CompleteJob applies a terminal outcome and the site patch atomically.
func (s *Store) CompleteJob(_ context.Context, jobID string, outcome intel.JobOutcome) (intel.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return intel.Job{}, intel.NotFound("job", jobID)
	}
	if job.Status != intel.JobStatusRunning || !outcome.Status.Terminal() {
		return job, intel.Conflict("job", "job %s is %s, cannot complete as %s", jobID, job.Status, outcome.Status)
	}
	if outcome.SitePatch != nil && !outcome.SitePatch.Empty() {
		site, ok := s.sites[job.SiteID]
		if !ok {
			return job, intel.NotFound("site", job.SiteID)
		}
		outcome.SitePatch.Apply(&site)
		site.UpdatedAt = outcome.FinishedAt
		s.sites[site.ID] = site
	}
	job.Status = outcome.Status
	job.FinishedAt = pointerTime(outcome.FinishedAt)
	job.Result = outcome.Result
	job.Error = outcome.Error
	s.storeJob(job)
	return job, nil
}

func (s *Store) storeJob(job intel.Job) {
	s.jobs[job.ID] = job
	key := activeKey{siteID: job.SiteID, jobType: job.Type}
	if !job.Status.Active() && s.active[key] == job.ID {
		delete(s.active, key)
	}
}
