// Package engine owns the job state machine: submission, cancellation, retry,
// and read access. Execution lives in the worker package.
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// DefaultMaxRetries bounds retry chains when config leaves it unset.
const DefaultMaxRetries = 3

// Config tunes the engine.
type Config struct {
	MaxRetries int
}

// Repository is the slice of the store the engine needs.
type Repository interface {
	store.JobRepository
	GetSite(ctx context.Context, siteID string) (intel.Site, error)
}

// Submission is a request to schedule a job.
type Submission struct {
	SiteID   string
	Type     intel.JobType
	Method   *string
	Priority int
}

// Deps wires an Engine.
type Deps struct {
	Repo    Repository
	Queue   intel.Queue
	IDs     intel.IDGenerator
	Clock   intel.Clock
	Tokens  *Tokens
	Emitter progress.Emitter
	Logger  *zap.Logger
	Config  Config
}

// Engine drives job state transitions.
type Engine struct {
	repo    Repository
	queue   intel.Queue
	ids     intel.IDGenerator
	clock   intel.Clock
	tokens  *Tokens
	emitter progress.Emitter
	logger  *zap.Logger
	cfg     Config
}

// New constructs an Engine.
func New(deps Deps) *Engine {
	if deps.Tokens == nil {
		deps.Tokens = NewTokens()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.MaxRetries <= 0 {
		deps.Config.MaxRetries = DefaultMaxRetries
	}
	return &Engine{
		repo:    deps.Repo,
		queue:   deps.Queue,
		ids:     deps.IDs,
		clock:   deps.Clock,
		tokens:  deps.Tokens,
		emitter: deps.Emitter,
		logger:  deps.Logger.Named("engine"),
		cfg:     deps.Config,
	}
}

// Tokens exposes the cancellation registry shared with workers.
func (e *Engine) Tokens() *Tokens {
	return e.tokens
}

// Submit creates a queued job and hands it to the queue. A second active job
// for the same (site, type) is a Conflict and changes nothing.
func (e *Engine) Submit(ctx context.Context, sub Submission) (intel.Job, error) {
	fields := make(map[string]string)
	if strings.TrimSpace(sub.SiteID) == "" {
		fields["site_id"] = "is required"
	}
	if !sub.Type.Valid() {
		fields["job_type"] = fmt.Sprintf("unknown job type %q", sub.Type)
	}
	if sub.Priority < 0 {
		fields["priority"] = "must not be negative"
	}
	if len(fields) > 0 {
		return intel.Job{}, intel.Validation("submit job", fields)
	}
	if _, err := e.repo.GetSite(ctx, sub.SiteID); err != nil {
		return intel.Job{}, fmt.Errorf("submit job: %w", err)
	}
	id, err := e.ids.NewID()
	if err != nil {
		return intel.Job{}, fmt.Errorf("job id: %w", err)
	}
	job := intel.Job{
		ID:         id,
		Type:       sub.Type,
		Method:     sub.Method,
		Status:     intel.JobStatusQueued,
		SiteID:     sub.SiteID,
		Priority:   sub.Priority,
		Attempt:    1,
		MaxRetries: e.cfg.MaxRetries,
		CreatedAt:  e.clock.Now(),
	}
	return e.enqueue(ctx, job, "")
}

// Cancel fails a queued or running job with a cancellation error and fires
// its token. Canceling a finished job returns it unchanged.
func (e *Engine) Cancel(ctx context.Context, jobID string) (intel.Job, error) {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return intel.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	if job.Status.Terminal() {
		return job, nil
	}
	jobErr := &intel.JobError{Kind: intel.KindCancellation, Message: "job canceled"}
	updated, err := e.repo.TransitionJob(
		ctx,
		jobID,
		[]intel.JobStatus{intel.JobStatusQueued, intel.JobStatusRunning},
		intel.JobStatusFailed,
		e.clock.Now(),
		jobErr,
	)
	if err != nil {
		// Lost a race with the worker finishing; report the final state.
		if updated.Status.Terminal() {
			return updated, nil
		}
		return intel.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	e.tokens.Cancel(jobID)
	e.logger.Info("job canceled", zap.String("job_id", jobID), zap.String("previous_status", string(job.Status)))
	e.emit(updated, progress.StageJobCanceled, "canceled while "+string(job.Status))
	return updated, nil
}

// Retry schedules a fresh job that repeats a failed one. The original job is
// never modified.
func (e *Engine) Retry(ctx context.Context, jobID string) (intel.Job, error) {
	prev, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return intel.Job{}, fmt.Errorf("retry job: %w", err)
	}
	if prev.Status != intel.JobStatusFailed {
		return intel.Job{}, intel.Validation("retry job", map[string]string{
			"status": fmt.Sprintf("only failed jobs can be retried, job is %s", prev.Status),
		})
	}
	maxRetries := prev.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}
	if prev.Attempt > maxRetries {
		return intel.Job{}, intel.Conflict("retry job", "job %s exhausted %d retries", jobID, maxRetries)
	}
	id, err := e.ids.NewID()
	if err != nil {
		return intel.Job{}, fmt.Errorf("job id: %w", err)
	}
	job := intel.Job{
		ID:         id,
		Type:       prev.Type,
		Method:     prev.Method,
		Status:     intel.JobStatusQueued,
		SiteID:     prev.SiteID,
		Priority:   prev.Priority + 1,
		Attempt:    prev.Attempt + 1,
		MaxRetries: maxRetries,
		RetryOf:    prev.ID,
		CreatedAt:  e.clock.Now(),
	}
	return e.enqueue(ctx, job, "retry of "+prev.ID)
}

// Get loads one job.
func (e *Engine) Get(ctx context.Context, jobID string) (intel.Job, error) {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return intel.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs matching filter, newest first.
func (e *Engine) List(ctx context.Context, filter store.JobFilter) ([]intel.Job, error) {
	filter.Limit = store.ClampLimit(filter.Limit)
	jobs, err := e.repo.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (e *Engine) enqueue(ctx context.Context, job intel.Job, note string) (intel.Job, error) {
	if err := e.repo.CreateJob(ctx, job); err != nil {
		return intel.Job{}, fmt.Errorf("create job: %w", err)
	}
	e.tokens.Acquire(job.ID)
	if err := e.queue.Enqueue(ctx, intel.QueueItem{JobID: job.ID, Priority: job.Priority}); err != nil {
		depErr := intel.Dependency("enqueue job", err)
		failed, terr := e.repo.TransitionJob(
			ctx,
			job.ID,
			[]intel.JobStatus{intel.JobStatusQueued},
			intel.JobStatusFailed,
			e.clock.Now(),
			intel.ToJobError(depErr),
		)
		e.tokens.Release(job.ID)
		if terr != nil {
			e.logger.Error("fail unqueued job", zap.String("job_id", job.ID), zap.Error(terr))
		} else {
			e.emit(failed, progress.StageJobError, depErr.Error())
		}
		return failed, depErr
	}
	e.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("site_id", job.SiteID),
		zap.String("job_type", string(job.Type)),
		zap.Int("priority", job.Priority),
		zap.Int("attempt", job.Attempt),
	)
	e.emit(job, progress.StageJobQueued, note)
	return job, nil
}

func (e *Engine) emit(job intel.Job, stage progress.Stage, note string) {
	e.emitter.Emit(progress.Event{
		JobID:   job.ID,
		SiteID:  job.SiteID,
		JobType: job.Type,
		TS:      e.clock.Now(),
		Stage:   stage,
		Attempt: job.Attempt,
		Note:    note,
	})
}
