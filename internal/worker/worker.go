// Package worker executes queued jobs: it claims a job, runs the pipeline for
// its type step by step, and records the terminal outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/metrics"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

// DefaultJobTimeout bounds a single job run when config leaves it unset.
const DefaultJobTimeout = 2 * time.Minute

// Repository is the slice of the store a worker needs.
type Repository interface {
	GetJob(ctx context.Context, jobID string) (intel.Job, error)
	TransitionJob(
		ctx context.Context,
		jobID string,
		from []intel.JobStatus,
		next intel.JobStatus,
		at time.Time,
		jobErr *intel.JobError,
	) (intel.Job, error)
	CompleteJob(ctx context.Context, jobID string, outcome intel.JobOutcome) (intel.Job, error)
	GetSite(ctx context.Context, siteID string) (intel.Site, error)
	LatestBlueprint(ctx context.Context, siteID string) (intel.Blueprint, error)
}

// Analyzer turns a probe into a fingerprint.
type Analyzer interface {
	Analyze(probe intel.Probe) (intel.Fingerprint, error)
}

// Blueprints runs the discovery stages; *blueprint.Service implements it.
type Blueprints interface {
	Candidates(ctx context.Context, fp intel.Fingerprint) ([]templates.Candidate, error)
	Draft(ctx context.Context, siteID string, fp intel.Fingerprint, candidates []templates.Candidate) (intel.Blueprint, error)
	Persist(ctx context.Context, draft intel.Blueprint, fp intel.Fingerprint) (intel.Blueprint, error)
}

// Limiter spaces probes to the same domain.
type Limiter interface {
	Wait(ctx context.Context, domain string) error
}

type noLimit struct{}

func (noLimit) Wait(context.Context, string) error { return nil }

// Config controls Worker behavior.
type Config struct {
	JobTimeout            time.Duration
	DefaultCostPerRequest float64
	CostPerRequest        map[string]float64
}

// Deps wires a Worker.
type Deps struct {
	Queue      intel.Queue
	Repo       Repository
	Prober     intel.Prober
	Analyzer   Analyzer
	Blueprints Blueprints
	Limiter    Limiter
	Tokens     *engine.Tokens
	Clock      intel.Clock
	Retry      *RetryPolicy
	Emitter    progress.Emitter
	Logger     *zap.Logger
	Config     Config
}

// Worker consumes queue items and executes job pipelines.
type Worker struct {
	queue      intel.Queue
	repo       Repository
	prober     intel.Prober
	analyzer   Analyzer
	blueprints Blueprints
	limiter    Limiter
	tokens     *engine.Tokens
	clock      intel.Clock
	retry      *RetryPolicy
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker.
func New(deps Deps) *Worker {
	metrics.Init()
	if deps.Limiter == nil {
		deps.Limiter = noLimit{}
	}
	if deps.Tokens == nil {
		deps.Tokens = engine.NewTokens()
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy(DefaultRetryConfig())
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.JobTimeout <= 0 {
		deps.Config.JobTimeout = DefaultJobTimeout
	}
	return &Worker{
		queue:      deps.Queue,
		repo:       deps.Repo,
		prober:     deps.Prober,
		analyzer:   deps.Analyzer,
		blueprints: deps.Blueprints,
		limiter:    deps.Limiter,
		tokens:     deps.Tokens,
		clock:      deps.Clock,
		retry:      deps.Retry,
		emitter:    deps.Emitter,
		cfg:        deps.Config,
		logger:     deps.Logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, intel.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs one queued job to completion. A job that is no longer queued
// is skipped.
func (w *Worker) Process(ctx context.Context, item intel.QueueItem) {
	token := w.tokens.Acquire(item.JobID)
	defer w.tokens.Release(item.JobID)

	job, err := w.repo.TransitionJob(
		ctx,
		item.JobID,
		[]intel.JobStatus{intel.JobStatusQueued},
		intel.JobStatusRunning,
		w.clock.Now(),
		nil,
	)
	if err != nil {
		w.logger.Info("skipping job", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()
	token.Bind(cancel)

	logger := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("site_id", job.SiteID),
		zap.String("job_type", string(job.Type)),
	)
	w.emit(job, progress.Event{Stage: progress.StageJobStart, Attempt: job.Attempt})
	logger.Info("job started", zap.Int("attempt", job.Attempt))

	r := &run{job: job}
	runErr := w.execute(jobCtx, token, r, logger)
	if token.Canceled() {
		// Cancel already recorded failed/cancellation.
		logger.Info("job canceled during run")
		metrics.ObserveJob(string(job.Type), "canceled")
		return
	}
	if runErr != nil && jobCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		runErr = intel.Dependency("job timeout", runErr)
	}
	w.finish(context.WithoutCancel(ctx), r, runErr, logger)
}

func (w *Worker) execute(ctx context.Context, token *engine.Token, r *run, logger *zap.Logger) error {
	steps, err := w.pipeline(r.job.Type)
	if err != nil {
		return err
	}
	site, err := w.repo.GetSite(ctx, r.job.SiteID)
	if err != nil {
		return fmt.Errorf("load site: %w", err)
	}
	r.site = site
	for _, st := range steps {
		if token.Canceled() {
			return intel.Canceled("")
		}
		if err := w.runStep(ctx, token, st, r, logger); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) runStep(ctx context.Context, token *engine.Token, st step, r *run, logger *zap.Logger) error {
	for attempt := 1; ; attempt++ {
		start := w.clock.Now()
		w.emit(r.job, progress.Event{Stage: progress.StageStepStart, Step: st.name, Attempt: attempt})
		err := st.run(ctx, r)
		if err == nil {
			w.emit(r.job, progress.Event{
				Stage:   progress.StageStepDone,
				Step:    st.name,
				Attempt: attempt,
				Dur:     w.clock.Now().Sub(start),
			})
			return nil
		}
		if token.Canceled() || !st.retryable || !w.retry.ShouldRetry(err, attempt) {
			return fmt.Errorf("step %s: %w", st.name, err)
		}
		wait := w.retry.Backoff(attempt)
		logger.Warn("step failed, retrying",
			zap.String("step", st.name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		w.emit(r.job, progress.Event{
			Stage:   progress.StageStepRetry,
			Step:    st.name,
			Attempt: attempt,
			Note:    err.Error(),
		})
		select {
		case <-ctx.Done():
			return fmt.Errorf("step %s: %w", st.name, err)
		case <-token.Done():
			return intel.Canceled("")
		case <-w.clock.After(wait):
		}
	}
}

func (w *Worker) finish(ctx context.Context, r *run, runErr error, logger *zap.Logger) {
	now := w.clock.Now()
	outcome := intel.JobOutcome{FinishedAt: now}
	if r.job.StartedAt != nil {
		r.result.DurationSeconds = now.Sub(*r.job.StartedAt).Seconds()
	}
	r.result.CostUSD = w.cost(r.job, r.probe.Requests)

	if runErr != nil {
		outcome.Status = intel.JobStatusFailed
		outcome.Error = intel.ToJobError(runErr)
		if markSiteFailed(r, runErr) {
			failed := intel.SiteStatusFailed
			outcome.SitePatch = &intel.SitePatch{Status: &failed}
		}
	} else {
		outcome.Status = intel.JobStatusSuccess
		result := r.result
		outcome.Result = &result
		outcome.SitePatch = r.patch
	}

	job, err := w.repo.CompleteJob(ctx, r.job.ID, outcome)
	if err != nil {
		// A concurrent cancel wins; its state is already terminal.
		logger.Warn("complete job failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Type), string(job.Status))
	if runErr != nil {
		logger.Error("job failed", zap.String("kind", string(outcome.Error.Kind)), zap.Error(runErr))
		w.emit(job, progress.Event{Stage: progress.StageJobError, Attempt: job.Attempt, Note: runErr.Error()})
		return
	}
	dur, _ := job.Duration()
	logger.Info("job succeeded",
		zap.Duration("duration", dur),
		zap.Float64("cost_usd", r.result.CostUSD),
		zap.String("platform", r.result.Platform),
	)
	w.emit(job, progress.Event{Stage: progress.StageJobDone, Attempt: job.Attempt, Dur: dur})
}

// markSiteFailed reports whether a failed discovery should flag the site. A
// cancel or a fingerprint the builder rejects leaves the site as it was.
func markSiteFailed(r *run, runErr error) bool {
	if r.job.Type != intel.JobTypeDiscovery || r.site.ID == "" {
		return false
	}
	if intel.KindOf(runErr) == intel.KindCancellation {
		return false
	}
	return !errors.Is(runErr, intel.ErrInvalidFingerprint)
}

func (w *Worker) cost(job intel.Job, requests int) float64 {
	if requests <= 0 {
		return 0
	}
	rate, ok := w.cfg.CostPerRequest[job.MethodLabel()]
	if !ok {
		rate = w.cfg.DefaultCostPerRequest
	}
	return rate * float64(requests)
}

func (w *Worker) emit(job intel.Job, ev progress.Event) {
	ev.JobID = job.ID
	ev.SiteID = job.SiteID
	ev.JobType = job.Type
	ev.TS = w.clock.Now()
	w.emitter.Emit(ev)
}
