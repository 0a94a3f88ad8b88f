package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

// Step names reported in progress events.
const (
	StepProbe         = "probe"
	StepAnalyze       = "analyze"
	StepPersist       = "persist"
	StepMatch         = "match"
	StepBuild         = "build"
	StepCommit        = "commit"
	StepLoadBlueprint = "load-blueprint"
	StepEvaluate      = "evaluate"
)

// step is one checkpointed unit of a pipeline. Only retryable steps are
// handed to the retry policy.
type step struct {
	name      string
	retryable bool
	run       func(ctx context.Context, r *run) error
}

// run carries the state steps hand to each other for one job.
type run struct {
	job         intel.Job
	site        intel.Site
	probe       intel.Probe
	fingerprint intel.Fingerprint
	candidates  []templates.Candidate
	draft       intel.Blueprint
	blueprint   intel.Blueprint
	result      intel.JobResult
	patch       *intel.SitePatch
}

func (w *Worker) pipeline(jobType intel.JobType) ([]step, error) {
	switch jobType {
	case intel.JobTypeFingerprint:
		return []step{
			{name: StepProbe, retryable: true, run: w.probeStep},
			{name: StepAnalyze, run: w.analyzeStep},
			{name: StepPersist, run: w.persistFingerprintStep},
		}, nil
	case intel.JobTypeDiscovery:
		return []step{
			{name: StepProbe, retryable: true, run: w.probeStep},
			{name: StepAnalyze, run: w.analyzeStep},
			{name: StepMatch, retryable: true, run: w.matchStep},
			{name: StepBuild, run: w.buildStep},
			{name: StepCommit, retryable: true, run: w.commitStep},
		}, nil
	case intel.JobTypeExtraction:
		return []step{
			{name: StepLoadBlueprint, retryable: true, run: w.loadBlueprintStep},
			{name: StepProbe, retryable: true, run: w.probeStep},
			{name: StepEvaluate, run: w.evaluateStep},
		}, nil
	default:
		return nil, intel.Validationf("pipeline", "unknown job type %q", jobType)
	}
}

func (w *Worker) probeStep(ctx context.Context, r *run) error {
	if err := w.limiter.Wait(ctx, r.site.Domain); err != nil {
		return intel.Dependency("probe rate limit", err)
	}
	// Prober errors already name the domain.
	probe, err := w.prober.Probe(ctx, r.site.Domain)
	if err != nil {
		return err
	}
	r.probe = probe
	w.emit(r.job, progress.Event{
		Stage:       progress.StageProbeDone,
		Step:        StepProbe,
		StatusClass: progress.ClassifyStatus(probe.StatusCode),
		Bytes:       int64(len(probe.Body)),
		Dur:         probe.Duration,
		Note:        probe.URL,
	})
	// A server error or missing status means the site is unavailable, so the
	// probe is retried rather than handed to the analyzer.
	if probe.StatusCode == 0 || probe.StatusCode >= 500 {
		return intel.Dependency("probe "+r.site.Domain,
			fmt.Errorf("%s returned status %d", probe.URL, probe.StatusCode))
	}
	return nil
}

func (w *Worker) analyzeStep(_ context.Context, r *run) error {
	fp, err := w.analyzer.Analyze(r.probe)
	if err != nil {
		return err
	}
	r.fingerprint = fp
	r.result.Platform = fp.Platform
	return nil
}

func (w *Worker) persistFingerprintStep(_ context.Context, r *run) error {
	patch := intel.FingerprintPatch(r.fingerprint)
	r.patch = &patch
	return nil
}

func (w *Worker) matchStep(ctx context.Context, r *run) error {
	candidates, err := w.blueprints.Candidates(ctx, r.fingerprint)
	if err != nil {
		return err
	}
	r.candidates = candidates
	return nil
}

func (w *Worker) buildStep(ctx context.Context, r *run) error {
	draft, err := w.blueprints.Draft(ctx, r.site.ID, r.fingerprint, r.candidates)
	if err != nil {
		return err
	}
	r.draft = draft
	return nil
}

func (w *Worker) commitStep(ctx context.Context, r *run) error {
	bp, err := w.blueprints.Persist(ctx, r.draft, r.fingerprint)
	if err != nil {
		return err
	}
	r.blueprint = bp
	r.result.BlueprintID = bp.ID
	r.result.BlueprintVersion = bp.Version
	r.result.Confidence = bp.ConfidenceValue()
	r.result.CategoriesFound = len(bp.Categories)
	r.result.EndpointsFound = len(bp.Endpoints)
	patch := intel.FingerprintPatch(r.fingerprint)
	r.patch = &patch
	return nil
}

func (w *Worker) loadBlueprintStep(ctx context.Context, r *run) error {
	bp, err := w.repo.LatestBlueprint(ctx, r.site.ID)
	if err != nil {
		if errors.Is(err, intel.ErrNotFound) {
			return intel.Validationf("extraction", "site %s has no blueprint", r.site.ID)
		}
		return fmt.Errorf("load blueprint: %w", err)
	}
	r.blueprint = bp
	r.result.BlueprintID = bp.ID
	r.result.BlueprintVersion = bp.Version
	return nil
}

func (w *Worker) evaluateStep(_ context.Context, r *run) error {
	eval, err := Evaluate(r.probe.Body, r.blueprint.Selectors)
	if err != nil {
		return err
	}
	r.result.ItemsFound = eval.ItemsFound
	r.result.SelectorFailureRate = eval.FailureRate
	if r.site.Platform != nil {
		r.result.Platform = *r.site.Platform
	}
	return nil
}
