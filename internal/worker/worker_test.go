package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-intel-platform/internal/blueprint"
	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
)

func TestFingerprintJobPersistsFingerprint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.Equal(t, intel.JobStatusSuccess, job.Status)
	require.NotNil(t, job.Result)
	require.Equal(t, "shopify", job.Result.Platform)
	require.InDelta(t, 0.003, job.Result.CostUSD, 1e-9)
	require.Positive(t, job.Result.DurationSeconds)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)

	site, err := h.store.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	require.NotNil(t, site.Fingerprint)
	require.Equal(t, "shopify", site.Fingerprint.Platform)
	require.NotNil(t, site.Platform)
	require.Equal(t, "shopify", *site.Platform)
	require.Equal(t, intel.SiteStatusPending, site.Status)
	require.Zero(t, site.BlueprintVersion)

	require.Equal(t, 1, h.emitter.count(progress.StageJobStart))
	require.Equal(t, 3, h.emitter.count(progress.StageStepDone))
	require.Equal(t, 1, h.emitter.count(progress.StageProbeDone))
	require.Equal(t, 1, h.emitter.count(progress.StageJobDone))
}

func TestFingerprintJobKeepsOperatorBusinessValue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	// The harness site has no score, so the analyzer's estimate seeds it.
	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.Equal(t, intel.JobStatusSuccess, job.Status)
	site, err := h.store.GetSite(ctx, "site-1")
	require.NoError(t, err)
	require.NotNil(t, site.BusinessValueScore)
	require.InDelta(t, site.Fingerprint.BusinessValueScore, *site.BusinessValueScore, 1e-9)

	operator := 0.95
	_, err = h.store.UpdateSite(ctx, "site-1", intel.SitePatch{BusinessValueScore: &operator}, h.clock.Now())
	require.NoError(t, err)

	for _, jt := range []intel.JobType{intel.JobTypeFingerprint, intel.JobTypeDiscovery} {
		job = h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: jt})
		require.Equal(t, intel.JobStatusSuccess, job.Status, "job error: %+v", job.Error)
		site, err = h.store.GetSite(ctx, "site-1")
		require.NoError(t, err)
		require.InDelta(t, 0.95, *site.BusinessValueScore, 1e-9, jt)
	}
}

func TestDiscoveryJobCommitsBlueprint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.Equal(t, intel.JobStatusSuccess, job.Status, "job error: %+v", job.Error)
	require.Equal(t, 1, job.Result.BlueprintVersion)
	require.NotEmpty(t, job.Result.BlueprintID)
	require.Positive(t, job.Result.CategoriesFound)
	require.Positive(t, job.Result.EndpointsFound)

	bp, err := h.store.LatestBlueprint(ctx, "site-1")
	require.NoError(t, err)
	require.Equal(t, job.Result.BlueprintID, bp.ID)
	require.Equal(t, "tmpl-shopify-2x", bp.TemplateID)

	site, err := h.store.GetSite(ctx, "site-1")
	require.NoError(t, err)
	require.Equal(t, 1, site.BlueprintVersion)
	require.Equal(t, blueprint.NewBuilder(blueprint.DefaultConfig()).StatusFor(bp.ConfidenceValue()), site.Status)
	require.NotNil(t, site.Fingerprint)

	// A second run appends the next version.
	job = h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.Equal(t, 2, job.Result.BlueprintVersion)
}

func TestDependencyErrorRetriedThenSucceeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.prober.errs = []error{
		intel.Dependency("probe", errors.New("connection reset")),
		intel.Dependency("probe", errors.New("connection reset")),
	}

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.Equal(t, intel.JobStatusSuccess, job.Status)
	require.Equal(t, 3, h.prober.callCount())
	require.Equal(t, 2, h.clock.waitCount())
	require.Equal(t, 2, h.emitter.count(progress.StageStepRetry))
}

func TestDependencyErrorPastBoundFailsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	boom := intel.Dependency("probe", errors.New("dns failure"))
	h.prober.errs = []error{boom, boom, boom, boom}

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	require.Equal(t, intel.KindDependency, job.Error.Kind)
	require.Contains(t, job.Error.Message, "dns failure")
	require.Equal(t, 3, h.prober.callCount())

	site, err := h.store.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	require.Equal(t, intel.SiteStatusFailed, site.Status)
	require.Equal(t, 1, h.emitter.count(progress.StageJobError))
}

func TestServerErrorStatusIsFetchedAgain(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	unavailable := h.prober.probe
	unavailable.StatusCode = http.StatusServiceUnavailable
	unavailable.Body = []byte("<html><body>maintenance</body></html>")
	h.prober.responses = []intel.Probe{unavailable}

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.Equal(t, intel.JobStatusSuccess, job.Status, "job error: %+v", job.Error)
	require.Equal(t, "shopify", job.Result.Platform)
	require.Equal(t, 2, h.prober.callCount())
	require.Equal(t, 1, h.clock.waitCount())
	require.Equal(t, 1, h.emitter.count(progress.StageStepRetry))
	require.Equal(t, 2, h.emitter.count(progress.StageProbeDone))
}

func TestPersistentServerErrorFailsAsDependency(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.prober.probe.StatusCode = http.StatusBadGateway

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.Equal(t, intel.KindDependency, job.Error.Kind)
	require.Contains(t, job.Error.Message, "returned status 502")
	require.Equal(t, 3, h.prober.callCount())
	require.Equal(t, 2, h.clock.waitCount())
}

func TestJobErrorNamesStepOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.prober.probe.Body = nil
	h.prober.probe.StatusCode = http.StatusNotFound

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.Equal(t, intel.KindValidation, job.Error.Kind)
	require.True(t, strings.HasPrefix(job.Error.Message, "step analyze: analyze: "), job.Error.Message)
	require.Equal(t, 1, strings.Count(job.Error.Message, "analyze: analyze"))
}

func TestNonDependencyErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.prober.errs = []error{intel.Validationf("probe", "robots.txt disallows /")}

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.Equal(t, intel.KindValidation, job.Error.Kind)
	require.Equal(t, 1, h.prober.callCount())
	require.Zero(t, h.clock.waitCount())
}

func TestCancelObservedBetweenSteps(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var jobID string
	h.prober.during = func(int) {
		_, err := h.engine.Cancel(context.Background(), jobID)
		require.NoError(t, err)
	}

	ctx := context.Background()
	job, err := h.engine.Submit(ctx, engine.Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.NoError(t, err)
	jobID = job.ID
	item, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, item)

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, intel.JobStatusFailed, got.Status)
	require.Equal(t, intel.KindCancellation, got.Error.Kind)

	_, err = h.store.LatestBlueprint(ctx, "site-1")
	require.ErrorIs(t, err, intel.ErrNotFound)
	site, err := h.store.GetSite(ctx, "site-1")
	require.NoError(t, err)
	require.Nil(t, site.Fingerprint)
	require.Zero(t, h.emitter.count(progress.StageJobDone))
}

func TestCancelInterruptsBackoff(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	boom := intel.Dependency("probe", errors.New("timeout"))
	h.prober.errs = []error{boom, boom, boom}
	var jobID string
	h.clock.onWait = func() {
		_, _ = h.engine.Cancel(context.Background(), jobID)
	}

	ctx := context.Background()
	job, err := h.engine.Submit(ctx, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)
	jobID = job.ID
	item, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, item)

	got, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, intel.KindCancellation, got.Error.Kind)
	require.LessOrEqual(t, h.prober.callCount(), 2)
}

func TestCanceledQueuedJobIsSkipped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.engine.Submit(ctx, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)
	_, err = h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)

	item, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, item)
	require.Zero(t, h.prober.callCount())
	require.Zero(t, h.emitter.count(progress.StageJobStart))
}

func TestExtractionRequiresBlueprint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeExtraction})
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.Equal(t, intel.KindValidation, job.Error.Kind)
	require.Zero(t, h.prober.callCount())
}

func TestExtractionEvaluatesLatestBlueprint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	discovery := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.Equal(t, intel.JobStatusSuccess, discovery.Status)

	method := "headless"
	job := h.submitAndProcess(t, engine.Submission{SiteID: "site-1", Type: intel.JobTypeExtraction, Method: &method})
	require.Equal(t, intel.JobStatusSuccess, job.Status, "job error: %+v", job.Error)
	require.Equal(t, 2, job.Result.ItemsFound)
	require.Equal(t, discovery.Result.BlueprintID, job.Result.BlueprintID)
	require.GreaterOrEqual(t, job.Result.SelectorFailureRate, 0.0)
	require.Less(t, job.Result.SelectorFailureRate, 1.0)
	require.InDelta(t, 0.03, job.Result.CostUSD, 1e-9)
}

func TestRunDrainsQueue(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, err := h.engine.Submit(ctx, engine.Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		h.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := h.store.GetJob(ctx, job.ID)
		return err == nil && got.Status == intel.JobStatusSuccess
	}, time.Second, 10*time.Millisecond)

	h.queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit after queue close")
	}
}

func TestMarkSiteFailed(t *testing.T) {
	t.Parallel()

	discovery := &run{job: intel.Job{Type: intel.JobTypeDiscovery}, site: intel.Site{ID: "site-1"}}
	require.True(t, markSiteFailed(discovery, intel.Dependency("probe", errors.New("reset"))))
	require.False(t, markSiteFailed(discovery, intel.Canceled("job-1")))
	require.False(t, markSiteFailed(discovery, fmt.Errorf("build: %w", intel.InvalidFingerprint(map[string]string{"platform": "missing"}))))

	fingerprint := &run{job: intel.Job{Type: intel.JobTypeFingerprint}, site: intel.Site{ID: "site-1"}}
	require.False(t, markSiteFailed(fingerprint, intel.Dependency("probe", errors.New("reset"))))
}
