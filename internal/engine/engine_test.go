package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	queuemem "github.com/JakeFAU/web-intel-platform/internal/queue/memory"
	"github.com/JakeFAU/web-intel-platform/internal/storage/memory"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%03d", s.n.Add(1)), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Stage)
	}
	return out
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(context.Context, intel.QueueItem) error {
	return errors.New("broker offline")
}

func (brokenQueue) Dequeue(ctx context.Context) (intel.QueueItem, error) {
	<-ctx.Done()
	return intel.QueueItem{}, ctx.Err()
}

type harness struct {
	engine  *Engine
	store   *memory.Store
	queue   *queuemem.Queue
	emitter *recordingEmitter
}

func newHarness(t *testing.T, q intel.Queue) harness {
	t.Helper()
	st := memory.NewStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateSite(context.Background(), intel.Site{
		ID:        "site-1",
		Domain:    "shop.example.com",
		Status:    intel.SiteStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	mq, _ := q.(*queuemem.Queue)
	if q == nil {
		mq = queuemem.NewQueue(64)
		q = mq
	}
	em := &recordingEmitter{}
	eng := New(Deps{
		Repo:    st,
		Queue:   q,
		IDs:     &seqIDs{},
		Clock:   fixedClock{now: now},
		Emitter: em,
		Config:  Config{MaxRetries: 2},
	})
	return harness{engine: eng, store: st, queue: mq, emitter: em}
}

func TestSubmitQueuesJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	job, err := h.engine.Submit(context.Background(), Submission{
		SiteID: "site-1",
		Type:   intel.JobTypeDiscovery,
	})
	require.NoError(t, err)
	require.Equal(t, intel.JobStatusQueued, job.Status)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, 2, job.MaxRetries)
	require.Equal(t, 1, h.queue.Len())
	require.Equal(t, 1, h.engine.Tokens().Len())
	require.Equal(t, []progress.Stage{progress.StageJobQueued}, h.emitter.stages())

	item, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, job.ID, item.JobID)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	_, err := h.engine.Submit(context.Background(), Submission{Type: "scrape", Priority: -1})
	require.ErrorIs(t, err, intel.ErrValidation)
	fields := intel.FieldsOf(err)
	require.Contains(t, fields, "site_id")
	require.Contains(t, fields, "job_type")
	require.Contains(t, fields, "priority")

	_, err = h.engine.Submit(context.Background(), Submission{SiteID: "missing", Type: intel.JobTypeFingerprint})
	require.ErrorIs(t, err, intel.ErrNotFound)
	require.Zero(t, h.queue.Len())
}

func TestSubmitOneActiveJobPerSiteAndType(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	const workers = 16
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		conflicts atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Submit(context.Background(), Submission{
				SiteID: "site-1",
				Type:   intel.JobTypeDiscovery,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, intel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, succeeded.Load())
	require.EqualValues(t, workers-1, conflicts.Load())
	require.Equal(t, 1, h.queue.Len())

	// A different job type for the same site is independent.
	_, err := h.engine.Submit(context.Background(), Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)
}

func TestSubmitEnqueueFailureFailsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, brokenQueue{})

	job, err := h.engine.Submit(context.Background(), Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.ErrorIs(t, err, intel.ErrDependency)
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.NotNil(t, job.Error)
	require.Equal(t, intel.KindDependency, job.Error.Kind)
	require.Zero(t, h.engine.Tokens().Len())
	require.Equal(t, []progress.Stage{progress.StageJobError}, h.emitter.stages())

	// The slot is free again.
	stored, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, intel.JobStatusFailed, stored.Status)
}

func TestCancelQueuedJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	job, err := h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.NoError(t, err)
	token := h.engine.Tokens().Acquire(job.ID)

	canceled, err := h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, intel.JobStatusFailed, canceled.Status)
	require.Equal(t, intel.KindCancellation, canceled.Error.Kind)
	require.NotNil(t, canceled.FinishedAt)
	require.True(t, token.Canceled())
	require.Contains(t, h.emitter.stages(), progress.StageJobCanceled)

	// Canceling again is a no-op that returns the finished job.
	again, err := h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, canceled, again)
}

func TestCancelRunningJobUnblocksContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	job, err := h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeExtraction})
	require.NoError(t, err)
	_, err = h.store.TransitionJob(ctx, job.ID, []intel.JobStatus{intel.JobStatusQueued},
		intel.JobStatusRunning, time.Now(), nil)
	require.NoError(t, err)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.engine.Tokens().Acquire(job.ID).Bind(cancel)

	_, err = h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.ErrorIs(t, jobCtx.Err(), context.Canceled)
}

func TestCancelFinishedJobIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	job, err := h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)
	_, err = h.store.TransitionJob(ctx, job.ID, []intel.JobStatus{intel.JobStatusQueued},
		intel.JobStatusRunning, time.Now(), nil)
	require.NoError(t, err)
	done, err := h.store.CompleteJob(ctx, job.ID, intel.JobOutcome{
		Status:     intel.JobStatusSuccess,
		Result:     &intel.JobResult{Platform: "shopify"},
		FinishedAt: time.Now(),
	})
	require.NoError(t, err)

	got, err := h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, done, got)
	require.Equal(t, intel.JobStatusSuccess, got.Status)

	_, err = h.engine.Cancel(ctx, "nope")
	require.ErrorIs(t, err, intel.ErrNotFound)
}

func TestRetryCreatesNewJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	job, err := h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery, Priority: 0})
	require.NoError(t, err)
	failed, err := h.engine.Cancel(ctx, job.ID)
	require.NoError(t, err)

	retried, err := h.engine.Retry(ctx, job.ID)
	require.NoError(t, err)
	require.NotEqual(t, job.ID, retried.ID)
	require.Equal(t, intel.JobStatusQueued, retried.Status)
	require.Equal(t, job.ID, retried.RetryOf)
	require.Equal(t, 2, retried.Attempt)
	require.Equal(t, 1, retried.Priority)

	original, err := h.engine.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, failed, original)

	// Retried jobs land in the high lane ahead of fresh work.
	_, err = h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)
	first, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	if first.JobID == job.ID {
		first, err = h.queue.Dequeue(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, retried.ID, first.JobID)
}

func TestRetryRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	job, err := h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.NoError(t, err)

	_, err = h.engine.Retry(ctx, job.ID)
	require.ErrorIs(t, err, intel.ErrValidation)
	require.Contains(t, intel.FieldsOf(err), "status")

	current := job
	for attempt := 1; attempt <= 2; attempt++ {
		_, err = h.engine.Cancel(ctx, current.ID)
		require.NoError(t, err)
		current, err = h.engine.Retry(ctx, current.ID)
		require.NoError(t, err)
		require.Equal(t, attempt+1, current.Attempt)
	}
	_, err = h.engine.Cancel(ctx, current.ID)
	require.NoError(t, err)

	_, err = h.engine.Retry(ctx, current.ID)
	require.ErrorIs(t, err, intel.ErrConflict)

	_, err = h.engine.Retry(ctx, "missing")
	require.ErrorIs(t, err, intel.ErrNotFound)
}

func TestListClampsLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeDiscovery})
	require.NoError(t, err)
	_, err = h.engine.Submit(ctx, Submission{SiteID: "site-1", Type: intel.JobTypeFingerprint})
	require.NoError(t, err)

	jobType := intel.JobTypeFingerprint
	jobs, err := h.engine.List(ctx, store.JobFilter{Type: &jobType, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, intel.JobTypeFingerprint, jobs[0].Type)
}
