package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-intel-platform/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "job-1", JobType: "discovery", TS: now, Stage: progress.StageJobQueued},
		{JobID: "job-1", JobType: "discovery", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", JobType: "discovery", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", JobType: "discovery", TS: now, Stage: progress.StageStepRetry, Step: "probe"},
		{
			JobID:       "job-1",
			JobType:     "discovery",
			TS:          now.Add(time.Second),
			Stage:       progress.StageProbeDone,
			Step:        "probe",
			Bytes:       1024,
			StatusClass: progress.Status2xx,
		},
		{JobID: "job-1", JobType: "discovery", TS: now, Stage: progress.StageStepDone, Step: "probe", Dur: 200 * time.Millisecond},
		{JobID: "job-1", JobType: "discovery", TS: now.Add(3 * time.Second), Stage: progress.StageJobDone, Dur: 3 * time.Second},
		{JobID: "job-2", JobType: "fingerprint", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-2", JobType: "fingerprint", TS: now, Stage: progress.StageJobCanceled},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsQueued.WithLabelValues("discovery")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsStarted.WithLabelValues("discovery")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("discovery", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsCompleted.WithLabelValues("fingerprint", "canceled")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.steps.WithLabelValues("probe", "retry")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.steps.WithLabelValues("probe", "done")))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.probeRequests.WithLabelValues(string(progress.Status2xx))), 1e-9)
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.probeBytes), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.stepDuration, "webintel_job_step_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "webintel_job_runtime_seconds"))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
