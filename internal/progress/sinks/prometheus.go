package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/web-intel-platform/internal/progress"
)

const namespace = "webintel"

// PrometheusSink turns job timelines into Prometheus series.
type PrometheusSink struct {
	jobsQueued    *prometheus.CounterVec
	jobsStarted   *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	probeRequests *prometheus.CounterVec
	probeBytes    prometheus.Counter

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the sink's collectors with reg, or with the
// default registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	jobLabels := []string{"job_type"}
	outcomeLabels := []string{"job_type", "result"}
	s := &PrometheusSink{
		jobsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_queued_total",
			Help: "Jobs accepted onto the queue.",
		}, jobLabels),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_started_total",
			Help: "Jobs picked up by a worker.",
		}, jobLabels),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_completed_total",
			Help: "Jobs that reached a terminal state.",
		}, outcomeLabels),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_running",
			Help: "Jobs currently held by workers.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_runtime_seconds",
			Help:    "Wall time from start to terminal state.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, outcomeLabels),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_steps_total",
			Help: "Pipeline step completions and retries.",
		}, []string{"step", "result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_step_duration_seconds",
			Help:    "Time spent in a single pipeline step.",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 9),
		}, []string{"step"}),
		probeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "probe_responses_total",
			Help: "Probe responses by HTTP status class.",
		}, []string{"status_class"}),
		probeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "probe_bytes_total",
			Help: "Body bytes fetched by probes.",
		}),
		running: make(map[string]struct{}),
	}
	collectors := []prometheus.Collector{
		s.jobsQueued, s.jobsStarted, s.jobsCompleted, s.jobsRunning, s.jobRuntime,
		s.steps, s.stepDuration, s.probeRequests, s.probeBytes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// outcome maps terminal stages to the result label.
func outcome(stage progress.Stage) string {
	switch stage {
	case progress.StageJobDone:
		return "success"
	case progress.StageJobError:
		return "error"
	case progress.StageJobCanceled:
		return "canceled"
	}
	return ""
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		jobType := string(evt.JobType)
		switch {
		case evt.Stage == progress.StageJobQueued:
			s.jobsQueued.WithLabelValues(jobType).Inc()
		case evt.Stage == progress.StageJobStart:
			s.jobsStarted.WithLabelValues(jobType).Inc()
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case evt.Stage.Terminal():
			s.finishJob(evt)
		case evt.Stage == progress.StageStepDone:
			s.steps.WithLabelValues(evt.Step, "done").Inc()
			if evt.Dur > 0 {
				s.stepDuration.WithLabelValues(evt.Step).Observe(evt.Dur.Seconds())
			}
		case evt.Stage == progress.StageStepRetry:
			s.steps.WithLabelValues(evt.Step, "retry").Inc()
		case evt.Stage == progress.StageProbeDone:
			class := evt.StatusClass
			if class == "" {
				class = progress.StatusOther
			}
			s.probeRequests.WithLabelValues(string(class)).Inc()
			if evt.Bytes > 0 {
				s.probeBytes.Add(float64(evt.Bytes))
			}
		}
	}
	return nil
}

func (s *PrometheusSink) finishJob(evt progress.Event) {
	result := outcome(evt.Stage)
	s.jobsCompleted.WithLabelValues(string(evt.JobType), result).Inc()
	// Cancellation durations measure the caller, not the pipeline.
	if evt.Dur > 0 && evt.Stage != progress.StageJobCanceled {
		s.jobRuntime.WithLabelValues(string(evt.JobType), result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

// track records a job entering or leaving the running set and reports
// whether the set changed, so duplicate starts are counted once.
func (s *PrometheusSink) track(jobID string, running bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.running[jobID]
	if running == present {
		return false
	}
	if running {
		s.running[jobID] = struct{}{}
	} else {
		delete(s.running, jobID)
	}
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
