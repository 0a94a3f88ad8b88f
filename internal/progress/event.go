// Package progress defines the job lifecycle events emitted by the engine and
// workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobQueued   Stage = "JOB_QUEUED"
	StageJobStart    Stage = "JOB_START"
	StageStepStart   Stage = "STEP_START"
	StageStepDone    Stage = "STEP_DONE"
	StageStepRetry   Stage = "STEP_RETRY"
	StageProbeDone   Stage = "PROBE_DONE"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageJobCanceled Stage = "JOB_CANCELED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for probe completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single job lifecycle milestone.
type Event struct {
	// JobID identifies the job the event belongs to.
	JobID string
	// SiteID and JobType label the job for sinks that aggregate.
	SiteID  string
	JobType intel.JobType
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Step names the pipeline step for step and probe stages.
	Step string
	// Attempt is the 1-based try of the step or job.
	Attempt int
	// StatusClass groups the probe's HTTP response code.
	StatusClass StatusClass
	// Bytes carries the probed body size.
	Bytes int64
	// Dur captures step or job latency.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Terminal reports whether the stage closes a job's timeline.
func (s Stage) Terminal() bool {
	switch s {
	case StageJobDone, StageJobError, StageJobCanceled:
		return true
	}
	return false
}

// needsStep reports whether events of this stage must name a pipeline step.
func (s Stage) needsStep() bool {
	return s == StageStepStart || s == StageStepDone || s == StageStepRetry
}

func (s Stage) known() bool {
	switch s {
	case StageJobQueued, StageJobStart, StageProbeDone:
		return true
	}
	return s.Terminal() || s.needsStep()
}

// Validate rejects events sinks cannot attribute or label.
func (e Event) Validate() error {
	switch {
	case e.JobID == "":
		return errors.New("progress event: missing job id")
	case e.TS.IsZero():
		return errors.New("progress event: missing timestamp")
	case !e.Stage.known():
		return fmt.Errorf("progress event: unknown stage %q", e.Stage)
	case e.Stage.needsStep() && e.Step == "":
		return fmt.Errorf("progress event: %s without step", e.Stage)
	case e.Stage == StageProbeDone && e.StatusClass == "":
		return errors.New("progress event: probe result without status class")
	case e.Dur < 0:
		return errors.New("progress event: negative duration")
	}
	return nil
}

// JobEvent converts the event into the persisted timeline row.
func (e Event) JobEvent() intel.JobEvent {
	return intel.JobEvent{
		JobID: e.JobID,
		Stage: string(e.Stage),
		Step:  e.Step,
		Note:  e.Note,
		At:    e.TS,
	}
}

// ClassifyStatus groups HTTP status codes for probe events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
