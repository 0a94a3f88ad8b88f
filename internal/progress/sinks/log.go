package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/web-intel-platform/internal/progress"
)

// LogSink writes one structured line per event. Failed jobs log at warn.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		log := s.logger.Info
		if evt.Stage == progress.StageJobError {
			log = s.logger.Warn
		}
		log("progress event", zap.Inline(loggedEvent(evt)))
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// loggedEvent flattens an Event into log fields, leaving out empty ones.
type loggedEvent progress.Event

func (e loggedEvent) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("job_id", e.JobID)
	enc.AddString("site_id", e.SiteID)
	enc.AddString("job_type", string(e.JobType))
	enc.AddString("stage", string(e.Stage))
	if e.Step != "" {
		enc.AddString("step", e.Step)
	}
	if e.Attempt > 0 {
		enc.AddInt64("attempt", int64(e.Attempt))
	}
	if e.StatusClass != "" {
		enc.AddString("status_class", string(e.StatusClass))
		enc.AddInt64("bytes", e.Bytes)
	}
	if e.Dur > 0 {
		enc.AddDuration("dur", e.Dur)
	}
	if e.Note != "" {
		enc.AddString("note", e.Note)
	}
	return nil
}
