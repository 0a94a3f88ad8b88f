package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/progress"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// StoreSink persists the job event timeline through a store.EventRepository.
// Each batch is written with one repository call.
type StoreSink struct {
	repo   store.EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts the batch to timeline rows and appends them. It respects
// ctx deadlines and returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	rows := make([]intel.JobEvent, 0, len(batch))
	for _, evt := range batch {
		rows = append(rows, evt.JobEvent())
	}
	if err := s.repo.AppendJobEvents(ctx, rows); err != nil {
		return fmt.Errorf("append job events: %w", err)
	}
	s.logger.Debug("job events persisted", zap.Int("events", len(rows)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
