package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// AppendJobEvents records progress rows in one batch.
func (s *Store) AppendJobEvents(ctx context.Context, events []intel.JobEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(ctx, "append job events", func(tx pgx.Tx) error {
		for _, evt := range events {
			if _, err := tx.Exec(ctx,
				`INSERT INTO job_events (job_id, stage, step, note, at) VALUES ($1, $2, $3, $4, $5)`,
				evt.JobID, evt.Stage, evt.Step, evt.Note, evt.At,
			); err != nil {
				return mapError("insert job event", err)
			}
		}
		return nil
	})
}

// ListJobEvents returns a job's timeline oldest first.
func (s *Store) ListJobEvents(ctx context.Context, jobID string) ([]intel.JobEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT job_id, stage, step, note, at FROM job_events WHERE job_id = $1 ORDER BY at, id`, jobID)
	if err != nil {
		return nil, mapError("list job events", err)
	}
	defer rows.Close()
	out := make([]intel.JobEvent, 0)
	for rows.Next() {
		var evt intel.JobEvent
		if err := rows.Scan(&evt.JobID, &evt.Stage, &evt.Step, &evt.Note, &evt.At); err != nil {
			return nil, mapError("scan job event", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list job events", err)
	}
	return out, nil
}

// Counts summarizes registry totals.
func (s *Store) Counts(ctx context.Context) (store.Counts, error) {
	counts := store.Counts{SitesByStatus: make(map[intel.SiteStatus]int)}
	if err := s.db.QueryRow(ctx, `SELECT
		(SELECT count(*) FROM sites),
		(SELECT count(*) FROM jobs WHERE status IN ('queued', 'running')),
		(SELECT count(*) FROM blueprints)`,
	).Scan(&counts.Sites, &counts.ActiveJobs, &counts.Blueprints); err != nil {
		return store.Counts{}, mapError("count totals", err)
	}

	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM sites GROUP BY status`)
	if err != nil {
		return store.Counts{}, mapError("count sites by status", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return store.Counts{}, mapError("scan status count", err)
		}
		counts.SitesByStatus[intel.SiteStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return store.Counts{}, mapError("count sites by status", err)
	}
	return counts, nil
}
