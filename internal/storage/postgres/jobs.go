package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

const jobColumns = `job_id, job_type, method, status, site_id, priority, attempt, max_retries,
	retry_of, created_at, started_at, finished_at, result, error`

func scanJob(row scanner) (intel.Job, error) {
	var (
		job             intel.Job
		jobType, status string
		result, jobErr  []byte
	)
	if err := row.Scan(
		&job.ID,
		&jobType,
		&job.Method,
		&status,
		&job.SiteID,
		&job.Priority,
		&job.Attempt,
		&job.MaxRetries,
		&job.RetryOf,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
		&result,
		&jobErr,
	); err != nil {
		return intel.Job{}, err
	}
	job.Type = intel.JobType(jobType)
	job.Status = intel.JobStatus(status)
	if len(result) > 0 && string(result) != "null" {
		job.Result = &intel.JobResult{}
		if err := unmarshalJSON(result, job.Result); err != nil {
			return intel.Job{}, err
		}
	}
	if len(jobErr) > 0 && string(jobErr) != "null" {
		job.Error = &intel.JobError{}
		if err := unmarshalJSON(jobErr, job.Error); err != nil {
			return intel.Job{}, err
		}
	}
	return job, nil
}

func optionalJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return marshalJSON(v)
}

// CreateJob inserts a job. The partial unique index on active (site, type)
// pairs rejects a second queued or running job as a conflict.
func (s *Store) CreateJob(ctx context.Context, job intel.Job) error {
	result, err := optionalJSON(job.Result)
	if err != nil {
		return err
	}
	jobErr, err := optionalJSON(job.Error)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		job.ID,
		string(job.Type),
		job.Method,
		string(job.Status),
		job.SiteID,
		job.Priority,
		job.Attempt,
		job.MaxRetries,
		job.RetryOf,
		job.CreatedAt,
		job.StartedAt,
		job.FinishedAt,
		result,
		jobErr,
	)
	if err != nil {
		mapped := mapError("insert job", err)
		if intel.KindOf(mapped) == intel.KindConflict {
			return intel.Conflict("job", "active %s job already exists for site %s", job.Type, job.SiteID)
		}
		return mapped
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (intel.Job, error) {
	return getJob(ctx, s.db, jobID, false)
}

func getJob(ctx context.Context, q querier, jobID string, lock bool) (intel.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	job, err := scanJob(q.QueryRow(ctx, query, jobID))
	if err != nil {
		return intel.Job{}, notFound("job", jobID, err)
	}
	return job, nil
}

// ListJobs returns matching jobs newest first. A zero limit returns every row.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]intel.Job, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != nil {
		args = append(args, string(*filter.Type))
		clauses = append(clauses, fmt.Sprintf("job_type = $%d", len(args)))
	}
	if filter.SiteID != "" {
		args = append(args, filter.SiteID)
		clauses = append(clauses, fmt.Sprintf("site_id = $%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	args = append(args, limitArg(filter.Limit))
	query += fmt.Sprintf(` ORDER BY created_at DESC, job_id DESC LIMIT $%d`, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list jobs", err)
	}
	defer rows.Close()
	out := make([]intel.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, mapError("scan job", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list jobs", err)
	}
	return out, nil
}

// TransitionJob performs a compare-and-swap on the job status under a row lock.
func (s *Store) TransitionJob(
	ctx context.Context,
	jobID string,
	from []intel.JobStatus,
	next intel.JobStatus,
	at time.Time,
	jobErr *intel.JobError,
) (intel.Job, error) {
	var current intel.Job
	var conflict error
	err := s.inTx(ctx, "transition job", func(tx pgx.Tx) error {
		job, err := getJob(ctx, tx, jobID, true)
		if err != nil {
			return err
		}
		current = job
		if !slices.Contains(from, job.Status) || !intel.CanTransition(job.Status, next) {
			conflict = intel.Conflict("job", "job %s is %s, cannot move to %s", jobID, job.Status, next)
			return nil
		}
		job.Status = next
		if next == intel.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = &at
		}
		if next.Terminal() {
			job.FinishedAt = &at
			job.Error = jobErr
		}
		if err := writeJob(ctx, tx, job); err != nil {
			return err
		}
		current = job
		return nil
	})
	if err != nil {
		return intel.Job{}, err
	}
	return current, conflict
}

// CompleteJob applies a terminal outcome and the site patch in one transaction.
func (s *Store) CompleteJob(ctx context.Context, jobID string, outcome intel.JobOutcome) (intel.Job, error) {
	var current intel.Job
	var conflict error
	err := s.inTx(ctx, "complete job", func(tx pgx.Tx) error {
		job, err := getJob(ctx, tx, jobID, true)
		if err != nil {
			return err
		}
		current = job
		if job.Status != intel.JobStatusRunning || !outcome.Status.Terminal() {
			conflict = intel.Conflict("job", "job %s is %s, cannot complete as %s", jobID, job.Status, outcome.Status)
			return nil
		}
		if outcome.SitePatch != nil && !outcome.SitePatch.Empty() {
			site, err := s.getSite(ctx, tx, job.SiteID, true)
			if err != nil {
				return err
			}
			outcome.SitePatch.Apply(&site)
			site.UpdatedAt = outcome.FinishedAt
			if err := writeSite(ctx, tx, site); err != nil {
				return err
			}
		}
		finished := outcome.FinishedAt
		job.Status = outcome.Status
		job.FinishedAt = &finished
		job.Result = outcome.Result
		job.Error = outcome.Error
		if err := writeJob(ctx, tx, job); err != nil {
			return err
		}
		current = job
		return nil
	})
	if err != nil {
		return intel.Job{}, err
	}
	return current, conflict
}

func writeJob(ctx context.Context, q querier, job intel.Job) error {
	result, err := optionalJSON(job.Result)
	if err != nil {
		return err
	}
	jobErr, err := optionalJSON(job.Error)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE jobs SET
		status = $2,
		started_at = $3,
		finished_at = $4,
		result = $5,
		error = $6
		WHERE job_id = $1`,
		job.ID,
		string(job.Status),
		job.StartedAt,
		job.FinishedAt,
		result,
		jobErr,
	)
	return mapError("update job", err)
}
