package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

var siteCols = []string{
	"site_id", "domain", "platform", "status", "complexity_score", "business_value_score",
	"blueprint_version", "fingerprint_data", "notes", "created_at", "updated_at",
}

func siteRow(version int) *pgxmock.Rows {
	return pgxmock.NewRows(siteCols).AddRow(
		"site-1", "shop.example.com", (*string)(nil), "pending", (*float64)(nil), (*float64)(nil),
		version, []byte(nil), "", testNow, testNow,
	)
}

var jobCols = []string{
	"job_id", "job_type", "method", "status", "site_id", "priority", "attempt", "max_retries",
	"retry_of", "created_at", "started_at", "finished_at", "result", "error",
}

func jobRow(status intel.JobStatus) *pgxmock.Rows {
	started := testNow
	return pgxmock.NewRows(jobCols).AddRow(
		"job-1", "discovery", (*string)(nil), string(status), "site-1", 0, 1, 3,
		"", testNow, &started, (*time.Time)(nil), []byte(nil), []byte(nil),
	)
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrateExecutesSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sites").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Contains(t, Schema(), "jobs_active_site_type_idx")
}

func TestAppendBlueprintAssignsNextVersionInTransaction(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM sites WHERE site_id = \\$1 FOR UPDATE").
		WithArgs("site-1").
		WillReturnRows(siteRow(2))
	mock.ExpectExec("INSERT INTO blueprints").
		WithArgs("bp-3", "site-1", 3,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"tmpl-shopify", "builder", "", 1, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE sites SET").
		WithArgs("site-1", pgxmock.AnyArg(), "ready", pgxmock.AnyArg(), pgxmock.AnyArg(), 3,
			pgxmock.AnyArg(), "", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	confidence := 0.9
	ready := intel.SiteStatusReady
	bp, err := s.AppendBlueprint(context.Background(), intel.Blueprint{
		ID:            "bp-3",
		SiteID:        "site-1",
		Confidence:    &confidence,
		TemplateID:    "tmpl-shopify",
		CreatedBy:     "builder",
		SchemaVersion: 1,
		CreatedAt:     testNow,
	}, intel.SitePatch{Status: &ready})
	require.NoError(t, err)
	require.Equal(t, 3, bp.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendBlueprintRollsBackWhenSiteMissing(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM sites WHERE site_id").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.AppendBlueprint(context.Background(), intel.Blueprint{ID: "bp-1", SiteID: "ghost"}, intel.SitePatch{})
	require.ErrorIs(t, err, intel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSiteMapsUniqueViolationToConflict(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO sites").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "sites_domain_key"})

	err := s.CreateSite(context.Background(), intel.Site{ID: "site-2", Domain: "shop.example.com", Status: intel.SiteStatusPending})
	require.ErrorIs(t, err, intel.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobRejectsSecondActiveJob(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "jobs_active_site_type_idx"})

	err := s.CreateJob(context.Background(), intel.Job{
		ID: "job-2", Type: intel.JobTypeDiscovery, Status: intel.JobStatusQueued, SiteID: "site-1", CreatedAt: testNow,
	})
	require.ErrorIs(t, err, intel.ErrConflict)
	require.Contains(t, err.Error(), "active discovery job")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteErrorMapping(t *testing.T) {
	t.Parallel()

	t.Run("no rows is not found", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM sites WHERE site_id").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

		_, err := s.GetSite(context.Background(), "missing")
		require.ErrorIs(t, err, intel.ErrNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection failure is a dependency error", func(t *testing.T) {
		t.Parallel()
		s, mock := newMockStore(t)
		mock.ExpectQuery("FROM sites WHERE site_id").WithArgs("site-1").WillReturnError(errors.New("connection refused"))

		_, err := s.GetSite(context.Background(), "site-1")
		require.ErrorIs(t, err, intel.ErrDependency)
	})
}

func TestGetSiteScansRow(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM sites WHERE site_id").WithArgs("site-1").WillReturnRows(siteRow(4))

	site, err := s.GetSite(context.Background(), "site-1")
	require.NoError(t, err)
	require.Equal(t, "shop.example.com", site.Domain)
	require.Equal(t, intel.SiteStatusPending, site.Status)
	require.Equal(t, 4, site.BlueprintVersion)
	require.Nil(t, site.Fingerprint)
}

func TestTransitionJobReturnsCurrentJobOnConflict(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM jobs WHERE job_id = \\$1 FOR UPDATE").
		WithArgs("job-1").
		WillReturnRows(jobRow(intel.JobStatusRunning))
	mock.ExpectCommit()

	job, err := s.TransitionJob(context.Background(), "job-1",
		[]intel.JobStatus{intel.JobStatusQueued}, intel.JobStatusRunning, testNow, nil)
	require.ErrorIs(t, err, intel.ErrConflict)
	require.Equal(t, intel.JobStatusRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionJobWritesNewStatus(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM jobs WHERE job_id = \\$1 FOR UPDATE").
		WithArgs("job-1").
		WillReturnRows(jobRow(intel.JobStatusRunning))
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("job-1", "failed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	job, err := s.TransitionJob(context.Background(), "job-1",
		[]intel.JobStatus{intel.JobStatusQueued, intel.JobStatusRunning}, intel.JobStatusFailed, testNow,
		&intel.JobError{Kind: intel.KindCancellation, Message: "canceled by user"})
	require.NoError(t, err)
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.NotNil(t, job.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteJobAppliesSitePatch(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM jobs WHERE job_id").WithArgs("job-1").WillReturnRows(jobRow(intel.JobStatusRunning))
	mock.ExpectQuery("FROM sites WHERE site_id").WithArgs("site-1").WillReturnRows(siteRow(1))
	mock.ExpectExec("UPDATE sites SET").
		WithArgs("site-1", pgxmock.AnyArg(), "failed", pgxmock.AnyArg(), pgxmock.AnyArg(), 1,
			pgxmock.AnyArg(), "", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	failed := intel.SiteStatusFailed
	job, err := s.CompleteJob(context.Background(), "job-1", intel.JobOutcome{
		Status:     intel.JobStatusFailed,
		Error:      &intel.JobError{Kind: intel.KindDependency, Message: "probe failed"},
		FinishedAt: testNow,
		SitePatch:  &intel.SitePatch{Status: &failed},
	})
	require.NoError(t, err)
	require.Equal(t, intel.JobStatusFailed, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSiteNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM sites").WithArgs("ghost").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteSite(context.Background(), "ghost")
	require.ErrorIs(t, err, intel.ErrNotFound)
}

func TestListSitesCountsAndPages(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	pending := intel.SiteStatusPending
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM sites WHERE status = \\$1").
		WithArgs("pending").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery("ORDER BY created_at DESC, site_id DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("pending", store.MaxLimit, 5).
		WillReturnRows(siteRow(0))

	sites, total, err := s.ListSites(context.Background(), store.SiteFilter{Status: &pending, Limit: 500, Offset: 5})
	require.NoError(t, err)
	require.Equal(t, 7, total)
	require.Len(t, sites, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountsAggregates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT\\s+\\(SELECT count").
		WillReturnRows(pgxmock.NewRows([]string{"sites", "active", "blueprints"}).AddRow(3, 1, 4))
	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow("ready", 2).AddRow("pending", 1))

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, counts.Sites)
	require.Equal(t, 1, counts.ActiveJobs)
	require.Equal(t, 4, counts.Blueprints)
	require.Equal(t, 2, counts.SitesByStatus[intel.SiteStatusReady])
}
