package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

var baseTime = time.Unix(1700000000, 0).UTC()

func seedSite(t *testing.T, s *Store, id, domain string) intel.Site {
	t.Helper()
	site := intel.Site{ID: id, Domain: domain, Status: intel.SiteStatusPending, CreatedAt: baseTime, UpdatedAt: baseTime}
	if err := s.CreateSite(context.Background(), site); err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}
	return site
}

func TestSiteLifecycle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	seedSite(t, s, "s1", "shop.example.com")

	err := s.CreateSite(ctx, intel.Site{ID: "s2", Domain: "shop.example.com"})
	if !errors.Is(err, intel.ErrConflict) {
		t.Fatalf("expected conflict for duplicate domain, got %v", err)
	}

	notes := "priority merchant"
	updated, err := s.UpdateSite(ctx, "s1", intel.SitePatch{Notes: &notes}, baseTime.Add(time.Minute))
	if err != nil {
		t.Fatalf("UpdateSite() error = %v", err)
	}
	if updated.Notes != notes || !updated.UpdatedAt.Equal(baseTime.Add(time.Minute)) {
		t.Fatalf("unexpected update result %+v", updated)
	}

	if _, err := s.AppendBlueprint(ctx, intel.Blueprint{ID: "b1", SiteID: "s1"}, intel.SitePatch{}); err != nil {
		t.Fatalf("AppendBlueprint() error = %v", err)
	}
	if err := s.DeleteSite(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSite() error = %v", err)
	}
	if _, err := s.GetSite(ctx, "s1"); !errors.Is(err, intel.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := s.GetBlueprint(ctx, "b1"); !errors.Is(err, intel.ErrNotFound) {
		t.Fatalf("expected blueprint history removed, got %v", err)
	}
	// Domain is free again once the site is gone.
	seedSite(t, s, "s3", "shop.example.com")
}

func TestListSitesFiltersAndPaginates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	shopify := "shopify"
	for i := 0; i < 5; i++ {
		site := intel.Site{
			ID:        fmt.Sprintf("s%d", i),
			Domain:    fmt.Sprintf("shop%d.example.com", i),
			Status:    intel.SiteStatusPending,
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 0 {
			site.Platform = &shopify
			site.Status = intel.SiteStatusReady
		}
		if err := s.CreateSite(ctx, site); err != nil {
			t.Fatalf("CreateSite() error = %v", err)
		}
	}

	ready := intel.SiteStatusReady
	sites, total, err := s.ListSites(ctx, store.SiteFilter{Status: &ready, Platform: &shopify})
	if err != nil || total != 3 || len(sites) != 3 {
		t.Fatalf("ListSites() = %d/%d err=%v", len(sites), total, err)
	}
	if sites[0].ID != "s4" || sites[2].ID != "s0" {
		t.Fatalf("expected newest first, got %s..%s", sites[0].ID, sites[2].ID)
	}

	page, total, err := s.ListSites(ctx, store.SiteFilter{Limit: 2, Offset: 4})
	if err != nil || total != 5 || len(page) != 1 || page[0].ID != "s0" {
		t.Fatalf("unexpected last page %+v total=%d err=%v", page, total, err)
	}
	empty, _, _ := s.ListSites(ctx, store.SiteFilter{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestAppendBlueprintVersionsContiguousUnderConcurrency(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	seedSite(t, s, "s1", "shop.example.com")

	const builders = 32
	var wg sync.WaitGroup
	errs := make(chan error, builders)
	for i := 0; i < builders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := intel.SiteStatusReview
			_, err := s.AppendBlueprint(ctx, intel.Blueprint{
				ID:        fmt.Sprintf("b%02d", i),
				SiteID:    "s1",
				CreatedAt: baseTime,
			}, intel.SitePatch{Status: &status})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("AppendBlueprint() error = %v", err)
		}
	}

	history, err := s.ListBlueprints(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBlueprints() error = %v", err)
	}
	if len(history) != builders {
		t.Fatalf("expected %d blueprints, got %d", builders, len(history))
	}
	for i, bp := range history {
		if want := builders - i; bp.Version != want {
			t.Fatalf("history[%d].Version = %d, want %d", i, bp.Version, want)
		}
	}
	site, _ := s.GetSite(ctx, "s1")
	if site.BlueprintVersion != builders || site.Status != intel.SiteStatusReview {
		t.Fatalf("site not in sync with history: %+v", site)
	}
	latest, err := s.LatestBlueprint(ctx, "s1")
	if err != nil || latest.Version != builders {
		t.Fatalf("LatestBlueprint() = %d err=%v", latest.Version, err)
	}
	v3, err := s.GetBlueprintVersion(ctx, "s1", 3)
	if err != nil || v3.Version != 3 {
		t.Fatalf("GetBlueprintVersion(3) = %d err=%v", v3.Version, err)
	}
	if _, err := s.GetBlueprintVersion(ctx, "s1", builders+1); !errors.Is(err, intel.ErrNotFound) {
		t.Fatalf("expected not found for missing version, got %v", err)
	}
}

func TestAppendBlueprintUnknownSite(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.AppendBlueprint(context.Background(), intel.Blueprint{ID: "b1", SiteID: "nope"}, intel.SitePatch{})
	if !errors.Is(err, intel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.LatestBlueprint(context.Background(), "nope"); !errors.Is(err, intel.ErrNotFound) {
		t.Fatalf("expected not found latest, got %v", err)
	}
}

func TestCreateJobAllowsOneActivePerSiteAndType(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	seedSite(t, s, "s1", "shop.example.com")

	const attempts = 16
	var wg sync.WaitGroup
	var created atomic.Int32
	var conflicts atomic.Int32
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.CreateJob(ctx, intel.Job{
				ID:     fmt.Sprintf("j%d", i),
				Type:   intel.JobTypeDiscovery,
				Status: intel.JobStatusQueued,
				SiteID: "s1",
			})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, intel.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()
	if created.Load() != 1 || conflicts.Load() != attempts-1 {
		t.Fatalf("created=%d conflicts=%d", created.Load(), conflicts.Load())
	}

	// A different job type for the same site is independent.
	if err := s.CreateJob(ctx, intel.Job{ID: "fp", Type: intel.JobTypeFingerprint, Status: intel.JobStatusQueued, SiteID: "s1"}); err != nil {
		t.Fatalf("CreateJob(fingerprint) error = %v", err)
	}
	counts, _ := s.Counts(ctx)
	if counts.ActiveJobs != 2 || counts.Sites != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestTransitionAndCompleteJob(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	seedSite(t, s, "s1", "shop.example.com")
	job := intel.Job{ID: "j1", Type: intel.JobTypeFingerprint, Status: intel.JobStatusQueued, SiteID: "s1", CreatedAt: baseTime}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	if _, err := s.CompleteJob(ctx, "j1", intel.JobOutcome{Status: intel.JobStatusSuccess, FinishedAt: baseTime}); !errors.Is(err, intel.ErrConflict) {
		t.Fatalf("expected conflict completing a queued job, got %v", err)
	}

	running, err := s.TransitionJob(ctx, "j1", []intel.JobStatus{intel.JobStatusQueued}, intel.JobStatusRunning, baseTime.Add(time.Second), nil)
	if err != nil || running.StartedAt == nil {
		t.Fatalf("TransitionJob(running) = %+v err=%v", running, err)
	}

	fp := intel.Fingerprint{
		SchemaVersion:      intel.SchemaVersion,
		Technologies:       map[string]intel.Technology{"shopify": {Category: intel.TechCategoryPlatform}},
		Platform:           "shopify",
		ComplexityScore:    0.3,
		BusinessValueScore: 0.8,
	}
	patch := intel.FingerprintPatch(fp)
	done, err := s.CompleteJob(ctx, "j1", intel.JobOutcome{
		Status:     intel.JobStatusSuccess,
		Result:     &intel.JobResult{Platform: "shopify"},
		FinishedAt: baseTime.Add(2 * time.Second),
		SitePatch:  &patch,
	})
	if err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
	if done.Status != intel.JobStatusSuccess || done.FinishedAt == nil || done.Result == nil {
		t.Fatalf("unexpected completed job %+v", done)
	}
	site, _ := s.GetSite(ctx, "s1")
	if site.Platform == nil || *site.Platform != "shopify" || site.Fingerprint == nil {
		t.Fatalf("site patch not applied: %+v", site)
	}

	if _, err := s.TransitionJob(ctx, "j1", []intel.JobStatus{intel.JobStatusQueued, intel.JobStatusRunning}, intel.JobStatusFailed, baseTime, nil); !errors.Is(err, intel.ErrConflict) {
		t.Fatalf("expected conflict leaving terminal state, got %v", err)
	}

	// The slot is free once the job is terminal.
	if err := s.CreateJob(ctx, intel.Job{ID: "j2", Type: intel.JobTypeFingerprint, Status: intel.JobStatusQueued, SiteID: "s1"}); err != nil {
		t.Fatalf("CreateJob() after completion error = %v", err)
	}
}

func TestListJobsFilters(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	for i, jt := range []intel.JobType{intel.JobTypeFingerprint, intel.JobTypeDiscovery, intel.JobTypeExtraction} {
		job := intel.Job{
			ID:        fmt.Sprintf("j%d", i),
			Type:      jt,
			Status:    intel.JobStatusQueued,
			SiteID:    fmt.Sprintf("s%d", i),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Hour),
		}
		if err := s.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}
	}
	discovery := intel.JobTypeDiscovery
	jobs, _ := s.ListJobs(ctx, store.JobFilter{Type: &discovery})
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("type filter returned %+v", jobs)
	}
	since := baseTime.Add(90 * time.Minute)
	jobs, _ = s.ListJobs(ctx, store.JobFilter{Since: &since})
	if len(jobs) != 1 || jobs[0].ID != "j2" {
		t.Fatalf("since filter returned %+v", jobs)
	}
	jobs, _ = s.ListJobs(ctx, store.JobFilter{Limit: 2})
	if len(jobs) != 2 || jobs[0].ID != "j2" {
		t.Fatalf("limit/order returned %+v", jobs)
	}
}

func TestTemplatesAndEvents(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	tmpl := intel.Template{ID: "t1", PlatformName: "shopify", Active: true, CreatedAt: baseTime}
	if err := s.CreateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if err := s.CreateTemplate(ctx, tmpl); !errors.Is(err, intel.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	tmpl.Active = false
	tmpl.CreatedAt = time.Time{}
	if err := s.UpdateTemplate(ctx, tmpl); err != nil {
		t.Fatalf("UpdateTemplate() error = %v", err)
	}
	got, _ := s.GetTemplate(ctx, "t1")
	if got.Active || !got.CreatedAt.Equal(baseTime) {
		t.Fatalf("unexpected template after update %+v", got)
	}
	active := true
	list, _ := s.ListTemplates(ctx, store.TemplateFilter{Active: &active})
	if len(list) != 0 {
		t.Fatalf("expected inactive template filtered, got %d", len(list))
	}
	if err := s.DeleteTemplate(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if err := s.DeleteTemplate(ctx, "t1"); !errors.Is(err, intel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	events := []intel.JobEvent{
		{JobID: "j1", Stage: "JOB_DONE", At: baseTime.Add(time.Second)},
		{JobID: "j1", Stage: "JOB_START", At: baseTime},
	}
	if err := s.AppendJobEvents(ctx, events); err != nil {
		t.Fatalf("AppendJobEvents() error = %v", err)
	}
	timeline, _ := s.ListJobEvents(ctx, "j1")
	if len(timeline) != 2 || timeline[0].Stage != "JOB_START" {
		t.Fatalf("unexpected timeline %+v", timeline)
	}
}
