package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/analytics"
	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/metrics"
	"github.com/JakeFAU/web-intel-platform/internal/sites"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// DefaultRequestTimeout bounds every handler.
const DefaultRequestTimeout = 30 * time.Second

// SiteService manages the registry.
type SiteService interface {
	Create(ctx context.Context, req sites.CreateRequest) (intel.Site, *intel.Job, error)
	Get(ctx context.Context, siteID string) (intel.Site, error)
	List(ctx context.Context, filter store.SiteFilter) ([]intel.Site, int, error)
	Update(ctx context.Context, siteID string, req sites.UpdateRequest) (intel.Site, error)
	Delete(ctx context.Context, siteID string) error
}

// JobService drives the job state machine.
type JobService interface {
	Submit(ctx context.Context, sub engine.Submission) (intel.Job, error)
	Get(ctx context.Context, jobID string) (intel.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]intel.Job, error)
	Cancel(ctx context.Context, jobID string) (intel.Job, error)
	Retry(ctx context.Context, jobID string) (intel.Job, error)
}

// BlueprintWriter creates new blueprint versions.
type BlueprintWriter interface {
	Rollback(ctx context.Context, siteID string, version int) (intel.Blueprint, error)
}

// Analytics answers reporting queries.
type Analytics interface {
	Dashboard(ctx context.Context, dateRange string) (analytics.Dashboard, error)
	MethodPerformance(ctx context.Context) ([]analytics.MethodStats, error)
	SiteMetrics(ctx context.Context, siteID string) (analytics.SiteMetrics, error)
}

// Refresher reloads the template snapshot after a mutation.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps wires a Server.
type Deps struct {
	Sites          SiteService
	Jobs           JobService
	Blueprints     store.BlueprintRepository
	BlueprintWrite BlueprintWriter
	Templates      store.TemplateRepository
	Catalog        Refresher
	Events         store.EventRepository
	Analytics      Analytics
	IDs            intel.IDGenerator
	Clock          intel.Clock
	Logger         *zap.Logger
	Ready          map[string]ReadinessCheck
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the services.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = DefaultRequestTimeout
	}
	metrics.Init()
	s := &Server{deps: deps, logger: deps.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(deps.RequestTimeout))

		r.Route("/sites", func(r chi.Router) {
			r.Get("/", s.listSites)
			r.Post("/", s.createSite)
			r.Route("/{site_id}", func(r chi.Router) {
				r.Get("/", s.getSite)
				r.Put("/", s.updateSite)
				r.Delete("/", s.deleteSite)
				r.Get("/blueprints/latest", s.latestBlueprint)
				r.Post("/blueprints/rollback", s.rollbackBlueprint)
			})
		})

		r.Route("/blueprints", func(r chi.Router) {
			r.Get("/", s.listBlueprints)
			r.Get("/{blueprint_id}", s.getBlueprint)
			r.Get("/{blueprint_id}/export", s.exportBlueprint)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/events", s.jobEvents)
				r.Post("/cancel", s.cancelJob)
				r.Post("/retry", s.retryJob)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", s.listTemplates)
			r.Post("/", s.createTemplate)
			r.Get("/platform/{platform_name}/best", s.bestTemplate)
			r.Get("/{template_id}", s.getTemplate)
			r.Put("/{template_id}", s.updateTemplate)
			r.Delete("/{template_id}", s.deleteTemplate)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/dashboard", s.dashboard)
			r.Get("/methods/performance", s.methodPerformance)
			r.Get("/sites/{site_id}/metrics", s.siteMetrics)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := make(map[string]string)
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
