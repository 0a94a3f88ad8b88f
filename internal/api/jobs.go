package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/web-intel-platform/internal/engine"
	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

type submitJobRequest struct {
	SiteID   string  `json:"site_id"`
	JobType  string  `json:"job_type"`
	Method   *string `json:"method"`
	Priority int     `json:"priority"`
}

// jobResponse adds the presentation-only progress percentage.
type jobResponse struct {
	intel.Job
	Progress int `json:"progress"`
}

func toJobResponse(job intel.Job) jobResponse {
	return jobResponse{Job: job, Progress: intel.ProgressPercent(job.Status)}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var filter store.JobFilter
	if status := queryString(r, "status"); status != nil {
		st := intel.JobStatus(*status)
		if !st.Valid() {
			s.badRequest(w, r, "status", "unknown job status")
			return
		}
		filter.Status = &st
	}
	if typ := queryString(r, "job_type"); typ != nil {
		jt := intel.JobType(*typ)
		if !jt.Valid() {
			s.badRequest(w, r, "job_type", "unknown job type")
			return
		}
		filter.Type = &jt
	}
	if site := queryString(r, "site_id"); site != nil {
		filter.SiteID = *site
	}
	limit, _, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Limit = limit

	jobs, err := s.deps.Jobs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Submit(r.Context(), engine.Submission{
		SiteID:   req.SiteID,
		Type:     intel.JobType(req.JobType),
		Method:   req.Method,
		Priority: req.Priority,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) jobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.deps.Jobs.Get(r.Context(), jobID); err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.deps.Events.ListJobEvents(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "events": events})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Cancel(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Retry(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}
