package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/sites"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

type createSiteRequest struct {
	Domain             string   `json:"domain"`
	Notes              string   `json:"notes"`
	BusinessValueScore *float64 `json:"business_value_score"`
}

type updateSiteRequest struct {
	Notes              *string  `json:"notes"`
	BusinessValueScore *float64 `json:"business_value_score"`
}

type siteResponse struct {
	intel.Site
	JobID string `json:"job_id,omitempty"`
}

func (s *Server) listSites(w http.ResponseWriter, r *http.Request) {
	var filter store.SiteFilter
	if status := queryString(r, "status"); status != nil {
		st := intel.SiteStatus(*status)
		filter.Status = &st
	}
	filter.Platform = queryString(r, "platform")
	limit, _, err := queryInt(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, _, err := queryInt(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter.Limit = limit
	filter.Offset = offset

	list, total, err := s.deps.Sites.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sites": list, "total": total})
}

func (s *Server) createSite(w http.ResponseWriter, r *http.Request) {
	var req createSiteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	site, job, err := s.deps.Sites.Create(r.Context(), sites.CreateRequest{
		Domain:             req.Domain,
		Notes:              req.Notes,
		BusinessValueScore: req.BusinessValueScore,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := siteResponse{Site: site}
	if job != nil {
		resp.JobID = job.ID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) getSite(w http.ResponseWriter, r *http.Request) {
	site, err := s.deps.Sites.Get(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) updateSite(w http.ResponseWriter, r *http.Request) {
	var req updateSiteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	site, err := s.deps.Sites.Update(r.Context(), chi.URLParam(r, "site_id"), sites.UpdateRequest{
		Notes:              req.Notes,
		BusinessValueScore: req.BusinessValueScore,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (s *Server) deleteSite(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sites.Delete(r.Context(), chi.URLParam(r, "site_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
