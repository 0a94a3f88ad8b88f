package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Analytics.Dashboard(r.Context(), r.URL.Query().Get("date_range"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) methodPerformance(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Analytics.MethodPerformance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"methods": stats})
}

func (s *Server) siteMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Analytics.SiteMetrics(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
