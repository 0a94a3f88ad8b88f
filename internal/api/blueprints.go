package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/blueprint"
)

type rollbackRequest struct {
	Version int `json:"version"`
}

func (s *Server) listBlueprints(w http.ResponseWriter, r *http.Request) {
	siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
	if siteID == "" {
		s.badRequest(w, r, "site_id", "is required")
		return
	}
	list, err := s.deps.Blueprints.ListBlueprints(r.Context(), siteID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blueprints": list})
}

func (s *Server) getBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, err := s.deps.Blueprints.GetBlueprint(r.Context(), chi.URLParam(r, "blueprint_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) exportBlueprint(w http.ResponseWriter, r *http.Request) {
	format, err := blueprint.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bp, err := s.deps.Blueprints.GetBlueprint(r.Context(), chi.URLParam(r, "blueprint_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := blueprint.Export(bp, format, s.deps.Clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", blueprint.ContentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, blueprint.Filename(bp, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Warn("write export failed", zap.String("blueprint_id", bp.ID), zap.Error(err))
	}
}

func (s *Server) latestBlueprint(w http.ResponseWriter, r *http.Request) {
	bp, err := s.deps.Blueprints.LatestBlueprint(r.Context(), chi.URLParam(r, "site_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) rollbackBlueprint(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	bp, err := s.deps.BlueprintWrite.Rollback(r.Context(), chi.URLParam(r, "site_id"), req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bp)
}
