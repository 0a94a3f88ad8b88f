package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	filter := store.TemplateFilter{PlatformName: queryString(r, "platform_name")}
	if raw := queryString(r, "active"); raw != nil {
		active, err := strconv.ParseBool(*raw)
		if err != nil {
			s.badRequest(w, r, "active", "must be a boolean")
			return
		}
		filter.Active = &active
	}
	list, err := s.deps.Templates.ListTemplates(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": list, "total": len(list)})
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.deps.Templates.GetTemplate(r.Context(), chi.URLParam(r, "template_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) bestTemplate(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform_name")
	active := true
	list, err := s.deps.Templates.ListTemplates(r.Context(), store.TemplateFilter{PlatformName: &platform, Active: &active})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	best, ok := templates.Best(list, platform, r.URL.Query().Get("variant"))
	if !ok {
		s.writeError(w, r, intel.NotFound("template for platform", platform))
		return
	}
	writeJSON(w, http.StatusOK, best)
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.decodeTemplate(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(tmpl.ID) == "" {
		id, err := s.deps.IDs.NewID()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		tmpl.ID = "tmpl-" + id
	}
	now := s.deps.Clock.Now()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if err := s.deps.Templates.CreateTemplate(r.Context(), tmpl); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.refreshCatalog(r)
	writeJSON(w, http.StatusCreated, tmpl)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, ok := s.decodeTemplate(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "template_id")
	if tmpl.ID != "" && tmpl.ID != id {
		s.badRequest(w, r, "template_id", "does not match the URL")
		return
	}
	existing, err := s.deps.Templates.GetTemplate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tmpl.ID = id
	tmpl.CreatedAt = existing.CreatedAt
	tmpl.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Templates.UpdateTemplate(r.Context(), tmpl); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.refreshCatalog(r)
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Templates.DeleteTemplate(r.Context(), chi.URLParam(r, "template_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.refreshCatalog(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decodeTemplate(w http.ResponseWriter, r *http.Request) (intel.Template, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.badRequest(w, r, "body", err.Error())
		return intel.Template{}, false
	}
	tmpl, err := templates.Decode(body)
	if err != nil {
		s.writeError(w, r, err)
		return intel.Template{}, false
	}
	return tmpl, true
}

// refreshCatalog reloads the match snapshot. A failure keeps the previous
// snapshot and is only logged; the write itself already succeeded.
func (s *Server) refreshCatalog(r *http.Request) {
	if s.deps.Catalog == nil {
		return
	}
	if err := s.deps.Catalog.Refresh(r.Context()); err != nil {
		s.logger.Warn("template catalog refresh failed", zap.Error(err))
	}
}
