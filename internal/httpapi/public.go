package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
)

// listApps handles GET /api/apps.
func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())
	result := s.Cache.Apps(view)
	writeETagged(w, r, result.ETag, result.Data)
}

// getApp handles GET /api/apps/:id.
func (s *Server) getApp(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())
	id := chi.URLParam(r, "id")
	app, ok := s.Cache.App(view, id)
	if !ok {
		writeError(w, apierror.New(apierror.CodeNotFound, "app not found"))
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// listModels handles GET /api/models.
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	view := viewFromContext(r.Context())
	result := s.Cache.Models(view)
	writeETagged(w, r, result.ETag, result.Data)
}

// listTools handles GET /api/tools. Tools are not permission-filtered
// themselves so the global
// ETag is used directly rather than a per-view composed one.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	writeETagged(w, r, s.Cache.GlobalETag("tools"), s.Cache.Tools())
}

// listSources handles GET /api/sources.
func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	writeETagged(w, r, s.Cache.GlobalETag("sources"), s.Cache.Sources())
}

// blobHandler returns a handler serving one of the singleton UI-facing
// config documents (prompts.json, styles.json, ui.json, features.json)
// verbatim, ETag-gated on its own content.
func (s *Server) blobHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.Cache.Blob(name)
		if !ok {
			writeError(w, apierror.New(apierror.CodeNotFound, name+" config is not available"))
			return
		}
		writeETagged(w, r, s.Cache.GlobalETag(name), data)
	}
}

// getTranslations handles GET /api/translations/:lang.
func (s *Server) getTranslations(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")
	data, ok := s.Cache.Translation(lang)
	if !ok {
		writeError(w, apierror.New(apierror.CodeNotFound, "no translations for language "+lang))
		return
	}
	writeETagged(w, r, s.Cache.GlobalETag("translations"), data)
}

// getPlatformConfig handles GET /api/configs/platform. The admin secret and
// per-bucket internals are not considered UI-facing config; only the fields
// a client needs to render itself are exposed.
func (s *Server) getPlatformConfig(w http.ResponseWriter, r *http.Request) {
	p := s.Cache.Platform()
	type publicPlatform struct {
		AnonymousAuth bool `json:"anonymousAuth"`
		MaxToolLoopDepth int `json:"maxToolLoopDepth"`
	}
	body := publicPlatform{AnonymousAuth: p.AnonymousAuth, MaxToolLoopDepth: p.MaxToolLoopDepth}
	writeETagged(w, r, s.Cache.GlobalETag("platform"), body)
}
