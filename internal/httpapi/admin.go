package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// crudResource captures the per-resource-kind PUT/DELETE pair under
// /api/admin/<kind>/:id, so mountAdminRoutes can register the five
// collection kinds (apps, models, tools, sources, groups) without repeating
// the route wiring five times.
type crudResource[T any] struct {
	kind   string
	put    func(r *http.Request, v T) (etag string, err error)
	delete func(r *http.Request, id string) (etag string, err error)
}

func (s *Server) mountAdminRoutes(r chi.Router) {
	r.Route("/apps", adminCRUDRoutes(crudResource[config.App]{
		kind: "apps",
		put:  func(req *http.Request, v config.App) (string, error) { return s.Admin.PutApp(req.Context(), v) },
		delete: func(req *http.Request, id string) (string, error) {
			return s.Admin.DeleteApp(req.Context(), id)
		},
	}))
	r.Route("/models", adminCRUDRoutes(crudResource[config.Model]{
		kind: "models",
		put:  func(req *http.Request, v config.Model) (string, error) { return s.Admin.PutModel(req.Context(), v) },
		delete: func(req *http.Request, id string) (string, error) {
			return s.Admin.DeleteModel(req.Context(), id)
		},
	}))
	r.Route("/tools", adminCRUDRoutes(crudResource[config.Tool]{
		kind: "tools",
		put:  func(req *http.Request, v config.Tool) (string, error) { return s.Admin.PutTool(req.Context(), v) },
		delete: func(req *http.Request, id string) (string, error) {
			return s.Admin.DeleteTool(req.Context(), id)
		},
	}))
	r.Route("/sources", adminCRUDRoutes(crudResource[config.Source]{
		kind: "sources",
		put:  func(req *http.Request, v config.Source) (string, error) { return s.Admin.PutSource(req.Context(), v) },
		delete: func(req *http.Request, id string) (string, error) {
			return s.Admin.DeleteSource(req.Context(), id)
		},
	}))
	r.Route("/groups", adminCRUDRoutes(crudResource[config.Group]{
		kind: "groups",
		put:  func(req *http.Request, v config.Group) (string, error) { return s.Admin.PutGroup(req.Context(), v) },
		delete: func(req *http.Request, id string) (string, error) {
			return s.Admin.DeleteGroup(req.Context(), id)
		},
	}))
	r.Put("/platform", s.putPlatform)
}

// adminCRUDRoutes builds the shared PUT-by-id/DELETE-by-id route pair for
// one resource kind.
func adminCRUDRoutes[T any](res crudResource[T]) func(chi.Router) {
	return func(r chi.Router) {
		r.Put("/{id}", func(w http.ResponseWriter, req *http.Request) {
			var v T
			if err := decodeJSON(req, &v); err != nil {
				writeError(w, err)
				return
			}
			etag, err := res.put(req, v)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("ETag", etag)
			writeJSON(w, http.StatusOK, map[string]string{"etag": etag})
		})
		r.Delete("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			etag, err := res.delete(req, id)
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("ETag", etag)
			writeJSON(w, http.StatusOK, map[string]string{"etag": etag})
		})
	}
}

func (s *Server) putPlatform(w http.ResponseWriter, r *http.Request) {
	var p config.PlatformConfig
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, err)
		return
	}
	etag, err := s.Admin.PutPlatform(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, map[string]string{"etag": etag})
}
