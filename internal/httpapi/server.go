package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/intrafind/ihub-apps-sub002/internal/admin"
	"github.com/intrafind/ihub-apps-sub002/internal/auth"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/orchestrator"
	"github.com/intrafind/ihub-apps-sub002/internal/ratelimit"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
)

// Server bundles every collaborator the HTTP transport drives. It holds no
// business logic of its own — every handler in this package delegates to
// one of these fields.
type Server struct {
	Cache        *config.Cache
	Resolver     *authz.Resolver
	Admin        *admin.Manager
	Orchestrator *orchestrator.Orchestrator
	Hub          *stream.Hub
	RateLimit    *ratelimit.Limiter
	JWT          *auth.JWTService
	AuthMode     auth.AuthMode
	AdminSecret  string
	Logger       telemetry.Logger
}

// NewServer constructs a Server from its dependencies, filling in a no-op
// logger when one isn't supplied.
func NewServer(s Server) *Server {
	if s.Logger == nil {
		s.Logger = telemetry.NoopLogger{}
	}
	srv := s
	return &srv
}

// Router builds the chi router for the full public+admin+auth+chat surface.
// Each route group is wrapped with its rate-limit bucket
// (public/admin/auth/inference) and the user-resolving
// middleware that attaches the caller's authz.User and config.UserView to
// the request context.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withUser)

	r.Route("/api", func(r chi.Router) {
		r.Get("/apps", s.rateLimited(ratelimit.BucketPublic, s.listApps))
		r.Get("/apps/{id}", s.rateLimited(ratelimit.BucketPublic, s.getApp))
		r.Get("/models", s.rateLimited(ratelimit.BucketPublic, s.listModels))
		r.Get("/prompts", s.rateLimited(ratelimit.BucketPublic, s.blobHandler("prompts")))
		r.Get("/tools", s.rateLimited(ratelimit.BucketPublic, s.listTools))
		r.Get("/styles", s.rateLimited(ratelimit.BucketPublic, s.blobHandler("styles")))
		r.Get("/translations/{lang}", s.rateLimited(ratelimit.BucketPublic, s.getTranslations))
		r.Get("/configs/ui", s.rateLimited(ratelimit.BucketPublic, s.blobHandler("ui")))
		r.Get("/configs/platform", s.rateLimited(ratelimit.BucketPublic, s.getPlatformConfig))

		r.Route("/apps/{appId}/chat/{chatId}", func(r chi.Router) {
			r.Post("/", s.rateLimited(ratelimit.BucketInference, s.postChat))
			r.Get("/", s.rateLimited(ratelimit.BucketInference, s.getChat))
			r.Post("/stop", s.rateLimited(ratelimit.BucketInference, s.stopChat))
			r.Get("/status", s.rateLimited(ratelimit.BucketPublic, s.statusChat))
		})

		r.Get("/auth/status", s.rateLimited(ratelimit.BucketAuth, s.authStatus))
		r.Post("/auth/local/login", s.rateLimited(ratelimit.BucketAuth, s.loginLocal))
		r.Post("/auth/ntlm/login", s.rateLimited(ratelimit.BucketAuth, s.stubProviderLogin("ntlm")))
		r.Post("/auth/oidc/login", s.rateLimited(ratelimit.BucketAuth, s.stubProviderLogin("oidc")))
		r.Post("/auth/proxy/login", s.rateLimited(ratelimit.BucketAuth, s.stubProviderLogin("proxy")))

		r.Route("/admin", func(r chi.Router) {
			r.Use(func(next http.Handler) http.Handler {
				return requireAdminMiddleware(s, next)
			})
			s.mountAdminRoutes(r)
		})
	})

	return r
}

// requireAdminMiddleware gates every /api/admin/* route behind adminAccess,
// additionally rate-limiting admin requests under the admin bucket regardless
// of which sub-route is hit, then delegating the adminAccess check itself to
// requireAdmin.
func requireAdminMiddleware(s *Server, next http.Handler) http.Handler {
	gated := requireAdmin(func(w http.ResponseWriter, r *http.Request) { next.ServeHTTP(w, r) })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := s.RateLimit.Allow(ratelimit.BucketAdmin, ratelimit.ClientIP(r))
		ratelimit.WriteHeaders(w, decision)
		if !decision.Allowed {
			writeError(w, rateLimitErr())
			return
		}
		gated(w, r)
	})
}
