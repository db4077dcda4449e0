package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/auth"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/ratelimit"
)

// userFromRequest resolves the calling authz.User for r: a valid
// bearer JWT wins; the anonymous-mode admin secret escape hatch grants admin
// access without a session token; anything else falls back to
// authz.AnonymousUser.
func (s *Server) userFromRequest(r *http.Request) *authz.User {
	authHeader := r.Header.Get("Authorization")
	token, hasBearer := strings.CutPrefix(authHeader, "Bearer ")
	if !hasBearer || token == "" {
		return authz.AnonymousUser()
	}

	if s.JWT != nil {
		if user, err := s.JWT.Validate(token); err == nil {
			return user
		}
	}

	if auth.AdminSecretMatches(s.AuthMode, s.AdminSecret, token) {
		return &authz.User{ID: "admin-secret", Authenticated: true, AuthMethod: "admin-secret", Groups: []string{authz.AnonymousGroupID}}
	}

	return authz.AnonymousUser()
}

// withUser resolves the request's user and authorization view, attaching
// both to the request context for downstream handlers.
func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := s.userFromRequest(r)
		snap := s.Cache.Snapshot()
		view, _ := s.Resolver.ViewFor(r.Context(), snap.Groups, user.Provider, user, snap.Platform.DefaultGroups)
		// The admin secret carries admin access directly; it maps to no group.
		// Valid only while the gateway is in anonymous mode — the AuthMethod
		// is only ever set after AdminSecretMatches has verified the mode, but
		// a session JWT issued back then may outlive a mode change.
		if user.AuthMethod == "admin-secret" && s.AuthMode == auth.ModeAnonymous {
			view.AdminAccess = true
		}
		ctx := context.WithValue(r.Context(), userContextKey, *user)
		ctx = context.WithValue(ctx, viewContextKey, view)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type viewContextKeyType struct{}

var viewContextKey = viewContextKeyType{}

func userFromContext(ctx context.Context) authz.User {
	u, _ := ctx.Value(userContextKey).(authz.User)
	return u
}

func viewFromContext(ctx context.Context) config.UserView {
	v, _ := ctx.Value(viewContextKey).(config.UserView)
	return v
}

func adminRequiredErr() error {
	return apierror.New(apierror.CodeForbidden, "admin access is required")
}

func rateLimitErr() error {
	return apierror.New(apierror.CodeRateLimit, "rate limit exceeded")
}

// requireAdmin rejects requests whose resolved view lacks adminAccess.
func requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !viewFromContext(r.Context()).AdminAccess {
			writeError(w, adminRequiredErr())
			return
		}
		next(w, r)
	}
}

// rateLimited wraps a handler with the named bucket's per-client-IP limit,
// attaching the standard response headers regardless of
// outcome and returning 429 when exhausted.
func (s *Server) rateLimited(bucket ratelimit.Bucket, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		decision := s.RateLimit.Allow(bucket, ratelimit.ClientIP(r))
		ratelimit.WriteHeaders(w, decision)
		if !decision.Allowed {
			writeError(w, rateLimitErr())
			return
		}
		next(w, r)
	}
}
