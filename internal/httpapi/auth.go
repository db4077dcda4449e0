package httpapi

import (
	"net/http"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/auth"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
)

// authStatus handles GET /api/auth/status: reports the caller's resolved
// identity without ever 401ing, even for an expired token — an
// unresolvable token simply falls back to the anonymous user like any other
// unauthenticated request.
func (s *Server) authStatus(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": user.Authenticated,
		"id":            user.ID,
		"groups":        user.Groups,
	})
}

// loginRequest is the shared body shape for the provider-specific login
// stubs below.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// stubProviderLogin returns the handler for an external-provider login
// endpoint (ntlm, oidc, proxy). The handshake with an upstream identity
// provider is an opaque external collaborator this gateway never implements
// itself: the handler decodes the request body and answers every request
// with FEATURE_DISABLED, keeping the route surface in place.
func (s *Server) stubProviderLogin(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body loginRequest
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, err)
			return
		}
		writeError(w, apierror.New(apierror.CodeFeatureDisabled,
			provider+" authentication is not configured on this gateway"))
	}
}

// loginLocal is the one login path this gateway can actually satisfy without
// an external identity provider: anonymous mode's bare admin-secret bearer
// exchange, issuing a short-lived session JWT carrying admin access.
func (s *Server) loginLocal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Secret string `json:"secret"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	snap := s.Cache.Snapshot()
	if !auth.AdminSecretMatches(s.AuthMode, snap.Platform.AdminSecret, body.Secret) {
		writeError(w, apierror.New(apierror.CodeAuth, "invalid admin secret"))
		return
	}
	if s.JWT == nil {
		writeError(w, apierror.New(apierror.CodeInternal, "session issuance is not configured"))
		return
	}
	user := &authz.User{ID: "admin-secret", Authenticated: true, AuthMethod: "admin-secret", Groups: []string{authz.AnonymousGroupID}}
	token, err := s.JWT.Issue(user)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.CodeInternal, "failed to issue session token", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
