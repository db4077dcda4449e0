// Package auth bridges the gateway's own bearer-token handling (JWT sessions
// issued after an upstream OIDC/NTLM/LDAP handshake, plus the anonymous-mode
// admin secret) into authz.User records. Everything upstream of the JWT
// itself — the actual OIDC/NTLM/LDAP exchange — stays an opaque external
// collaborator; this package only validates the session token
// this gateway issued and mints the platform's User record from its claims.
// Tokens are HS256 via github.com/golang-jwt/jwt/v5, with an explicit
// signing-method check in the key callback.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/intrafind/ihub-apps-sub002/internal/authz"
)

// ErrInvalidToken is returned by Validate for any malformed, expired, or
// badly-signed bearer token.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// Claims is this gateway's JWT payload: the resolved internal group ids ride
// along in the token so a request can be authorized without a second lookup.
type Claims struct {
	Email      string   `json:"email,omitempty"`
	Name       string   `json:"name,omitempty"`
	Provider   string   `json:"provider,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	AuthMethod string   `json:"authMethod,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues and validates the gateway's own session tokens, signed
// with the platform's JWT_SECRET.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWTService from JWT_SECRET and a token lifetime.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a session token carrying a resolved User's identity and groups,
// used once an upstream OIDC/NTLM/LDAP handshake has produced a user+groups
// record.
func (s *JWTService) Issue(user *authz.User) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("auth: JWT_SECRET is not configured")
	}
	if strings.TrimSpace(user.ID) == "" {
		return "", errors.New("auth: user id is required")
	}
	claims := Claims{
		Email:      user.Email,
		Name:       user.Name,
		Provider:   user.Provider,
		Groups:     user.Groups,
		AuthMethod: user.AuthMethod,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and verifies a bearer token and reconstructs the
// authz.User it carries.
func (s *JWTService) Validate(token string) (*authz.User, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("auth: JWT_SECRET is not configured")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &authz.User{
		ID: claims.Subject, Email: claims.Email, Name: claims.Name,
		Provider: claims.Provider, Groups: claims.Groups,
		Authenticated: true, AuthMethod: claims.AuthMethod,
	}, nil
}

// AuthMode names the platform's configured authentication mode.
type AuthMode string

const (
	ModeAnonymous AuthMode = "anonymous"
	ModeProxy     AuthMode = "proxy"
	ModeOIDC      AuthMode = "oidc"
	ModeLDAP      AuthMode = "ldap"
	ModeNTLM      AuthMode = "ntlm"
)

// AdminSecretMatches reports whether a presented bearer value grants admin
// access via the anonymous-mode admin secret escape hatch. The secret path
// is valid ONLY when mode is anonymous — presenting it under any other
// auth mode must never elevate privileges, so this
// function unconditionally returns false outside ModeAnonymous rather than
// falling through to a generic constant-time compare.
func AdminSecretMatches(mode AuthMode, configuredSecret, presented string) bool {
	if mode != ModeAnonymous {
		return false
	}
	if configuredSecret == "" || presented == "" {
		return false
	}
	// Compare fixed-size hashes rather than the raw secrets so hmac.Equal's
	// constant-time comparison isn't short-circuited by a length mismatch.
	a := sha256.Sum256([]byte(configuredSecret))
	b := sha256.Sum256([]byte(presented))
	return hmac.Equal(a[:], b[:])
}
