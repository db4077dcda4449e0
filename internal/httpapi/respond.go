// Package httpapi implements the thin HTTP transport the other components
// are driven through: routing, auth/rate-limit middleware, and
// JSON/SSE encoding. This package is deliberately thin, delegating all
// real logic to internal/config, internal/authz, internal/orchestrator,
// and internal/admin; routing itself is go-chi/chi/v5.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
)

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorEnvelope mirrors the error taxonomy's wire shape.
type errorEnvelope struct {
	Code          apierror.Code `json:"code"`
	Message       string        `json:"message"`
	Field         string        `json:"field,omitempty"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

// writeError maps err onto its HTTP status and JSON error envelope.
// Any error that is not an *apierror.Error is treated as CodeInternal and
// its underlying message is never echoed back to the caller.
func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierror.As(err)
	if !ok {
		apiErr = apierror.New(apierror.CodeInternal, "an unexpected error occurred")
	}
	env := errorEnvelope{Code: apiErr.Code, Message: apiErr.Message, Field: apiErr.Field}
	if apiErr.Code == apierror.CodeInternal {
		env.CorrelationID = apiErr.CorrelationID
		env.Message = "an unexpected error occurred"
	}
	writeJSON(w, apiErr.HTTPStatus(), env)
}

// writeETagged handles the If-None-Match / ETag pair for every filtered
// read endpoint: a matching If-None-Match short-circuits to
// 304 before the body is ever marshaled.
func writeETagged(w http.ResponseWriter, r *http.Request, etag string, body any) {
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// decodeJSON decodes r's body into v, returning a CodeValidation apierror on
// failure rather than a bare decode error.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierror.New(apierror.CodeValidation, "request body is not valid JSON: "+err.Error())
	}
	return nil
}

type contextKey string

const userContextKey contextKey = "httpapi.user"
