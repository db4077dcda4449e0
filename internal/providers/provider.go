// Package providers implements the Provider Adapters: one
// adapter per upstream LLM API, each responsible for request construction,
// authentication, HTTP/SSE execution, and cancellation — leaving wire-shape
// translation to internal/normalizer. Each provider lives in its own
// package, with a narrow client interface wrapping its SDK so tests can
// substitute fakes.
package providers

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
)

// Request is the provider-agnostic completion request. Messages
// is already in the target provider's transcript shape (built by the
// orchestrator via a normalizer ToXContinuation call for any prior turns,
// plus the initial system/user turn) — providers only add tool defs, auth,
// and transport.
type Request struct {
	Model          string
	APIKey         string
	BaseURL        string // override endpoint, e.g. self-hosted or Azure resource URL
	SystemPrompt   string
	Messages       []map[string]any
	Tools          []normalizer.ToolDefinition
	ToolChoice     string // "auto", "none", "required"
	MaxTokens      int
	Temperature    float64
	Stream         bool
	ExtraHeaders   map[string]string
}

// Response is the provider-agnostic completion result.
type Response struct {
	Message      *normalizer.AssistantMessage
	FinishReason normalizer.FinishReason
	Usage        normalizer.TokenUsage
	RawModel     string // model id actually used, in case of provider-side fallback
}

// ErrorCategory classifies a provider failure for retry/backoff and
// user-facing messaging decisions.
type ErrorCategory string

const (
	ErrorAuth               ErrorCategory = "auth"
	ErrorRateLimit          ErrorCategory = "rate_limit"
	ErrorContentFilter      ErrorCategory = "content_filter"
	ErrorBadRequest         ErrorCategory = "bad_request"
	ErrorProviderUnavailable ErrorCategory = "provider_unavailable"
	ErrorUnknown            ErrorCategory = "unknown"
)

// Error wraps a provider failure with its category and the upstream status
// code, when available, for internal/apierror mapping at the orchestrator
// boundary.
type Error struct {
	Category   ErrorCategory
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Provider is the common contract every adapter implements.
// Stream returns a channel of generic StreamEvents; cancelling ctx must stop
// upstream consumption promptly.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (<-chan normalizer.StreamEvent, error)
}

// ResolveAPIKey implements the model API key resolution order: an explicit
// per-model encrypted key (already decrypted by the caller) wins; otherwise
// the first environment variable in envVars that resolves to a non-empty
// value (callers pass the per-model var before the provider-wide one).
func ResolveAPIKey(decryptedModelKey string, envLookup func(string) string, envVars ...string) string {
	if decryptedModelKey != "" {
		return decryptedModelKey
	}
	for _, name := range envVars {
		if name == "" {
			continue
		}
		if v := envLookup(name); v != "" {
			return v
		}
	}
	return ""
}
