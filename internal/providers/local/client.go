// Package local implements the Provider Adapter for
// self-hosted OpenAI-API-compatible endpoints (e.g. vLLM, Ollama, LM
// Studio). It is a thin wrapper around internal/providers/openai pointed at
// a configurable base URL with an optional or absent API key, since these
// endpoints already speak the Chat Completions wire format.
package local

import (
	"context"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
	openaiprovider "github.com/intrafind/ihub-apps-sub002/internal/providers/openai"
)

// Client implements providers.Provider for a self-hosted OpenAI-compatible
// endpoint.
type Client struct {
	inner *openaiprovider.Client
}

// NewFromConfig constructs a client against a self-hosted base URL. apiKey
// may be empty when the endpoint requires no authentication.
func NewFromConfig(baseURL, apiKey string) *Client {
	return &Client{inner: openaiprovider.NewFromAPIKey(apiKey, baseURL)}
}

func (c *Client) Name() string { return "local" }

// Complete delegates to the embedded Chat Completions adapter.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	return c.inner.Complete(ctx, req)
}

// Stream delegates to the embedded Chat Completions adapter.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	return c.inner.Stream(ctx, req)
}
