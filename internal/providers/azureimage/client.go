// Package azureimage implements the Provider Adapter for Azure
// OpenAI image generation (DALL-E). There is no dedicated Azure OpenAI Go
// SDK in this gateway's dependency set, so the adapter talks plain
// HTTP+JSON, authenticating with Azure's "api-key" header rather than a
// Bearer token.
package azureimage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// ImageResult is a single generated image.
type ImageResult struct {
	MimeType string
	B64      string
}

// Client implements image generation against an Azure OpenAI deployment.
type Client struct {
	httpClient *http.Client
	apiKey     string
	endpoint   string // full deployment URL, including api-version query param
}

// NewFromAPIKey constructs a client scoped to a resolved API key and the
// model's configured Azure deployment URL.
func NewFromAPIKey(apiKey, endpoint string) *Client {
	return &Client{httpClient: http.DefaultClient, apiKey: apiKey, endpoint: endpoint}
}

func (c *Client) Name() string { return "azure-image" }

// GenerateImage issues a single image-generation request (Azure does not
// support streaming image generation, so there is no Stream method here).
func (c *Client) GenerateImage(ctx context.Context, prompt string, count int) ([]ImageResult, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("azureimage: deployment endpoint is required")
	}
	if count <= 0 {
		count = 1
	}
	body := map[string]any{"prompt": prompt, "n": count, "response_format": "b64_json"}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("azureimage: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("azureimage: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &providers.Error{Category: providers.ErrorProviderUnavailable, Message: "azure image request failed", Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &providers.Error{Category: categorizeStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: "azure image request failed"}
	}

	var wire struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("azureimage: decode response: %w", err)
	}
	out := make([]ImageResult, 0, len(wire.Data))
	for _, d := range wire.Data {
		out = append(out, ImageResult{MimeType: "image/png", B64: d.B64JSON})
	}
	return out, nil
}

// Complete implements providers.Provider for parity with the interface, but
// the orchestrator always drives azure-image models through Stream so it can
// deliver the generated image as an "image" SSE event.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	images, err := c.GenerateImage(ctx, lastUserText(req.Messages), 1)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("azureimage: no images returned")
	}
	return &providers.Response{Message: &normalizer.AssistantMessage{}, FinishReason: normalizer.FinishStop, RawModel: req.Model}, nil
}

// Stream models Azure image generation as a degenerate stream producing
// exactly one "image" event per generated image, followed by one synthetic
// "finish" event.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	images, err := c.GenerateImage(ctx, lastUserText(req.Messages), 1)
	if err != nil {
		return nil, err
	}
	out := make(chan normalizer.StreamEvent, len(images)+1)
	for _, img := range images {
		out <- normalizer.StreamEvent{Kind: normalizer.EventImage, ImageMimeType: img.MimeType, ImageB64: img.B64}
	}
	out <- normalizer.StreamEvent{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop}
	close(out)
	return out, nil
}

// lastUserText extracts the most recent plain-text user message content from
// a generic wire-shaped message list, used as the image generation prompt.
func lastUserText(messages []map[string]any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if role, _ := m["role"].(string); role != "user" {
			continue
		}
		if text, ok := m["content"].(string); ok {
			return text
		}
	}
	return ""
}

func categorizeStatus(code int) providers.ErrorCategory {
	switch code {
	case 401, 403:
		return providers.ErrorAuth
	case 429:
		return providers.ErrorRateLimit
	case 400, 422:
		return providers.ErrorBadRequest
	case 500, 502, 503:
		return providers.ErrorProviderUnavailable
	default:
		return providers.ErrorUnknown
	}
}
