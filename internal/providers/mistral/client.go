// Package mistral implements the Provider Adapter for the
// Mistral Chat Completions API. There is no Mistral Go SDK in this
// gateway's dependency set, so the adapter talks plain HTTP+JSON against
// Mistral's OpenAI-compatible endpoint.
package mistral

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

const defaultBaseURL = "https://api.mistral.ai/v1"

// Client implements providers.Provider over the Mistral chat completions
// endpoint.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewFromAPIKey constructs a client scoped to a resolved API key.
func NewFromAPIKey(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{httpClient: http.DefaultClient, apiKey: apiKey, baseURL: baseURL}
}

func (c *Client) Name() string { return "mistral" }

// Complete issues a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	body := buildBody(req, false)
	raw, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	assistant, finish, usage, err := normalizer.ParseMistralResponse(raw)
	if err != nil {
		return nil, err
	}
	return &providers.Response{Message: assistant, FinishReason: finish, Usage: usage, RawModel: req.Model}, nil
}

// Stream issues a streaming chat completion request and parses the SSE
// "data: {...}" frames, delegating accumulation to
// normalizer.MistralStreamAssembler.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	body := buildBody(req, true)
	httpResp, err := c.do(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	out := make(chan normalizer.StreamEvent, 16)
	go func() {
		defer close(out)
		defer httpResp.Body.Close()
		assembler := normalizer.NewMistralStreamAssembler()
		scanner := bufio.NewScanner(httpResp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				return
			}
			events, err := assembler.Feed([]byte(payload))
			if err != nil {
				out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: "internal", ErrorMessage: err.Error()}
				return
			}
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func buildBody(req providers.Request, stream bool) map[string]any {
	var messages []map[string]any
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)
	body := map[string]any{"model": req.Model, "messages": messages, "stream": stream}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if len(req.Tools) > 0 {
		body["tools"] = normalizer.ToMistralTools(req.Tools)
	}
	return body
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	resp, err := c.do(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("mistral: read response: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) do(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("mistral: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("mistral: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &providers.Error{Category: providers.ErrorProviderUnavailable, Message: "mistral request failed", Cause: err}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, &providers.Error{Category: categorizeStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: "mistral request failed"}
	}
	return resp, nil
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
