// Package google implements the Provider Adapter for the Gemini
// API, backed by google.golang.org/genai. The thoughtSignature
// preservation rule is handled entirely by
// internal/normalizer; this package is responsible only for request
// construction, auth, and SSE execution.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// ModelsClient captures the subset of the genai client this adapter uses.
type ModelsClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// Client implements providers.Provider over the Gemini API.
type Client struct {
	models ModelsClient
}

// New builds an adapter from a given Models client.
func New(models ModelsClient) *Client {
	return &Client{models: models}
}

// NewFromAPIKey constructs a client scoped to a resolved API key.
func NewFromAPIKey(ctx context.Context, apiKey string) (*Client, error) {
	cl, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("google: new client: %w", err)
	}
	return &Client{models: cl.Models}, nil
}

func (c *Client) Name() string { return "google" }

// Complete issues a non-streaming GenerateContent request.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	contents, cfg, err := prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, translateError(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("google: marshal response: %w", err)
	}
	assistant, finish, usage, err := normalizer.ParseGoogleResponse(raw)
	if err != nil {
		return nil, err
	}
	return &providers.Response{Message: assistant, FinishReason: finish, Usage: usage, RawModel: req.Model}, nil
}

// Stream issues a streaming GenerateContent request. Gemini's stream
// delivers a full candidate snapshot per chunk rather than incremental
// deltas, handled by normalizer.GoogleStreamAssembler.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	contents, cfg, err := prepareRequest(req)
	if err != nil {
		return nil, err
	}
	seq := c.models.GenerateContentStream(ctx, req.Model, contents, cfg)

	out := make(chan normalizer.StreamEvent, 16)
	go func() {
		defer close(out)
		assembler := normalizer.NewGoogleStreamAssembler()
		seq(func(chunk *genai.GenerateContentResponse, err error) bool {
			if err != nil {
				out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: string(categorize(err)), ErrorMessage: err.Error()}
				return false
			}
			select {
			case <-ctx.Done():
				return false
			default:
			}
			raw, merr := json.Marshal(chunk)
			if merr != nil {
				out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: "internal", ErrorMessage: merr.Error()}
				return false
			}
			events, ferr := assembler.Feed(raw)
			if ferr != nil {
				out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: "internal", ErrorMessage: ferr.Error()}
				return false
			}
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		})
	}()
	return out, nil
}

func prepareRequest(req providers.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if req.Model == "" {
		return nil, nil, errors.New("google: model identifier is required")
	}
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		c, err := encodeContent(m)
		if err != nil {
			return nil, nil, err
		}
		contents = append(contents, c)
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("google: at least one content turn is required")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if len(req.Tools) > 0 {
		defs := normalizer.ToGoogleTools(req.Tools)
		sdkTools := make([]*genai.Tool, 0, len(defs))
		for _, d := range defs {
			decls := make([]*genai.FunctionDeclaration, 0, len(d.FunctionDeclarations))
			for _, fd := range d.FunctionDeclarations {
				schema, err := toSchema(fd.Parameters)
				if err != nil {
					return nil, nil, err
				}
				decls = append(decls, &genai.FunctionDeclaration{Name: fd.Name, Description: fd.Description, Parameters: schema})
			}
			sdkTools = append(sdkTools, &genai.Tool{FunctionDeclarations: decls})
		}
		cfg.Tools = sdkTools
	}
	return contents, cfg, nil
}

func encodeContent(m map[string]any) (*genai.Content, error) {
	role, _ := m["role"].(string)
	partsRaw, _ := m["parts"].([]map[string]any)
	parts := make([]*genai.Part, 0, len(partsRaw))
	for _, p := range partsRaw {
		part, err := encodePart(p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return &genai.Content{Role: role, Parts: parts}, nil
}

func encodePart(p map[string]any) (*genai.Part, error) {
	switch {
	case p["text"] != nil:
		text, _ := p["text"].(string)
		part := genai.NewPartFromText(text)
		if sig, ok := p["thoughtSignature"].(string); ok {
			part.ThoughtSignature = []byte(sig)
		}
		return part, nil
	case p["functionCall"] != nil:
		call, _ := p["functionCall"].(map[string]any)
		name, _ := call["name"].(string)
		args, _ := call["args"].(map[string]any)
		part := genai.NewPartFromFunctionCall(name, args)
		if sig, ok := p["thoughtSignature"].(string); ok {
			part.ThoughtSignature = []byte(sig)
		}
		return part, nil
	case p["functionResponse"] != nil:
		resp, _ := p["functionResponse"].(map[string]any)
		name, _ := resp["name"].(string)
		response, _ := resp["response"].(map[string]any)
		return genai.NewPartFromFunctionResponse(name, response), nil
	default:
		return nil, fmt.Errorf("google: unsupported part shape %v", p)
	}
}

func toSchema(params map[string]any) (*genai.Schema, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var schema genai.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("google: decode tool schema: %w", err)
	}
	return &schema, nil
}

func translateError(err error) error {
	return &providers.Error{Category: categorize(err), Message: "google request failed", Cause: err}
}

func categorize(err error) providers.ErrorCategory {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return providers.ErrorAuth
		case 429:
			return providers.ErrorRateLimit
		case 400:
			return providers.ErrorBadRequest
		case 500, 502, 503:
			return providers.ErrorProviderUnavailable
		}
	}
	return providers.ErrorUnknown
}
