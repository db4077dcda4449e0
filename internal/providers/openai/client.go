// Package openai implements the Provider Adapter for the OpenAI
// Chat Completions API, backed by github.com/openai/openai-go. A narrow
// client interface wraps the SDK's nested completions service so tests can
// substitute a fake.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// CompletionsClient captures the subset of the SDK's Chat Completions
// service this adapter uses.
type CompletionsClient interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
	NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Client implements providers.Provider over OpenAI Chat Completions.
type Client struct {
	completions CompletionsClient
	baseURL     string
}

// New builds an adapter from a given completions client.
func New(completions CompletionsClient) *Client {
	return &Client{completions: completions}
}

// NewFromAPIKey constructs a client scoped to a resolved API key, optionally
// pointed at a self-hosted/compatible base URL.
func NewFromAPIKey(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cl := sdk.NewClient(opts...)
	return &Client{completions: &cl.Chat.Completions, baseURL: baseURL}
}

func (c *Client) Name() string { return "openai" }

// Complete issues a non-streaming Chat Completions request.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	params, err := prepareParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.completions.New(ctx, *params)
	if err != nil {
		return nil, translateError(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal response: %w", err)
	}
	assistant, finish, usage, err := normalizer.ParseOpenAIResponse(raw)
	if err != nil {
		return nil, err
	}
	return &providers.Response{Message: assistant, FinishReason: finish, Usage: usage, RawModel: req.Model}, nil
}

// Stream issues a streaming Chat Completions request, feeding each chunk
// through normalizer.OpenAIStreamAssembler.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	params, err := prepareParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.completions.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}

	out := make(chan normalizer.StreamEvent, 16)
	go func() {
		defer close(out)
		assembler := normalizer.NewOpenAIStreamAssembler()
		for stream.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			chunk := stream.Current()
			raw, err := json.Marshal(chunk)
			if err != nil {
				out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: "internal", ErrorMessage: err.Error()}
				return
			}
			events, err := assembler.Feed(raw)
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
		if err := stream.Err(); err != nil {
			out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: string(categorize(err)), ErrorMessage: err.Error()}
		}
	}()
	return out, nil
}

func prepareParams(req providers.Request) (*sdk.ChatCompletionNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	if len(req.Messages) == 0 && req.SystemPrompt == "" {
		return nil, errors.New("openai: messages are required")
	}

	var messages []sdk.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, sdk.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg...)
	}

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := normalizer.ToOpenAITools(req.Tools)
		sdkTools := make([]sdk.ChatCompletionToolParam, 0, len(tools))
		for _, t := range tools {
			sdkTools = append(sdkTools, sdk.ChatCompletionToolParam{
				Type: "function",
				Function: sdk.FunctionDefinitionParam{
					Name:        t.Function.Name,
					Description: sdk.String(t.Function.Description),
					Parameters:  t.Function.Parameters,
					Strict:      sdk.Bool(t.Function.Strict),
				},
			})
		}
		params.Tools = sdkTools
	}
	return &params, nil
}

// encodeMessage converts one generic (OpenAI-wire-shaped) continuation
// message map into the SDK's typed union, handling the "assistant with
// tool_calls" and "tool" roles produced by normalizer.ToOpenAIContinuation.
func encodeMessage(m map[string]any) ([]sdk.ChatCompletionMessageParamUnion, error) {
	role, _ := m["role"].(string)
	switch role {
	case "user":
		content, _ := m["content"].(string)
		return []sdk.ChatCompletionMessageParamUnion{sdk.UserMessage(content)}, nil
	case "assistant":
		var content string
		if c, ok := m["content"].(string); ok {
			content = c
		}
		msg := sdk.AssistantMessage(content)
		if calls, ok := m["tool_calls"].([]map[string]any); ok {
			for _, tc := range calls {
				fn, _ := tc["function"].(map[string]any)
				name, _ := fn["name"].(string)
				args, _ := fn["arguments"].(string)
				id, _ := tc["id"].(string)
				msg.OfAssistant.ToolCalls = append(msg.OfAssistant.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
					ID:   id,
					Type: "function",
					Function: sdk.ChatCompletionMessageToolCallFunctionParam{
						Name: name, Arguments: args,
					},
				})
			}
		}
		return []sdk.ChatCompletionMessageParamUnion{msg}, nil
	case "tool":
		content, _ := m["content"].(string)
		id, _ := m["tool_call_id"].(string)
		return []sdk.ChatCompletionMessageParamUnion{sdk.ToolMessage(content, id)}, nil
	default:
		return nil, fmt.Errorf("openai: unsupported message role %q", role)
	}
}

func translateError(err error) error {
	return &providers.Error{Category: categorize(err), Message: "openai request failed", Cause: err}
}

func categorize(err error) providers.ErrorCategory {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return providers.ErrorAuth
		case 429:
			return providers.ErrorRateLimit
		case 400, 422:
			return providers.ErrorBadRequest
		case 500, 502, 503:
			return providers.ErrorProviderUnavailable
		}
	}
	return providers.ErrorUnknown
}
