// Package anthropic implements the Provider Adapter for the
// Anthropic Messages API, backed by github.com/anthropics/anthropic-sdk-go.
// A MessagesClient interface wraps the SDK's MessageService so
// tests can substitute a fake, and message/tool encoding builds the SDK's
// typed param structs directly from the generic wire-shaped maps produced
// by internal/normalizer.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// MessagesClient captures the subset of the SDK client this adapter uses,
// satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements providers.Provider on top of Anthropic Claude Messages.
type Client struct {
	msg MessagesClient
}

// New builds an adapter from a given Messages client (for tests, or a
// shared client configured once at startup).
func New(msg MessagesClient) *Client {
	return &Client{msg: msg}
}

// NewFromAPIKey constructs a client scoped to a single request's resolved
// API key; the gateway constructs one of these
// per outbound call rather than holding one long-lived client per tenant.
func NewFromAPIKey(apiKey string) *Client {
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{msg: &ac.Messages}
}

func (c *Client) Name() string { return "anthropic" }

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	params, err := c.prepareParams(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, translateError(err)
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal response: %w", err)
	}
	assistant, finish, usage, err := normalizer.ParseAnthropicResponse(raw)
	if err != nil {
		return nil, err
	}
	return &providers.Response{Message: assistant, FinishReason: finish, Usage: usage, RawModel: req.Model}, nil
}

// Stream issues Messages.NewStreaming and feeds each event through
// normalizer.AnthropicStreamAssembler.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	params, err := c.prepareParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}

	out := make(chan normalizer.StreamEvent, 16)
	go func() {
		defer close(out)
		assembler := normalizer.NewAnthropicStreamAssembler()
		for stream.Next() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			event := stream.Current()
			raw, err := json.Marshal(event)
			if err != nil {
				out <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: "internal", ErrorMessage: err.Error()}
				return
			}
			events, err := assembler.Feed(string(event.Type), raw)
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

func (c *Client) prepareParams(req providers.Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

// encodeMessages converts the generic Anthropic-wire-shaped message maps
// (produced by normalizer.ToAnthropicContinuation, or hand-assembled for the
// first turn) into the SDK's typed MessageParam list.
func encodeMessages(msgs []map[string]any) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		role, _ := m["role"].(string)
		blocksRaw, _ := m["content"].([]map[string]any)
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(blocksRaw))
		for _, b := range blocksRaw {
			block, err := encodeBlock(b)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
		if len(blocks) == 0 {
			continue
		}
		switch role {
		case "user":
			out = append(out, sdk.NewUserMessage(blocks...))
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return out, nil
}

func encodeBlock(b map[string]any) (sdk.ContentBlockParamUnion, error) {
	switch b["type"] {
	case "text":
		text, _ := b["text"].(string)
		return sdk.NewTextBlock(text), nil
	case "tool_use":
		id, _ := b["id"].(string)
		name, _ := b["name"].(string)
		input, _ := b["input"].(map[string]any)
		return sdk.NewToolUseBlock(id, input, name), nil
	case "tool_result":
		id, _ := b["tool_use_id"].(string)
		content, _ := b["content"].(string)
		isErr, _ := b["is_error"].(bool)
		return sdk.NewToolResultBlock(id, content, isErr), nil
	default:
		return sdk.ContentBlockParamUnion{}, fmt.Errorf("anthropic: unsupported content block type %q", b["type"])
	}
}

// encodeTools builds SDK tool params from the generic definitions, applying
// provider-level name sanitization (Anthropic tool names must match
// ^[a-zA-Z0-9_-]{1,64}$).
func encodeTools(defs []normalizer.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	seen := map[string]string{}
	for _, d := range defs {
		sanitized := SanitizeToolName(d.Name)
		if prev, ok := seen[sanitized]; ok && prev != d.Name {
			return nil, fmt.Errorf("anthropic: tool name %q sanitizes to %q which collides with %q", d.Name, sanitized, prev)
		}
		seen[sanitized] = d.Name
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: d.Parameters}, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

// SanitizeToolName strips characters Anthropic disallows in tool names,
// replacing them with "_".
func SanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}

func translateError(err error) error {
	return &providers.Error{Category: categorize(err), Message: "anthropic request failed", Cause: err}
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
		case 500, 502, 503, 529:
			return providers.ErrorProviderUnavailable
		}
	}
	return providers.ErrorUnknown
}
