// Package openairesponses implements the Provider Adapter for
// the OpenAI Responses API, backed by github.com/openai/openai-go's
// responses sub-package. Structurally mirrors internal/providers/openai,
// the sibling Chat Completions adapter, differing only in the request/
// response shape and in having no explicit finish_reason field.
package openairesponses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// ResponsesClient captures the subset of the SDK's Responses service this
// adapter uses.
type ResponsesClient interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
	NewStreaming(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) *ssestream.Stream[responses.ResponseStreamEventUnion]
}

// Client implements providers.Provider over the OpenAI Responses API.
type Client struct {
	responses ResponsesClient
}

// New builds an adapter from a given Responses client.
func New(r ResponsesClient) *Client {
	return &Client{responses: r}
}

// NewFromAPIKey constructs a client scoped to a resolved API key.
func NewFromAPIKey(apiKey string) *Client {
	cl := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{responses: &cl.Responses}
}

func (c *Client) Name() string { return "openai-responses" }

// Complete issues a non-streaming Responses.New request.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	params, err := prepareParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.responses.New(ctx, *params)
	if err != nil {
		return nil, translateError(err)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("openai-responses: marshal response: %w", err)
	}
	assistant, finish, usage, err := normalizer.ParseOpenAIResponsesResponse(raw)
	if err != nil {
		return nil, err
	}
	return &providers.Response{Message: assistant, FinishReason: finish, Usage: usage, RawModel: req.Model}, nil
}

// Stream issues a streaming Responses.New request.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	params, err := prepareParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.responses.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}

	out := make(chan normalizer.StreamEvent, 16)
	go func() {
		defer close(out)
		assembler := normalizer.NewOpenAIResponsesStreamAssembler()
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

func prepareParams(req providers.Request) (*responses.ResponseNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("openai-responses: model identifier is required")
	}

	var inputItems responses.ResponseInputParam
	for _, m := range req.Messages {
		item, err := encodeInputItem(m)
		if err != nil {
			return nil, err
		}
		inputItems = append(inputItems, item...)
	}

	params := responses.ResponseNewParams{
		Model: sdk.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: inputItems},
	}
	if req.SystemPrompt != "" {
		params.Instructions = sdk.String(req.SystemPrompt)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := normalizer.ToOpenAIResponsesTools(req.Tools)
		sdkTools := make([]responses.ToolUnionParam, 0, len(tools))
		for _, t := range tools {
			sdkTools = append(sdkTools, responses.ToolUnionParam{
				OfFunction: &responses.FunctionToolParam{
					Name: t.Name, Description: sdk.String(t.Description), Parameters: t.Parameters, Strict: sdk.Bool(t.Strict),
				},
			})
		}
		params.Tools = sdkTools
	}
	return &params, nil
}

func encodeInputItem(m map[string]any) (responses.ResponseInputParam, error) {
	switch m["type"] {
	case "message":
		role, _ := m["role"].(string)
		content, _ := m["content"].([]map[string]any)
		var text string
		for _, c := range content {
			if t, ok := c["text"].(string); ok {
				text += t
			}
		}
		return responses.ResponseInputParam{responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRole(role))}, nil
	case "function_call":
		callID, _ := m["call_id"].(string)
		name, _ := m["name"].(string)
		args, _ := m["arguments"].(string)
		return responses.ResponseInputParam{responses.ResponseInputItemParamOfFunctionCall(args, callID, name)}, nil
	case "function_call_output":
		callID, _ := m["call_id"].(string)
		output, _ := m["output"].(string)
		return responses.ResponseInputParam{responses.ResponseInputItemParamOfFunctionCallOutput(callID, output)}, nil
	default:
		return nil, fmt.Errorf("openai-responses: unsupported input item type %q", m["type"])
	}
}

func translateError(err error) error {
	return &providers.Error{Category: categorize(err), Message: "openai responses request failed", Cause: err}
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
