// Package iassistant implements the Provider Adapter for the
// "iassistant" provider: an enterprise model aggregator reachable through
// AWS Bedrock's Converse API, using custom buffer processing rather than
// line-based SSE. Requests go through an encodeMessages/encodeTools
// pipeline into Bedrock's typed structs; responses come back through
// translateResponse and a ConverseStream event pump. tool_name.go's
// SanitizeToolName exists because Bedrock enforces a stricter tool name
// charset ([a-zA-Z0-9_-]+, <=64 bytes) than this gateway's dotted
// multi-function tool ids (parent.functionName) satisfy on their own.
package iassistant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// RuntimeClient is the subset of *bedrockruntime.Client this adapter uses,
// narrowed so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements providers.Provider on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
}

// New constructs a Client from a runtime client (real or test double).
func New(runtime RuntimeClient) *Client {
	return &Client{runtime: runtime}
}

func (c *Client) Name() string { return "iassistant" }

// Complete issues a single Converse call.
func (c *Client) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	input, nameMap, err := c.prepareInput(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	msg, finish, usage, err := translateConverseOutput(out, nameMap)
	if err != nil {
		return nil, err
	}
	return &providers.Response{Message: msg, FinishReason: finish, Usage: usage, RawModel: req.Model}, nil
}

// Stream issues ConverseStream and pumps its event stream into generic
// StreamEvents. Bedrock's stream already carries structured
// contentBlockStart/Delta/Stop events (not raw text chunks needing further
// parsing), so this adapter translates directly rather than delegating to
// internal/normalizer — iassistant is not one of the five normalizer wire
// formats.
func (c *Client) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	input, nameMap, err := c.prepareInput(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:        input.ModelId,
		Messages:       input.Messages,
		System:         input.System,
		ToolConfig:     input.ToolConfig,
		InferenceConfig: input.InferenceConfig,
	}
	out, err := c.runtime.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, translateError(err)
	}

	events := make(chan normalizer.StreamEvent, 16)
	go func() {
		defer close(events)
		stream := out.GetStream()
		defer stream.Close()

		toolIndex := map[int32]string{} // contentBlockIndex -> tool name
		toolID := map[int32]string{}
		for ev := range stream.Events() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			switch v := ev.(type) {
			case *brtypes.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := v.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
					name := canonicalToolName(tu.Value.Name, nameMap)
					toolIndex[aws.ToInt32(v.Value.ContentBlockIndex)] = name
					if tu.Value.ToolUseId != nil {
						toolID[aws.ToInt32(v.Value.ContentBlockIndex)] = *tu.Value.ToolUseId
					}
				}
			case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *brtypes.ContentBlockDeltaMemberText:
					events <- normalizer.StreamEvent{Kind: normalizer.EventContentDelta, TextDelta: d.Value}
				case *brtypes.ContentBlockDeltaMemberToolUse:
					idx := int(aws.ToInt32(v.Value.ContentBlockIndex))
					events <- normalizer.StreamEvent{
						Kind: normalizer.EventToolCallDelta, ToolCallIndex: idx,
						ToolCallID: toolID[aws.ToInt32(v.Value.ContentBlockIndex)], ToolCallName: toolIndex[aws.ToInt32(v.Value.ContentBlockIndex)],
						ArgsDelta: aws.ToString(d.Value.Input),
					}
				}
			case *brtypes.ConverseStreamOutputMemberMessageStop:
				events <- normalizer.StreamEvent{Kind: normalizer.EventFinish, FinishReason: mapStopReason(v.Value.StopReason)}
			case *brtypes.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					events <- normalizer.StreamEvent{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop, Usage: &normalizer.TokenUsage{
						InputTokens: int(aws.ToInt32(v.Value.Usage.InputTokens)), OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)), TotalTokens: int(aws.ToInt32(v.Value.Usage.TotalTokens)),
					}}
				}
			}
		}
		if err := stream.Err(); err != nil {
			events <- normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: string(categorize(err)), ErrorMessage: err.Error()}
		}
	}()
	return events, nil
}

func (c *Client) prepareInput(req providers.Request) (*bedrockruntime.ConverseInput, map[string]string, error) {
	if req.Model == "" {
		return nil, nil, fmt.Errorf("iassistant: model identifier is required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	var system []brtypes.SystemContentBlock
	if req.SystemPrompt != "" {
		system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.SystemPrompt}}
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
		System:   system,
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cfg := &brtypes.InferenceConfiguration{}
		if req.MaxTokens > 0 {
			cfg.MaxTokens = aws.Int32(int32(req.MaxTokens))
		}
		if req.Temperature > 0 {
			cfg.Temperature = aws.Float32(float32(req.Temperature))
		}
		input.InferenceConfig = cfg
	}
	var nameMap map[string]string
	if len(req.Tools) > 0 {
		toolConfig, m, err := encodeTools(req.Tools)
		if err != nil {
			return nil, nil, err
		}
		input.ToolConfig = toolConfig
		nameMap = m
	}
	return input, nameMap, nil
}

// encodeMessages converts generic wire-shaped message maps (built either by
// the orchestrator's first-turn helper or by a continuation re-serializer)
// into Bedrock's typed Message list. Messages here use the same flat
// {role, content} shape as internal/normalizer's OpenAI helpers, since
// iassistant's Request.Messages are assembled by the orchestrator using the
// OpenAI-shaped plain-text helper (there is no dedicated iassistant
// normalizer file; the orchestrator treats it as OpenAI-shaped for turn
// construction and this adapter owns the Bedrock-specific encoding).
func encodeMessages(msgs []map[string]any) ([]brtypes.Message, error) {
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		role, _ := m["role"].(string)
		var brrole brtypes.ConversationRole
		switch role {
		case "user", "tool":
			brrole = brtypes.ConversationRoleUser
		case "assistant":
			brrole = brtypes.ConversationRoleAssistant
		default:
			continue
		}
		text, _ := m["content"].(string)
		if text == "" {
			continue
		}
		out = append(out, brtypes.Message{
			Role:    brrole,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("iassistant: at least one message is required")
	}
	return out, nil
}

// encodeTools builds a Bedrock ToolConfiguration, sanitizing each generic
// tool name to Bedrock's stricter charset and returning the reverse map so
// translateConverseOutput can recover the canonical (possibly dotted)
// multi-function tool id.
func encodeTools(defs []normalizer.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, error) {
	tools := make([]brtypes.Tool, 0, len(defs))
	nameMap := make(map[string]string, len(defs))
	for _, d := range defs {
		sanitized := SanitizeToolName(d.Name)
		nameMap[sanitized] = d.Name
		raw, err := json.Marshal(d.Parameters)
		if err != nil {
			return nil, nil, fmt.Errorf("iassistant: marshal tool schema for %s: %w", d.Name, err)
		}
		var schemaDoc any
		if err := json.Unmarshal(raw, &schemaDoc); err != nil {
			return nil, nil, fmt.Errorf("iassistant: decode tool schema for %s: %w", d.Name, err)
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(d.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(&schemaDoc)},
		}})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, nameMap, nil
}

func canonicalToolName(raw *string, nameMap map[string]string) string {
	if raw == nil {
		return ""
	}
	if canon, ok := nameMap[*raw]; ok {
		return canon
	}
	return *raw
}

// translateConverseOutput converts a non-streaming Converse response into
// the generic representation, recovering canonical tool names
// from the sanitized-name reverse map.
func translateConverseOutput(out *bedrockruntime.ConverseOutput, nameMap map[string]string) (*normalizer.AssistantMessage, normalizer.FinishReason, normalizer.TokenUsage, error) {
	if out == nil {
		return nil, "", normalizer.TokenUsage{}, fmt.Errorf("iassistant: response is nil")
	}
	msg := &normalizer.AssistantMessage{}
	if outMsg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for i, block := range outMsg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				msg.Content += v.Value
				msg.HasContent = true
			case *brtypes.ContentBlockMemberToolUse:
				input := decodeDocument(v.Value.Input)
				msg.ToolCalls = append(msg.ToolCalls, normalizer.ToolCall{
					ID:        aws.ToString(v.Value.ToolUseId),
					Index:     i,
					Type:      "function",
					Name:      canonicalToolName(v.Value.Name, nameMap),
					Arguments: input,
					Metadata:  map[string]any{"originalFormat": "iassistant"},
				})
			}
		}
	}
	var usage normalizer.TokenUsage
	if out.Usage != nil {
		usage = normalizer.TokenUsage{
			InputTokens: int(aws.ToInt32(out.Usage.InputTokens)), OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)), TotalTokens: int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return msg, mapStopReason(out.StopReason), usage, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

func mapStopReason(reason brtypes.StopReason) normalizer.FinishReason {
	switch reason {
	case brtypes.StopReasonToolUse:
		return normalizer.FinishToolCalls
	case brtypes.StopReasonMaxTokens:
		return normalizer.FinishLength
	case brtypes.StopReasonContentFiltered, brtypes.StopReasonGuardrailIntervened:
		return normalizer.FinishContentFilter
	default:
		return normalizer.FinishStop
	}
}

func translateError(err error) error {
	return &providers.Error{Category: categorize(err), Message: "iassistant request failed", Cause: err}
}

func categorize(err error) providers.ErrorCategory {
	if err == nil {
		return providers.ErrorUnknown
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "AccessDenied", "UnrecognizedClient", "Forbidden"):
		return providers.ErrorAuth
	case containsAny(msg, "ThrottlingException", "TooManyRequests"):
		return providers.ErrorRateLimit
	case containsAny(msg, "ValidationException"):
		return providers.ErrorBadRequest
	case containsAny(msg, "ServiceUnavailable", "ModelTimeout", "InternalServerException"):
		return providers.ErrorProviderUnavailable
	default:
		return providers.ErrorUnknown
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}
	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
