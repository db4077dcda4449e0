package normalizer

import (
	"encoding/json"
	"fmt"
)

// OpenAIToolDef is the OpenAI Chat Completions / Mistral tool definition wire
// shape: {"type":"function","function":{"name","description","parameters"}}.
type OpenAIToolDef struct {
	Type     string            `json:"type"`
	Function OpenAIToolFuncDef `json:"function"`
}

// OpenAIToolFuncDef is the nested "function" object of an OpenAIToolDef.
type OpenAIToolFuncDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// ToOpenAITools converts generic tool definitions to the OpenAI Chat wire
// format. When a definition is marked Strict, its schema's "required" is
// auto-promoted to include every property.
func ToOpenAITools(defs []ToolDefinition) []OpenAIToolDef {
	out := make([]OpenAIToolDef, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if d.Strict {
			params = PromoteRequiredForStrictMode(params)
		}
		out = append(out, OpenAIToolDef{
			Type: "function",
			Function: OpenAIToolFuncDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
				Strict:      d.Strict,
			},
		})
	}
	return out
}

// openAIToolCallWire mirrors the OpenAI Chat Completions tool_calls array entry.
type openAIToolCallWire struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// openAIMessageWire mirrors the "message" object of a Chat Completions choice.
type openAIMessageWire struct {
	Role      string                `json:"role"`
	Content   *string               `json:"content"`
	ToolCalls []openAIToolCallWire  `json:"tool_calls,omitempty"`
}

// openAIChoiceWire mirrors a single element of Chat Completions "choices".
type openAIChoiceWire struct {
	Message      openAIMessageWire `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// openAIResponseWire mirrors the subset of a Chat Completions response body
// this normalizer consumes.
type openAIResponseWire struct {
	Choices []openAIChoiceWire `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseOpenAIResponse converts a raw OpenAI Chat Completions JSON response
// body into the generic AssistantMessage/FinishReason/TokenUsage.
func ParseOpenAIResponse(raw []byte) (*AssistantMessage, FinishReason, TokenUsage, error) {
	var wire openAIResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: parse openai response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: openai response has no choices")
	}
	choice := wire.Choices[0]
	msg := &AssistantMessage{}
	if choice.Message.Content != nil {
		msg.Content = *choice.Message.Content
		msg.HasContent = true
	}
	for i, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        tc.ID,
			Index:     i,
			Type:      "function",
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
			Metadata:  map[string]any{"originalFormat": "openai"},
		})
	}
	finish := mapOpenAIFinishReason(choice.FinishReason)
	usage := TokenUsage{
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
		TotalTokens:  wire.Usage.TotalTokens,
	}
	return msg, finish, usage, nil
}

func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "tool_calls":
		return FinishToolCalls
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	case "stop", "":
		return FinishStop
	default:
		return FinishStop
	}
}

// ToOpenAIContinuation re-serializes an assistant message plus its tool
// results back into the OpenAI Chat transcript shape: the assistant message
// (with tool_calls) followed by one "tool" message per result.
func ToOpenAIContinuation(msg AssistantMessage, results []ToolResult) []map[string]any {
	var out []map[string]any
	assistant := map[string]any{"role": "assistant"}
	if msg.HasContent {
		assistant["content"] = msg.Content
	} else {
		assistant["content"] = nil
	}
	if len(msg.ToolCalls) > 0 {
		calls := make([]map[string]any, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": string(tc.Arguments),
				},
			})
		}
		assistant["tool_calls"] = calls
	}
	out = append(out, assistant)
	for _, r := range results {
		out = append(out, map[string]any{
			"role":         "tool",
			"tool_call_id": r.ToolCallID,
			"content":      r.Content,
		})
	}
	return out
}

// ToOpenAIUserMessage builds a plain text turn in the Chat Completions
// transcript shape; reused as-is by Mistral.
func ToOpenAIUserMessage(role, text string) map[string]any {
	return map[string]any{"role": role, "content": text}
}

// OpenAIStreamAssembler accumulates OpenAI Chat Completions streaming deltas,
// keyed by tool-call index, finalizing on the closing chunk.
type OpenAIStreamAssembler struct {
	pending map[int]*pendingToolCall
	order   []int
}

type pendingToolCall struct {
	id   string
	name string
	args []byte
}

// NewOpenAIStreamAssembler constructs an empty assembler.
func NewOpenAIStreamAssembler() *OpenAIStreamAssembler {
	return &OpenAIStreamAssembler{pending: map[int]*pendingToolCall{}}
}

// openAIStreamDeltaWire mirrors a single Chat Completions streaming chunk's
// choices[0].delta object.
type openAIStreamDeltaWire struct {
	Content   *string `json:"content"`
	ToolCalls []struct {
		Index    int    `json:"index"`
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

// Feed processes one raw "data: {...}" chunk payload and returns the generic
// events it produces: zero or more content-delta/tool-call-delta events, plus
// tool-call-complete and finish events on the chunk carrying finish_reason.
func (a *OpenAIStreamAssembler) Feed(raw []byte) ([]StreamEvent, error) {
	var wrapper struct {
		Choices []struct {
			Delta        openAIStreamDeltaWire `json:"delta"`
			FinishReason *string               `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("normalizer: parse openai stream chunk: %w", err)
	}
	var events []StreamEvent
	for _, choice := range wrapper.Choices {
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			events = append(events, StreamEvent{Kind: EventContentDelta, TextDelta: *choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			p, ok := a.pending[tc.Index]
			if !ok {
				p = &pendingToolCall{}
				a.pending[tc.Index] = p
				a.order = append(a.order, tc.Index)
			}
			if tc.ID != "" {
				p.id = tc.ID
			}
			if tc.Function.Name != "" {
				p.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				p.args = append(p.args, []byte(tc.Function.Arguments)...)
				events = append(events, StreamEvent{
					Kind: EventToolCallDelta, ToolCallIndex: tc.Index, ToolCallID: p.id,
					ToolCallName: p.name, ArgsDelta: tc.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != nil {
			for _, idx := range a.order {
				p := a.pending[idx]
				events = append(events, StreamEvent{
					Kind: EventToolCallComplete, ToolCallIndex: idx, ToolCallID: p.id,
					ToolCallName: p.name, Args: json.RawMessage(p.args),
				})
			}
			events = append(events, StreamEvent{Kind: EventFinish, FinishReason: mapOpenAIFinishReason(*choice.FinishReason)})
		}
	}
	return events, nil
}
