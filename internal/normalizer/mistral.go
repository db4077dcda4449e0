package normalizer

import (
	"encoding/json"
	"fmt"
)

// Mistral's chat completion API mirrors OpenAI's Chat Completions shape
// closely enough to reuse the wire structs, but it has its own quirks: tool
// call ids are optional (some models omit them, so this file synthesizes one
// from the index) and streaming tool-call deltas are not always keyed by a
// stable index the way OpenAI's are.

// ToMistralTools reuses the OpenAI Chat Completions tool wire shape; Mistral
// has no strict-mode schema promotion.
func ToMistralTools(defs []ToolDefinition) []OpenAIToolDef {
	out := make([]OpenAIToolDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, OpenAIToolDef{Type: "function", Function: OpenAIToolFuncDef{Name: d.Name, Description: d.Description, Parameters: d.Parameters}})
	}
	return out
}

// ParseMistralResponse converts a raw Mistral chat completion JSON response
// into the generic representation. When a tool call omits an id, one is
// synthesized from its position so downstream correlation (continuation,
// streaming accumulation) still has a stable key.
func ParseMistralResponse(raw []byte) (*AssistantMessage, FinishReason, TokenUsage, error) {
	var wire openAIResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: parse mistral response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: mistral response has no choices")
	}
	choice := wire.Choices[0]
	msg := &AssistantMessage{}
	if choice.Message.Content != nil {
		msg.Content = *choice.Message.Content
		msg.HasContent = true
	}
	for i, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: id, Index: i, Type: "function", Name: tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
			Metadata:  map[string]any{"originalFormat": "mistral"},
		})
	}
	finish := mapOpenAIFinishReason(choice.FinishReason)
	usage := TokenUsage{InputTokens: wire.Usage.PromptTokens, OutputTokens: wire.Usage.CompletionTokens, TotalTokens: wire.Usage.TotalTokens}
	return msg, finish, usage, nil
}

// ToMistralContinuation reuses the OpenAI Chat transcript shape.
func ToMistralContinuation(msg AssistantMessage, results []ToolResult) []map[string]any {
	return ToOpenAIContinuation(msg, results)
}

// ToMistralUserMessage reuses the OpenAI Chat Completions plain-text turn shape.
func ToMistralUserMessage(role, text string) map[string]any {
	return ToOpenAIUserMessage(role, text)
}

// MistralStreamAssembler accumulates Mistral streaming deltas. Mistral
// sometimes emits a tool call's full id+name in one delta chunk with no
// index field; this assembler falls back to positional ordering (the
// number of distinct tool call ids seen so far) when the index is absent.
type MistralStreamAssembler struct {
	inner      *OpenAIStreamAssembler
	idToIndex  map[string]int
	next       int
}

// NewMistralStreamAssembler constructs an empty assembler.
func NewMistralStreamAssembler() *MistralStreamAssembler {
	return &MistralStreamAssembler{inner: NewOpenAIStreamAssembler(), idToIndex: map[string]int{}}
}

// Feed processes one raw Mistral streaming chunk, defaulting any tool call
// index to a stable per-id counter when the upstream payload omits it.
func (a *MistralStreamAssembler) Feed(raw []byte) ([]StreamEvent, error) {
	var wrapper struct {
		Choices []struct {
			Delta struct {
				Content   *string `json:"content"`
				ToolCalls []struct {
					Index    *int   `json:"index"`
					ID       string `json:"id"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("normalizer: parse mistral stream chunk: %w", err)
	}
	normalized := wrapper
	for ci := range normalized.Choices {
		for ti := range normalized.Choices[ci].Delta.ToolCalls {
			tc := &normalized.Choices[ci].Delta.ToolCalls[ti]
			if tc.Index == nil {
				idx, ok := a.idToIndex[tc.ID]
				if !ok {
					idx = a.next
					a.next++
					if tc.ID != "" {
						a.idToIndex[tc.ID] = idx
					}
				}
				tc.Index = &idx
			}
		}
	}
	reencoded, err := json.Marshal(normalized)
	if err != nil {
		return nil, err
	}
	return a.inner.Feed(reencoded)
}
