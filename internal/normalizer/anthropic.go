package normalizer

import (
	"encoding/json"
	"fmt"
)

// AnthropicToolDef is the Anthropic Messages API tool definition wire shape:
// name/description/input_schema sit directly on the tool object.
type AnthropicToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToAnthropicTools converts generic tool definitions to the Anthropic wire
// format. Anthropic has no strict-mode schema promotion.
func ToAnthropicTools(defs []ToolDefinition) []AnthropicToolDef {
	out := make([]AnthropicToolDef, 0, len(defs))
	for _, d := range defs {
		out = append(out, AnthropicToolDef{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
	}
	return out
}

// anthropicContentBlockWire mirrors one element of a Messages API response's
// "content" array: text, tool_use, or thinking blocks.
type anthropicContentBlockWire struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

type anthropicResponseWire struct {
	Content    []anthropicContentBlockWire `json:"content"`
	StopReason string                      `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseAnthropicResponse converts a raw Messages API JSON response body into
// the generic representation. thinking blocks with a signature are recorded
// as ThoughtSignatureParts; ToAnthropicContinuation does not replay them.
func ParseAnthropicResponse(raw []byte) (*AssistantMessage, FinishReason, TokenUsage, error) {
	var wire anthropicResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: parse anthropic response: %w", err)
	}
	msg := &AssistantMessage{}
	for i, block := range wire.Content {
		switch block.Type {
		case "text":
			msg.Content += block.Text
			msg.HasContent = true
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID: block.ID, Index: i, Type: "function", Name: block.Name,
				Arguments: block.Input,
				Metadata:  map[string]any{"originalFormat": "anthropic"},
			})
		case "thinking":
			if block.Signature != "" {
				msg.ThoughtSignatures = append(msg.ThoughtSignatures, ThoughtSignaturePart{
					Kind: "text", Index: i, Signature: block.Signature,
				})
			}
		}
	}
	return msg, mapAnthropicStopReason(wire.StopReason), TokenUsage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens, TotalTokens: wire.Usage.InputTokens + wire.Usage.OutputTokens}, nil
}

func mapAnthropicStopReason(reason string) FinishReason {
	switch reason {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "stop_sequence", "end_turn", "":
		return FinishStop
	default:
		return FinishStop
	}
}

// ToAnthropicContinuation re-serializes an assistant message plus its tool
// results into the Anthropic transcript shape: one assistant message with
// text/tool_use blocks, followed by a user message carrying tool_result
// blocks keyed by tool_use_id.
func ToAnthropicContinuation(msg AssistantMessage, results []ToolResult) []map[string]any {
	var assistantBlocks []map[string]any
	if msg.HasContent {
		assistantBlocks = append(assistantBlocks, map[string]any{"type": "text", "text": msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal(tc.Arguments, &input)
		assistantBlocks = append(assistantBlocks, map[string]any{
			"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": input,
		})
	}
	out := []map[string]any{{"role": "assistant", "content": assistantBlocks}}

	if len(results) > 0 {
		var resultBlocks []map[string]any
		for _, r := range results {
			block := map[string]any{"type": "tool_result", "tool_use_id": r.ToolCallID, "content": r.Content}
			if r.IsError {
				block["is_error"] = true
			}
			resultBlocks = append(resultBlocks, block)
		}
		out = append(out, map[string]any{"role": "user", "content": resultBlocks})
	}
	return out
}

// ToAnthropicUserMessage builds a plain text turn in the Anthropic Messages
// transcript shape, used by the orchestrator to seed the first user turn
// (the system prompt travels separately in Request.SystemPrompt; Anthropic
// takes it as a dedicated field, not a message).
func ToAnthropicUserMessage(role, text string) map[string]any {
	return map[string]any{"role": role, "content": []map[string]any{{"type": "text", "text": text}}}
}

// AnthropicStreamAssembler accumulates Messages API streaming events
// (content_block_start/delta/stop, message_delta) into generic StreamEvents.
type AnthropicStreamAssembler struct {
	blockKind map[int]string
	blockID   map[int]string
	blockName map[int]string
	args      map[int][]byte
}

// NewAnthropicStreamAssembler constructs an empty assembler.
func NewAnthropicStreamAssembler() *AnthropicStreamAssembler {
	return &AnthropicStreamAssembler{
		blockKind: map[int]string{}, blockID: map[int]string{}, blockName: map[int]string{}, args: map[int][]byte{},
	}
}

type anthropicStreamEventWire struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage *struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Feed processes one decoded Anthropic SSE event (already split by "event:"
// framing upstream) and returns the generic events it produces.
func (a *AnthropicStreamAssembler) Feed(eventType string, raw []byte) ([]StreamEvent, error) {
	var wire anthropicStreamEventWire
	wire.Type = eventType
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("normalizer: parse anthropic stream event: %w", err)
	}
	var events []StreamEvent
	switch eventType {
	case "content_block_start":
		if wire.ContentBlock != nil {
			a.blockKind[wire.Index] = wire.ContentBlock.Type
			a.blockID[wire.Index] = wire.ContentBlock.ID
			a.blockName[wire.Index] = wire.ContentBlock.Name
		}
	case "content_block_delta":
		kind := a.blockKind[wire.Index]
		if wire.Delta == nil {
			break
		}
		switch kind {
		case "text":
			if wire.Delta.Text != "" {
				events = append(events, StreamEvent{Kind: EventContentDelta, TextDelta: wire.Delta.Text})
			}
		case "tool_use":
			a.args[wire.Index] = append(a.args[wire.Index], []byte(wire.Delta.PartialJSON)...)
			events = append(events, StreamEvent{
				Kind: EventToolCallDelta, ToolCallIndex: wire.Index, ToolCallID: a.blockID[wire.Index],
				ToolCallName: a.blockName[wire.Index], ArgsDelta: wire.Delta.PartialJSON,
			})
		}
	case "content_block_stop":
		if a.blockKind[wire.Index] == "tool_use" {
			events = append(events, StreamEvent{
				Kind: EventToolCallComplete, ToolCallIndex: wire.Index, ToolCallID: a.blockID[wire.Index],
				ToolCallName: a.blockName[wire.Index], Args: json.RawMessage(a.args[wire.Index]),
			})
		}
	case "message_delta":
		if wire.Delta != nil && wire.Delta.StopReason != "" {
			var usage *TokenUsage
			if wire.Usage != nil {
				usage = &TokenUsage{OutputTokens: wire.Usage.OutputTokens}
			}
			events = append(events, StreamEvent{Kind: EventFinish, FinishReason: mapAnthropicStopReason(wire.Delta.StopReason), Usage: usage})
		}
	}
	return events, nil
}
