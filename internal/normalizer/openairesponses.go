package normalizer

import (
	"encoding/json"
	"fmt"
)

// OpenAIResponsesToolDef is the Responses API tool definition wire shape —
// flatter than Chat Completions: name/parameters sit directly on the tool
// object instead of nested under "function".
type OpenAIResponsesToolDef struct {
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Description string        `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// ToOpenAIResponsesTools converts generic tool definitions to the Responses
// API wire format.
func ToOpenAIResponsesTools(defs []ToolDefinition) []OpenAIResponsesToolDef {
	out := make([]OpenAIResponsesToolDef, 0, len(defs))
	for _, d := range defs {
		params := d.Parameters
		if d.Strict {
			params = PromoteRequiredForStrictMode(params)
		}
		out = append(out, OpenAIResponsesToolDef{
			Type: "function", Name: d.Name, Description: d.Description,
			Parameters: params, Strict: d.Strict,
		})
	}
	return out
}

// responsesOutputItemWire mirrors one element of a Responses API response's
// "output" array. The Responses API has no top-level finish_reason field;
// it must be derived from which item types are present, handled by
// deriveResponsesFinishReason below.
type responsesOutputItemWire struct {
	Type      string `json:"type"` // "message", "function_call", "reasoning"
	ID        string `json:"id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type responsesWire struct {
	Output []responsesOutputItemWire `json:"output"`
	Usage  struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
}

// ParseOpenAIResponsesResponse converts a raw Responses API JSON response
// body into the generic representation, deriving the finish reason from the
// output item shapes present rather than from an explicit field.
func ParseOpenAIResponsesResponse(raw []byte) (*AssistantMessage, FinishReason, TokenUsage, error) {
	var wire responsesWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: parse openai responses response: %w", err)
	}
	msg := &AssistantMessage{}
	for i, item := range wire.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" || c.Type == "text" {
					msg.Content += c.Text
					msg.HasContent = true
				}
			}
		case "function_call":
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:        item.CallID,
				Index:     i,
				Type:      "function",
				Name:      item.Name,
				Arguments: json.RawMessage(item.Arguments),
				Metadata:  map[string]any{"originalFormat": "openai-responses", "itemId": item.ID},
			})
		}
	}
	finish := deriveResponsesFinishReason(wire)
	usage := TokenUsage{InputTokens: wire.Usage.InputTokens, OutputTokens: wire.Usage.OutputTokens, TotalTokens: wire.Usage.TotalTokens}
	return msg, finish, usage, nil
}

func deriveResponsesFinishReason(wire responsesWire) FinishReason {
	if wire.IncompleteDetails != nil {
		switch wire.IncompleteDetails.Reason {
		case "max_output_tokens":
			return FinishLength
		case "content_filter":
			return FinishContentFilter
		}
	}
	for _, item := range wire.Output {
		if item.Type == "function_call" {
			return FinishToolCalls
		}
	}
	return FinishStop
}

// ToOpenAIResponsesContinuation re-serializes an assistant message plus its
// tool results into Responses API "input" items: a function_call item per
// tool call, followed by a function_call_output item per result, keyed on
// call_id.
func ToOpenAIResponsesContinuation(msg AssistantMessage, results []ToolResult) []map[string]any {
	var out []map[string]any
	if msg.HasContent {
		out = append(out, map[string]any{
			"type": "message", "role": "assistant",
			"content": []map[string]any{{"type": "output_text", "text": msg.Content}},
		})
	}
	for _, tc := range msg.ToolCalls {
		out = append(out, map[string]any{
			"type": "function_call", "call_id": tc.ID, "name": tc.Name, "arguments": string(tc.Arguments),
		})
	}
	for _, r := range results {
		out = append(out, map[string]any{
			"type": "function_call_output", "call_id": r.ToolCallID, "output": r.Content,
		})
	}
	return out
}

// ToOpenAIResponsesUserMessage builds a plain text turn in the Responses API
// "input" item shape.
func ToOpenAIResponsesUserMessage(role, text string) map[string]any {
	return map[string]any{"type": "message", "role": role, "content": text}
}

// OpenAIResponsesStreamAssembler accumulates Responses API streaming events.
// Unlike Chat Completions, Responses events are keyed by item_id/output_index
// rather than a flat tool-call index, so this assembler maps item_id to a
// stable generic ToolCallIndex defensively.
type OpenAIResponsesStreamAssembler struct {
	itemIndex map[string]int
	pending   map[string]*pendingToolCall
	next      int
}

// NewOpenAIResponsesStreamAssembler constructs an empty assembler.
func NewOpenAIResponsesStreamAssembler() *OpenAIResponsesStreamAssembler {
	return &OpenAIResponsesStreamAssembler{itemIndex: map[string]int{}, pending: map[string]*pendingToolCall{}}
}

type responsesStreamEventWire struct {
	Type   string `json:"type"`
	ItemID string `json:"item_id"`
	Item   *struct {
		ID     string `json:"id"`
		Type   string `json:"type"`
		Name   string `json:"name"`
		CallID string `json:"call_id"`
	} `json:"item"`
	Delta     string `json:"delta"`
	Arguments string `json:"arguments"`
	Name      string `json:"name"`
	Response  *struct {
		IncompleteDetails *struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response"`
}

// Feed processes one raw Responses API streaming event payload.
func (a *OpenAIResponsesStreamAssembler) Feed(raw []byte) ([]StreamEvent, error) {
	var ev responsesStreamEventWire
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("normalizer: parse openai responses stream event: %w", err)
	}
	var events []StreamEvent
	switch ev.Type {
	case "response.output_text.delta":
		events = append(events, StreamEvent{Kind: EventContentDelta, TextDelta: ev.Delta})
	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			idx, ok := a.itemIndex[ev.Item.ID]
			if !ok {
				idx = a.next
				a.next++
				a.itemIndex[ev.Item.ID] = idx
				a.pending[ev.Item.ID] = &pendingToolCall{id: ev.Item.CallID, name: ev.Item.Name}
			}
		}
	case "response.function_call_arguments.delta":
		idx, ok := a.itemIndex[ev.ItemID]
		if !ok {
			break
		}
		p := a.pending[ev.ItemID]
		p.args = append(p.args, []byte(ev.Delta)...)
		events = append(events, StreamEvent{Kind: EventToolCallDelta, ToolCallIndex: idx, ToolCallID: p.id, ToolCallName: p.name, ArgsDelta: ev.Delta})
	case "response.function_call_arguments.done":
		_, ok := a.itemIndex[ev.ItemID]
		if !ok {
			break
		}
		p := a.pending[ev.ItemID]
		// The "done" form is authoritative: it supersedes whatever the
		// deltas accumulated, covering non-adjacent or dropped deltas.
		p.args = []byte(ev.Arguments)
		if ev.Name != "" {
			p.name = ev.Name
		}
	case "response.output_item.done":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			idx, ok := a.itemIndex[ev.Item.ID]
			if ok {
				p := a.pending[ev.Item.ID]
				events = append(events, StreamEvent{Kind: EventToolCallComplete, ToolCallIndex: idx, ToolCallID: p.id, ToolCallName: p.name, Args: json.RawMessage(p.args)})
			}
		}
	case "response.completed", "response.incomplete":
		finish := FinishStop
		var usage *TokenUsage
		if ev.Response != nil {
			usage = &TokenUsage{InputTokens: ev.Response.Usage.InputTokens, OutputTokens: ev.Response.Usage.OutputTokens, TotalTokens: ev.Response.Usage.TotalTokens}
			if ev.Response.IncompleteDetails != nil && ev.Response.IncompleteDetails.Reason == "max_output_tokens" {
				finish = FinishLength
			}
		}
		if len(a.pending) > 0 && finish == FinishStop {
			finish = FinishToolCalls
		}
		events = append(events, StreamEvent{Kind: EventFinish, FinishReason: finish, Usage: usage})
	}
	return events, nil
}
