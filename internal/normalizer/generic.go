// Package normalizer implements the Tool-Calling Normalizer: a
// uniform internal representation for tool definitions, tool calls, and
// assistant messages, translated to/from five provider wire formats. Each
// provider gets its own file (openai.go, openairesponses.go, anthropic.go,
// google.go, mistral.go); the wire formats differ enough that this is
// deliberately not a single shared template with flags.
package normalizer

import "encoding/json"

// ToolDefinition is the generic description of a callable tool, independent
// of any wire format.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-Schema object
	Strict      bool           // OpenAI/OpenAI-Responses strict mode
}

// FinishReason enumerates why generation stopped, normalized across providers.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishError         FinishReason = "error"
	FinishClarification FinishReason = "clarification"
)

// ToolCall is the Generic Tool Call: the cross-provider
// representation of a single function-call request from the model. Metadata
// is the key cross-provider-preservation field — provider adapters MUST NOT
// strip unknown entries.
type ToolCall struct {
	ID       string
	Index    int
	Type     string // always "function"
	Name     string
	Arguments json.RawMessage // canonical JSON string of arguments
	Metadata map[string]any
}

// ThoughtSignaturePart identifies which part of the original response a
// Google thoughtSignature was attached to, so it can be replayed on the same
// kind of part in the continuation request.
type ThoughtSignaturePart struct {
	// Kind is "text" or "function_call".
	Kind string
	// Index is the position of the part within the original parts list.
	Index int
	// ToolCallID correlates a function_call-kind signature back to the
	// ToolCall it was attached to; empty for text-kind signatures.
	ToolCallID string
	Signature  string
}

// AssistantMessage is the generic assistant message: content,
// tool calls, and any provider-opaque continuation state (thought
// signatures today; future providers can add fields following the same
// never-strip-unknown-fields rule).
type AssistantMessage struct {
	Content           string
	HasContent        bool
	ToolCalls         []ToolCall
	ThoughtSignatures []ThoughtSignaturePart
}

// ToolResult is a result to be fed back to the model for a prior ToolCall,
// keyed by ToolCallID.
type ToolResult struct {
	ToolCallID string
	Name       string
	Content    string
	IsError    bool
}

// TokenUsage is provider-reported token usage, normalized across
// providers (fields not reported by a given provider are left zero).
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// StreamEventKind enumerates the Generic Stream Event variants.
type StreamEventKind string

const (
	EventContentDelta   StreamEventKind = "content-delta"
	EventToolCallDelta  StreamEventKind = "tool-call-delta"
	EventToolCallComplete StreamEventKind = "tool-call-complete"
	EventImage          StreamEventKind = "image"
	EventFinish         StreamEventKind = "finish"
	EventError          StreamEventKind = "error"

	// EventClarification is emitted by the orchestrator (not an adapter) when
	// an ask_user tool call suspends the tool loop pending the next user
	// message.
	EventClarification StreamEventKind = "clarification"

	// EventCancelled ends the stream when the active request is cancelled;
	// emitted by the orchestrator rather than an adapter.
	EventCancelled StreamEventKind = "cancelled"
)

// StreamEvent is the Generic Stream Event. Exactly one of the
// payload fields is meaningful, selected by Kind. The json tags are the
// event's SSE wire shape; the httpapi layer marshals events verbatim.
type StreamEvent struct {
	Kind StreamEventKind `json:"kind"`

	// content-delta
	TextDelta string `json:"text,omitempty"`

	// tool-call-delta / tool-call-complete
	ToolCallIndex int             `json:"index"`
	ToolCallID    string          `json:"id,omitempty"`
	ToolCallName  string          `json:"name,omitempty"`
	ArgsDelta     string          `json:"argsDelta,omitempty"` // tool-call-delta only
	Args          json.RawMessage `json:"args,omitempty"`      // tool-call-complete only
	Metadata      map[string]any  `json:"metadata,omitempty"`

	// image
	ImageMimeType string `json:"mimeType,omitempty"`
	ImageB64      string `json:"b64,omitempty"`

	// finish
	FinishReason FinishReason `json:"finishReason,omitempty"`
	Usage        *TokenUsage  `json:"usage,omitempty"`

	// error
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"message,omitempty"`

	// clarification
	ClarificationQuestion   string         `json:"question,omitempty"`
	ClarificationSchema     map[string]any `json:"schema,omitempty"`
	ClarificationToolCallID string         `json:"toolCallId,omitempty"`
}

// PromoteRequiredForStrictMode covers an OpenAI constraint: strict-mode
// tool schemas require every property listed in "required". When
// an app-provided schema does not list all properties, this mutates a copy
// of the schema so every key becomes required before the schema is sent.
func PromoteRequiredForStrictMode(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return schema
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = v
	}
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	out["required"] = required
	out["additionalProperties"] = false
	return out
}
