package normalizer

import (
	"encoding/json"
	"fmt"
)

// GoogleToolDef is the Gemini function-declarations wire shape: a single
// "tools" entry wraps a "functionDeclarations" array.
type GoogleFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type GoogleToolDef struct {
	FunctionDeclarations []GoogleFunctionDeclaration `json:"functionDeclarations"`
}

// ToGoogleTools converts generic tool definitions into a single Gemini tools
// entry. Gemini has no strict-mode schema promotion.
func ToGoogleTools(defs []ToolDefinition) []GoogleToolDef {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]GoogleFunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, GoogleFunctionDeclaration{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return []GoogleToolDef{{FunctionDeclarations: decls}}
}

// googlePartWire mirrors one element of a Gemini candidate content.parts
// array. thoughtSignature can appear on ANY part kind — text or
// functionCall — and must be replayed on the same kind of part in the
// continuation request.
type googlePartWire struct {
	Text             string `json:"text,omitempty"`
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
	FunctionCall     *struct {
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCall,omitempty"`
}

type googleCandidateWire struct {
	Content struct {
		Parts []googlePartWire `json:"parts"`
	} `json:"content"`
	FinishReason string `json:"finishReason"`
}

type googleResponseWire struct {
	Candidates    []googleCandidateWire `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ParseGoogleResponse converts a raw Gemini generateContent JSON response
// into the generic representation, capturing every thoughtSignature
// regardless of which part kind it rode in on.
func ParseGoogleResponse(raw []byte) (*AssistantMessage, FinishReason, TokenUsage, error) {
	var wire googleResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: parse google response: %w", err)
	}
	if len(wire.Candidates) == 0 {
		return nil, "", TokenUsage{}, fmt.Errorf("normalizer: google response has no candidates")
	}
	cand := wire.Candidates[0]
	msg := &AssistantMessage{}
	callIndex := 0
	for i, part := range cand.Content.Parts {
		switch {
		case part.FunctionCall != nil:
			args, _ := json.Marshal(part.FunctionCall.Args)
			callID := fmt.Sprintf("call_%d", callIndex)
			callIndex++
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID: callID, Index: i, Type: "function", Name: part.FunctionCall.Name,
				Arguments: args, Metadata: map[string]any{"originalFormat": "google"},
			})
			if part.ThoughtSignature != "" {
				msg.ThoughtSignatures = append(msg.ThoughtSignatures, ThoughtSignaturePart{
					Kind: "function_call", Index: i, ToolCallID: callID, Signature: part.ThoughtSignature,
				})
			}
		case part.Text != "":
			msg.Content += part.Text
			msg.HasContent = true
			if part.ThoughtSignature != "" {
				msg.ThoughtSignatures = append(msg.ThoughtSignatures, ThoughtSignaturePart{
					Kind: "text", Index: i, Signature: part.ThoughtSignature,
				})
			}
		}
	}
	return msg, mapGoogleFinishReason(cand.FinishReason), TokenUsage{
		InputTokens: wire.UsageMetadata.PromptTokenCount, OutputTokens: wire.UsageMetadata.CandidatesTokenCount,
		TotalTokens: wire.UsageMetadata.TotalTokenCount,
	}, nil
}

func mapGoogleFinishReason(reason string) FinishReason {
	switch reason {
	case "STOP", "":
		return FinishStop
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION":
		return FinishContentFilter
	default:
		return FinishStop
	}
}

// ToGoogleContinuation re-serializes an assistant message plus tool results
// into Gemini content turns: a "model" content with text/functionCall parts
// (each signed part getting its thoughtSignature replayed onto the same
// part kind it originated from) followed by a "user" content carrying
// functionResponse parts.
func ToGoogleContinuation(msg AssistantMessage, results []ToolResult) []map[string]any {
	sigByIndex := map[int]string{}
	for _, sig := range msg.ThoughtSignatures {
		sigByIndex[sig.Index] = sig.Signature
	}

	var modelParts []map[string]any
	if msg.HasContent {
		part := map[string]any{"text": msg.Content}
		// Text signatures are rare (most appear on function_call parts) but
		// replayed the same way when present.
		for _, sig := range msg.ThoughtSignatures {
			if sig.Kind == "text" {
				part["thoughtSignature"] = sig.Signature
				break
			}
		}
		modelParts = append(modelParts, part)
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal(tc.Arguments, &args)
		part := map[string]any{"functionCall": map[string]any{"name": tc.Name, "args": args}}
		for _, sig := range msg.ThoughtSignatures {
			if sig.Kind == "function_call" && sig.ToolCallID == tc.ID {
				part["thoughtSignature"] = sig.Signature
				break
			}
		}
		modelParts = append(modelParts, part)
	}
	out := []map[string]any{{"role": "model", "parts": modelParts}}

	if len(results) > 0 {
		var userParts []map[string]any
		for _, r := range results {
			userParts = append(userParts, map[string]any{
				"functionResponse": map[string]any{
					"name":     r.Name,
					"response": map[string]any{"content": r.Content},
				},
			})
		}
		out = append(out, map[string]any{"role": "user", "parts": userParts})
	}
	return out
}

// ToGoogleUserMessage builds a plain text turn in the Gemini contents shape.
// role is "user" for the human turn; prior plain-text assistant turns (no
// tool calls, no thought signatures) use "model".
func ToGoogleUserMessage(role, text string) map[string]any {
	return map[string]any{"role": role, "parts": []map[string]any{{"text": text}}}
}

// GoogleStreamAssembler accumulates Gemini streamGenerateContent chunks.
// Each chunk carries a full candidate snapshot (not a delta against the
// prior chunk), so the assembler emits the incremental suffix per part
// index rather than accumulating raw bytes.
type GoogleStreamAssembler struct {
	textSeen map[int]string
	argsSeen map[int]string
	names    map[int]string
}

// NewGoogleStreamAssembler constructs an empty assembler.
func NewGoogleStreamAssembler() *GoogleStreamAssembler {
	return &GoogleStreamAssembler{textSeen: map[int]string{}, argsSeen: map[int]string{}, names: map[int]string{}}
}

// Feed processes one raw streamGenerateContent chunk.
func (a *GoogleStreamAssembler) Feed(raw []byte) ([]StreamEvent, error) {
	var wire googleResponseWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("normalizer: parse google stream chunk: %w", err)
	}
	var events []StreamEvent
	if len(wire.Candidates) == 0 {
		return events, nil
	}
	cand := wire.Candidates[0]
	for i, part := range cand.Content.Parts {
		switch {
		case part.Text != "":
			prev := a.textSeen[i]
			if len(part.Text) > len(prev) {
				events = append(events, StreamEvent{Kind: EventContentDelta, TextDelta: part.Text[len(prev):]})
				a.textSeen[i] = part.Text
			}
		case part.FunctionCall != nil:
			argsJSON, _ := json.Marshal(part.FunctionCall.Args)
			a.names[i] = part.FunctionCall.Name
			events = append(events, StreamEvent{
				Kind: EventToolCallComplete, ToolCallIndex: i, ToolCallName: part.FunctionCall.Name, Args: argsJSON,
			})
		}
	}
	if cand.FinishReason != "" {
		events = append(events, StreamEvent{
			Kind: EventFinish, FinishReason: mapGoogleFinishReason(cand.FinishReason),
			Usage: &TokenUsage{InputTokens: wire.UsageMetadata.PromptTokenCount, OutputTokens: wire.UsageMetadata.CandidatesTokenCount, TotalTokens: wire.UsageMetadata.TotalTokenCount},
		})
	}
	return events, nil
}
