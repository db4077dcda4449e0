package normalizer_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
)

func TestParseOpenAIResponse_ToolCallRoundTrip(t *testing.T) {
	raw := []byte(`{
		"choices": [{
			"message": {"role":"assistant","content":null,"tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Berlin\"}"}}
			]},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)
	msg, finish, usage, err := normalizer.ParseOpenAIResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, normalizer.FinishToolCalls, finish)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "get_weather", msg.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Berlin"}`, string(msg.ToolCalls[0].Arguments))
	assert.Equal(t, 15, usage.TotalTokens)

	continuation := normalizer.ToOpenAIContinuation(*msg, []normalizer.ToolResult{
		{ToolCallID: "call_1", Content: "18C and sunny"},
	})
	require.Len(t, continuation, 2)
	assert.Equal(t, "assistant", continuation[0]["role"])
	assert.Equal(t, "tool", continuation[1]["role"])
	assert.Equal(t, "call_1", continuation[1]["tool_call_id"])
}

func TestParseAnthropicResponse_ToolCallRoundTrip(t *testing.T) {
	raw := []byte(`{
		"content": [
			{"type":"text","text":"Let me check that."},
			{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Berlin"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`)
	msg, finish, usage, err := normalizer.ParseAnthropicResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, normalizer.FinishToolCalls, finish)
	assert.Equal(t, 28, usage.TotalTokens)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "toolu_1", msg.ToolCalls[0].ID)

	continuation := normalizer.ToAnthropicContinuation(*msg, []normalizer.ToolResult{
		{ToolCallID: "toolu_1", Content: "18C and sunny"},
	})
	require.Len(t, continuation, 2)
	assert.Equal(t, "assistant", continuation[0]["role"])
	assert.Equal(t, "user", continuation[1]["role"])
}

func TestParseGoogleResponse_PreservesThoughtSignatureOnFunctionCall(t *testing.T) {
	raw := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"functionCall": {"name":"get_weather","args":{"city":"Berlin"}}, "thoughtSignature":"sig-abc"}
			]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 4, "totalTokenCount": 16}
	}`)
	msg, _, _, err := normalizer.ParseGoogleResponse(raw)
	require.NoError(t, err)
	require.Len(t, msg.ToolCalls, 1)
	require.Len(t, msg.ThoughtSignatures, 1)
	assert.Equal(t, "function_call", msg.ThoughtSignatures[0].Kind)
	assert.Equal(t, msg.ToolCalls[0].ID, msg.ThoughtSignatures[0].ToolCallID)
	assert.Equal(t, "sig-abc", msg.ThoughtSignatures[0].Signature)

	continuation := normalizer.ToGoogleContinuation(*msg, nil)
	require.Len(t, continuation, 1)
	parts := continuation[0]["parts"].([]map[string]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "sig-abc", parts[0]["thoughtSignature"])
	_, hasCall := parts[0]["functionCall"]
	assert.True(t, hasCall, "signature must be replayed on the functionCall part it originated from")
}

func TestParseGoogleResponse_PreservesThoughtSignatureOnText(t *testing.T) {
	raw := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"text": "thinking out loud", "thoughtSignature": "sig-text"}
			]},
			"finishReason": "STOP"
		}]
	}`)
	msg, _, _, err := normalizer.ParseGoogleResponse(raw)
	require.NoError(t, err)
	require.Len(t, msg.ThoughtSignatures, 1)
	assert.Equal(t, "text", msg.ThoughtSignatures[0].Kind)

	continuation := normalizer.ToGoogleContinuation(*msg, nil)
	parts := continuation[0]["parts"].([]map[string]any)
	require.Len(t, parts, 1)
	assert.Equal(t, "sig-text", parts[0]["thoughtSignature"])
	_, hasText := parts[0]["text"]
	assert.True(t, hasText)
}

func TestParseOpenAIResponsesResponse_DerivesFinishReasonFromOutputShape(t *testing.T) {
	toolCallRaw := []byte(`{
		"output": [{"type":"function_call","id":"item_1","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"Berlin\"}"}],
		"usage": {"input_tokens": 9, "output_tokens": 3, "total_tokens": 12}
	}`)
	msg, finish, _, err := normalizer.ParseOpenAIResponsesResponse(toolCallRaw)
	require.NoError(t, err)
	assert.Equal(t, normalizer.FinishToolCalls, finish)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)

	textOnlyRaw := []byte(`{
		"output": [{"type":"message","content":[{"type":"output_text","text":"hello"}]}]
	}`)
	_, finish2, _, err := normalizer.ParseOpenAIResponsesResponse(textOnlyRaw)
	require.NoError(t, err)
	assert.Equal(t, normalizer.FinishStop, finish2)

	truncatedRaw := []byte(`{
		"output": [{"type":"message","content":[{"type":"output_text","text":"partial"}]}],
		"incomplete_details": {"reason": "max_output_tokens"}
	}`)
	_, finish3, _, err := normalizer.ParseOpenAIResponsesResponse(truncatedRaw)
	require.NoError(t, err)
	assert.Equal(t, normalizer.FinishLength, finish3)
}

func TestOpenAIStreamAssembler_AccumulatesByIndex(t *testing.T) {
	a := normalizer.NewOpenAIStreamAssembler()
	chunk1 := []byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":"{\"ci"}}]}}]}`)
	chunk2 := []byte(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Berlin\"}"}}]}}]}`)
	chunk3 := []byte(`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`)

	_, err := a.Feed(chunk1)
	require.NoError(t, err)
	_, err = a.Feed(chunk2)
	require.NoError(t, err)
	events, err := a.Feed(chunk3)
	require.NoError(t, err)

	var complete *normalizer.StreamEvent
	for i := range events {
		if events[i].Kind == normalizer.EventToolCallComplete {
			complete = &events[i]
		}
	}
	require.NotNil(t, complete)
	assert.JSONEq(t, `{"city":"Berlin"}`, string(complete.Args))
}

func TestOpenAIResponsesStreamAssembler_DoneEventSuppliesAuthoritativeArgs(t *testing.T) {
	a := normalizer.NewOpenAIResponsesStreamAssembler()

	added := []byte(`{"type":"response.output_item.added","item":{"id":"item_1","type":"function_call","call_id":"c1","name":"webContentExtractor"}}`)
	delta1 := []byte(`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"{"}`)
	delta2 := []byte(`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"\"url\":\"http"}`)
	delta3 := []byte(`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"s://...\"}"}`)
	done := []byte(`{"type":"response.function_call_arguments.done","item_id":"item_1","arguments":"{\"url\":\"https://example.com\"}"}`)
	itemDone := []byte(`{"type":"response.output_item.done","item":{"id":"item_1","type":"function_call","call_id":"c1","name":"webContentExtractor"}}`)

	for _, chunk := range [][]byte{added, delta1, delta2, delta3, done} {
		_, err := a.Feed(chunk)
		require.NoError(t, err)
	}
	events, err := a.Feed(itemDone)
	require.NoError(t, err)

	require.Len(t, events, 1)
	complete := events[0]
	assert.Equal(t, normalizer.EventToolCallComplete, complete.Kind)
	assert.Equal(t, "c1", complete.ToolCallID)
	assert.Equal(t, "webContentExtractor", complete.ToolCallName)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(complete.Args))
}

func TestMistralStreamAssembler_DefaultsMissingIndex(t *testing.T) {
	a := normalizer.NewMistralStreamAssembler()
	chunk := []byte(`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","function":{"name":"search","arguments":"{}"}}]}}]}`)
	events, err := a.Feed(chunk)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].ToolCallIndex)
}

func TestPromoteRequiredForStrictMode(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
			"unit": map[string]any{"type": "string"},
		},
		"required": []string{"city"},
	}
	promoted := normalizer.PromoteRequiredForStrictMode(schema)
	required, ok := promoted["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"city", "unit"}, required)
	assert.Equal(t, false, promoted["additionalProperties"])

	var roundTrip map[string]any
	raw, err := json.Marshal(promoted)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &roundTrip))
}
