package orchestrator

import (
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
)

// userMessageFunc and continuationFunc abstract over the per-provider
// ToXUserMessage/ToXContinuation pair in internal/normalizer, letting
// buildMessages stay provider-agnostic.
type (
	userMessageFunc  func(role, text string) map[string]any
	continuationFunc func(msg normalizer.AssistantMessage, results []normalizer.ToolResult) []map[string]any
)

// normalizerPair returns the user-message and continuation builders for a
// model's provider. iassistant and azure-image have no dedicated normalizer
// file, so they and the OpenAI-API-compatible "local" provider
// all share the OpenAI-shaped plain {role, content} turn construction.
func normalizerPair(provider config.Provider) (userMessageFunc, continuationFunc) {
	switch provider {
	case config.ProviderOpenAIResponses:
		return normalizer.ToOpenAIResponsesUserMessage, normalizer.ToOpenAIResponsesContinuation
	case config.ProviderAnthropic:
		return normalizer.ToAnthropicUserMessage, normalizer.ToAnthropicContinuation
	case config.ProviderGoogle:
		return normalizer.ToGoogleUserMessage, normalizer.ToGoogleContinuation
	case config.ProviderMistral:
		return normalizer.ToMistralUserMessage, normalizer.ToMistralContinuation
	default: // openai, local, iassistant, azure-image
		return normalizer.ToOpenAIUserMessage, normalizer.ToOpenAIContinuation
	}
}

// buildMessages replays the session's turn history into the wire-shaped
// message list a given provider's Request.Messages expects, by dispatching
// each turn through the provider's ToXUserMessage/ToXContinuation pair.
func buildMessages(provider config.Provider, turns []turn) []map[string]any {
	userMsg, continuation := normalizerPair(provider)
	var out []map[string]any
	for _, t := range turns {
		switch t.role {
		case "user":
			out = append(out, userMsg("user", t.text))
		case "assistant":
			if t.assistant == nil {
				continue
			}
			out = append(out, continuation(*t.assistant, t.results)...)
		}
	}
	return out
}
