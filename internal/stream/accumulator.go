package stream

import (
	"encoding/json"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
)

// CompletedToolCall is a consolidated tool-call entry flushed once its
// tool-call-complete event arrives.
type CompletedToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments json.RawMessage
	Metadata  map[string]any
}

// Accumulator implements the Streaming Pipeline's ingress logic:
// forwarding content/image events immediately and recording a consolidated
// entry on tool-call-complete. Tool-call deltas are forwarded but not
// buffered; an entry's arguments are the ones its complete event carries.
// One Accumulator is scoped to a single adapter call (one loop iteration of
// the orchestrator's tool loop), not to the whole conversation.
type Accumulator struct {
	hub    *Hub
	chatID string

	content     string
	images      []normalizer.StreamEvent
	toolCalls   map[int]*CompletedToolCall
	order       []int
	finishSeen  bool
	finish      normalizer.FinishReason
	usage       *normalizer.TokenUsage
}

// NewAccumulator constructs an Accumulator that forwards content-delta and
// image events to hub for chatID as they arrive.
func NewAccumulator(hub *Hub, chatID string) *Accumulator {
	return &Accumulator{hub: hub, chatID: chatID, toolCalls: map[int]*CompletedToolCall{}}
}

// Feed processes one generic event from the adapter.
func (a *Accumulator) Feed(ev normalizer.StreamEvent) {
	switch ev.Kind {
	case normalizer.EventContentDelta:
		a.content += ev.TextDelta
		a.hub.Publish(a.chatID, ev)
	case normalizer.EventImage:
		a.images = append(a.images, ev)
		a.hub.Publish(a.chatID, ev)
	case normalizer.EventToolCallDelta:
		a.hub.Publish(a.chatID, ev)
	case normalizer.EventToolCallComplete:
		tc, ok := a.toolCalls[ev.ToolCallIndex]
		if !ok {
			tc = &CompletedToolCall{Index: ev.ToolCallIndex}
			a.toolCalls[ev.ToolCallIndex] = tc
			a.order = append(a.order, ev.ToolCallIndex)
		}
		tc.ID = ev.ToolCallID
		tc.Name = ev.ToolCallName
		tc.Arguments = ev.Args
		tc.Metadata = ev.Metadata
		a.hub.Publish(a.chatID, ev)
	case normalizer.EventFinish:
		a.finishSeen = true
		a.finish = ev.FinishReason
		a.usage = ev.Usage
		a.hub.Publish(a.chatID, ev)
	case normalizer.EventError, normalizer.EventCancelled:
		a.hub.Publish(a.chatID, ev)
	}
}

// Content returns the accumulated assistant text.
func (a *Accumulator) Content() string { return a.content }

// ToolCalls returns completed tool calls in original output order.
func (a *Accumulator) ToolCalls() []CompletedToolCall {
	out := make([]CompletedToolCall, 0, len(a.order))
	for _, idx := range a.order {
		out = append(out, *a.toolCalls[idx])
	}
	return out
}

// Finished reports whether a finish event was observed, and its reason.
func (a *Accumulator) Finished() (normalizer.FinishReason, bool) {
	return a.finish, a.finishSeen
}

// Usage returns the token usage reported by the finish event, if any.
func (a *Accumulator) Usage() *normalizer.TokenUsage { return a.usage }
