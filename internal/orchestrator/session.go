package orchestrator

import (
	"context"
	"sync"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
)

// turn is one entry of a chat's conversation history. A user turn carries
// plain text; an assistant turn carries the full generic AssistantMessage (so
// tool_calls and thought signatures survive verbatim across loop iterations)
// plus any tool results produced in response to it.
type turn struct {
	role      string // "user" or "assistant"
	text      string
	assistant *normalizer.AssistantMessage
	results   []normalizer.ToolResult
}

// session is the per-chatId state the orchestrator keeps across requests:
// conversation history, the clarification counter, a pending ask_user
// tool-call id awaiting resolution, and the cancel func for whatever
// request is currently in flight.
type session struct {
	mu sync.Mutex

	userID          string
	turns           []turn
	clarifications  int
	pendingToolCall string // tool_call_id of a suspended ask_user, or ""

	cancel context.CancelFunc
	gen    uint64 // bumped each time a request claims the session, so a
	// finishing request can tell whether it is still the active one before
	// clearing cancel.
}

// startRequest installs cancel as the active request's cancel func, first
// cancelling whatever request was already in flight for this session: at
// most one request per chatId may be active, and a new request against a
// live chatId supersedes the previous one. It returns a generation token
// the caller must pass to endRequest so a request that has already been
// superseded does not clobber the newer one's cancel func on cleanup.
func (s *session) startRequest(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	prev := s.cancel
	s.gen++
	myGen := s.gen
	s.cancel = cancel
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	return myGen
}

// endRequest clears the active cancel func, but only if gen still owns the
// slot — a request superseded mid-flight must not erase the cancel func the
// newer request installed.
func (s *session) endRequest(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cancel = nil
	}
}

func (s *session) cancelActive() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// snapshotTurns returns a copy of the turn history, safe to read without
// holding the session lock across a potentially long provider call.
func (s *session) snapshotTurns() []turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *session) appendTurn(t turn) {
	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.mu.Unlock()
}

// appendToolResults attaches results to the most recently appended assistant
// turn (the one whose tool calls they answer).
func (s *session) appendToolResults(results []normalizer.ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].role == "assistant" {
			s.turns[i].results = append(s.turns[i].results, results...)
			return
		}
	}
}

// takePendingToolCall returns and clears the tool_call_id of a suspended
// ask_user call, so the caller can record the next user message as its
// result. Returns "" when no clarification is pending.
func (s *session) takePendingToolCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.pendingToolCall
	s.pendingToolCall = ""
	return id
}

func (s *session) setPendingToolCall(id string) {
	s.mu.Lock()
	s.pendingToolCall = id
	s.mu.Unlock()
}

func (s *session) incrementClarifications() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clarifications++
	return s.clarifications
}

func (s *session) clarificationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clarifications
}

// resolvePendingToolResult attaches content as the tool result for
// toolCallID, found by walking back to the most recent assistant turn that
// issued it.
func (s *session) resolvePendingToolResult(toolCallID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		t := &s.turns[i]
		if t.role != "assistant" || t.assistant == nil {
			continue
		}
		for _, tc := range t.assistant.ToolCalls {
			if tc.ID == toolCallID {
				t.results = append(t.results, normalizer.ToolResult{ToolCallID: toolCallID, Name: tc.Name, Content: content})
				return
			}
		}
	}
}
