package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/orchestrator"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
)

// chatRequestBody is the wire shape of a chat POST body.
type chatRequestBody struct {
	Messages  []orchestrator.Message `json:"messages"`
	Variables map[string]string      `json:"variables"`
	Options   struct {
		ToolOverrides []string `json:"toolOverrides"`
		ModelOverride string   `json:"modelOverride"`
	} `json:"options"`
}

// postChat handles POST /api/apps/:appId/chat/:chatId: it launches the
// orchestrator's tool-calling loop in the background and immediately starts
// streaming SSE from the chat's hub channel.
func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appId")
	chatID := chi.URLParam(r, "chatId")

	var body chatRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	user := userFromContext(r.Context())
	view := viewFromContext(r.Context())

	req := orchestrator.ChatRequest{
		ChatID:    chatID,
		AppID:     appID,
		Language:  r.URL.Query().Get("lang"),
		Messages:  body.Messages,
		Variables: body.Variables,
		Options: orchestrator.ChatOptions{
			ToolOverrides: body.Options.ToolOverrides,
			ModelOverride: body.Options.ModelOverride,
		},
		View: view,
		User: user,
	}

	done := make(chan error, 1)
	go func() { done <- s.Orchestrator.Handle(r.Context(), req) }()

	s.streamSSE(w, r, chatID, done)
}

// getChat handles GET /api/apps/:appId/chat/:chatId: SSE connection
// re-establishment against an already-running chat. It does not start a new
// orchestrator run.
func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	s.streamSSE(w, r, chatID, nil)
}

// stopChat handles POST /api/apps/:appId/chat/:chatId/stop.
func (s *Server) stopChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	s.Orchestrator.Stop(chatID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

// statusChat handles GET /api/apps/:appId/chat/:chatId/status.
func (s *Server) statusChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	live := s.Orchestrator.Status(chatID)
	status := "idle"
	if live {
		status = "live"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// channelPollInterval and channelPollAttempts bound how long streamSSE waits
// for Handle's own Hub.Open call to register the chat's channel: Handle
// opens it only after resolving the app/model/tools,
// so a freshly launched POST legitimately races the SSE loop's first read.
const (
	channelPollInterval = 10 * time.Millisecond
	channelPollAttempts = 500 // 5s upper bound
)

// streamSSE pumps chatId's hub channel to w as text/event-stream until the
// channel closes, the client disconnects, or (for a freshly launched
// request) the background Handle call reports its own error to report as a
// final error event.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, chatID string, done <-chan error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apierror.New(apierror.CodeInternal, "streaming is not supported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, handleErr, ok := s.waitForChannel(r, chatID, done)
	if !ok {
		if handleErr != nil {
			writeSSEEvent(w, "error", map[string]string{"message": handleErr.Error()})
		} else {
			writeSSEEvent(w, "error", map[string]string{"code": "not-found", "message": "no active chat for this id"})
		}
		flusher.Flush()
		return
	}
	actions, _ := s.Hub.Actions(chatID)

	for {
		select {
		case <-r.Context().Done():
			return
		case act, open := <-actions:
			if !open {
				actions = nil // a nil channel blocks; the event channel ends the loop
				continue
			}
			writeSSEEvent(w, "action", map[string]string{"tool": act.Tool, "message": act.Message})
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				drainActions(w, actions)
				if done != nil {
					if err := <-done; err != nil {
						writeSSEEvent(w, "error", map[string]string{"message": err.Error()})
					}
				}
				flusher.Flush()
				return
			}
			writeSSEEvent(w, sseEventName(ev.Event.Kind), ev.Event)
			flusher.Flush()
		}
	}
}

// drainActions flushes any action events still buffered when the main event
// channel closes, so progress markers racing the final done event are not
// dropped.
func drainActions(w http.ResponseWriter, actions <-chan stream.ActionEvent) {
	for {
		select {
		case act, open := <-actions:
			if !open {
				return
			}
			writeSSEEvent(w, "action", map[string]string{"tool": act.Tool, "message": act.Message})
		default:
			return
		}
	}
}

// waitForChannel polls Hub.Events briefly for chatId's channel to appear. A
// freshly launched request that fails during resolution never opens the
// channel at all, so the launcher's done channel (nil for plain GET
// re-attachment) is watched too: its error becomes the stream's error event
// instead of a five-second stall ending in "not found".
func (s *Server) waitForChannel(r *http.Request, chatID string, done <-chan error) (<-chan stream.ClientEvent, error, bool) {
	for i := 0; i < channelPollAttempts; i++ {
		if ch, ok := s.Hub.Events(chatID); ok {
			return ch, nil, true
		}
		select {
		case <-r.Context().Done():
			return nil, nil, false
		case err := <-done:
			if err != nil {
				return nil, err, false
			}
			// Completed so fast the channel is already closed and gone.
			return nil, nil, false
		case <-time.After(channelPollInterval):
		}
	}
	return nil, nil, false
}

func writeSSEEvent(w http.ResponseWriter, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

// sseEventName maps the generic StreamEventKind onto the public SSE event
// names (the internal "finish" kind is renamed "done" at the wire
// boundary).
func sseEventName(kind normalizer.StreamEventKind) string {
	switch kind {
	case normalizer.EventContentDelta:
		return "content"
	case normalizer.EventToolCallDelta, normalizer.EventToolCallComplete:
		return "tool-call"
	case normalizer.EventImage:
		return "image"
	case normalizer.EventFinish:
		return "done"
	case normalizer.EventError:
		return "error"
	case normalizer.EventClarification:
		return "clarification"
	case normalizer.EventCancelled:
		return "cancelled"
	default:
		return string(kind)
	}
}
