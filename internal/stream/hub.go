// Package stream implements the Streaming Pipeline: ingesting
// generic provider events, accumulating tool-call fragments, and fanning
// events out to a per-chat SSE channel with bounded drop-oldest buffering.
// Each chat gets a bounded channel pair, so publishers never block on a
// slow consumer.
package stream

import (
	"context"
	"sync"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
)

// ClientEvent is a generic event plus the chatId it belongs to, delivered to
// whatever consumes the per-chat channel (the httpapi SSE handler).
type ClientEvent struct {
	ChatID string
	Event  normalizer.StreamEvent
}

// ActionEvent conveys a tool-progress marker, kept on its own
// channel so it never competes with content/tool-call ordering guarantees.
type ActionEvent struct {
	ChatID  string
	Tool    string
	Message string
}

const defaultQueueSize = 256

// chatChannel holds the bounded, drop-oldest event queue for one chatId.
type chatChannel struct {
	events  chan ClientEvent
	actions chan ActionEvent
}

// Hub fans out events per chatId. All events for a
// given chatId are delivered in generation order; across chatIds there is
// no ordering guarantee.
type Hub struct {
	logger telemetry.Logger
	mu     sync.Mutex
	chats  map[string]*chatChannel
}

// NewHub constructs an empty Hub.
func NewHub(logger telemetry.Logger) *Hub {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Hub{logger: logger, chats: map[string]*chatChannel{}}
}

// Open registers a new bounded channel pair for chatId, replacing any prior
// one.
func (h *Hub) Open(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chats[chatID] = &chatChannel{
		events:  make(chan ClientEvent, defaultQueueSize),
		actions: make(chan ActionEvent, defaultQueueSize),
	}
}

// Close removes and closes the channel pair for chatId.
func (h *Hub) Close(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chats[chatID]
	if !ok {
		return
	}
	close(ch.events)
	close(ch.actions)
	delete(h.chats, chatID)
}

// Events returns the read side of chatId's event channel for the SSE
// handler to range over, or false if no channel is open for it.
func (h *Hub) Events(chatID string) (<-chan ClientEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chats[chatID]
	if !ok {
		return nil, false
	}
	return ch.events, true
}

// Actions returns the read side of chatId's action channel.
func (h *Hub) Actions(chatID string) (<-chan ActionEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chats[chatID]
	if !ok {
		return nil, false
	}
	return ch.actions, true
}

// Publish delivers ev to chatId's event queue. When the queue is full it
// drops the two oldest queued events to make room for a visible warning
// event followed by ev.
func (h *Hub) Publish(chatID string, ev normalizer.StreamEvent) {
	h.mu.Lock()
	ch, ok := h.chats[chatID]
	h.mu.Unlock()
	if !ok {
		return
	}
	client := ClientEvent{ChatID: chatID, Event: ev}
	select {
	case ch.events <- client:
		return
	default:
	}
	select {
	case <-ch.events:
	default:
	}
	select {
	case <-ch.events:
	default:
	}
	h.logger.Warn(context.Background(), "stream queue overflow; dropped oldest event", "chatId", chatID)
	select {
	case ch.events <- ClientEvent{ChatID: chatID, Event: normalizer.StreamEvent{
		Kind: normalizer.EventError, ErrorKind: "queue_overflow", ErrorMessage: "client is not consuming events fast enough; some events were dropped",
	}}:
	default:
	}
	select {
	case ch.events <- client:
	default:
	}
}

// PublishAction delivers a tool-progress marker on chatId's action channel,
// dropping it silently if the channel is full (progress markers are
// advisory, unlike the ordered content/tool-call stream).
func (h *Hub) PublishAction(chatID, tool, message string) {
	h.mu.Lock()
	ch, ok := h.chats[chatID]
	h.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch.actions <- ActionEvent{ChatID: chatID, Tool: tool, Message: message}:
	default:
	}
}
