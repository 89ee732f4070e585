// Package events is the in-process broadcast hub the engine publishes its
// progress to: stage transitions, streamed agent messages, check outcomes,
// and approval requests. The CLI renderer and metrics are subscribers.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the engine.
const (
	KindStageStarted  = "stage_started"
	KindStageEnded    = "stage_ended"
	KindAgentMessage  = "agent_message"
	KindCheckResult   = "check_result"
	KindIterationDone = "iteration_done"
	KindApprovalAsked = "approval_asked"
	KindTaskCreated   = "task_created"
	KindTerminal      = "terminal"
)

// Event is one progress notification.
type Event struct {
	Kind      string         `json:"kind"`
	TaskID    uuid.UUID      `json:"task_id"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub fans events out to all subscribers. Slow subscribers drop events
// rather than stalling the engine.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber channel.
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 256)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Publish broadcasts an event, stamping the time if unset.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers; the engine never blocks on fan-out.
		}
	}
}
