package events

import (
	"testing"

	"github.com/google/uuid"
)

func TestPublishFanOut(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(Event{Kind: KindStageStarted, TaskID: uuid.New(), Stage: "planning"})

	for _, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Kind != KindStageStarted || ev.Stage != "planning" {
				t.Fatalf("event = %+v", ev)
			}
			if ev.Timestamp.IsZero() {
				t.Fatal("timestamp must be stamped")
			}
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel must be closed")
	}
	// Double unsubscribe is safe.
	h.Unsubscribe(ch)
	// Publishing with no subscribers is safe.
	h.Publish(Event{Kind: KindTerminal})
}

func TestSlowSubscriberDrops(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < 300; i++ {
		h.Publish(Event{Kind: KindAgentMessage})
	}
	// Buffer is 256; the rest were dropped, not blocked on.
	if len(ch) != 256 {
		t.Fatalf("buffered = %d, want 256", len(ch))
	}
}
