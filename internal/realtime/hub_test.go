package realtime

import (
	"testing"
	"time"

	"github.com/privatehub/corebus/internal/bus"
)

func TestMirrorDeliversToSubscriber(t *testing.T) {
	h := NewHub(nil, Config{BroadcastSystemEvents: true, BroadcastUserEvents: true})
	ch, unsubscribe := h.subscribe(4)
	defer unsubscribe()

	h.Mirror(bus.Event{Category: bus.CategoryCommunication, Title: "sent"})

	select {
	case got := <-ch:
		if got.Title != "sent" {
			t.Fatalf("Title = %q, want sent", got.Title)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestMirrorRespectsSystemEventToggle(t *testing.T) {
	h := NewHub(nil, Config{BroadcastSystemEvents: false})
	ch, unsubscribe := h.subscribe(4)
	defer unsubscribe()

	h.Mirror(bus.Event{Category: bus.CategorySystem})

	select {
	case <-ch:
		t.Fatal("system event should not have been broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMirrorRespectsUserEventToggle(t *testing.T) {
	h := NewHub(nil, Config{BroadcastUserEvents: false})
	ch, unsubscribe := h.subscribe(4)
	defer unsubscribe()

	h.Mirror(bus.Event{UserID: "u1"})

	select {
	case <-ch:
		t.Fatal("user event should not have been broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMirrorOnNilHubIsNoOp(t *testing.T) {
	var h *Hub
	h.Mirror(bus.Event{})
}

func TestSubscriberCountTracksSubscriptions(t *testing.T) {
	h := NewHub(nil, Config{})
	if h.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", h.SubscriberCount())
	}

	_, unsubscribe := h.subscribe(1)
	if h.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", h.SubscriberCount())
	}

	unsubscribe()
	if h.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0 after unsubscribe", h.SubscriberCount())
	}
}
