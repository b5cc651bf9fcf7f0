package events

import (
	"testing"
	"time"
)

func TestPublishRecent(t *testing.T) {
	h := NewHub()
	h.Publish("web1", TypeKeyAccepted, "accepted from pending")
	h.Publish("web2", TypeKeyRejected, "rejected from pending")

	recent := h.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Recent: got %d events, want 2", len(recent))
	}
	if recent[0].MinionID != "web1" || recent[0].Type != TypeKeyAccepted {
		t.Errorf("first event: got %s/%s", recent[0].MinionID, recent[0].Type)
	}
	if recent[0].ID == "" || recent[0].ID == recent[1].ID {
		t.Error("event ids should be unique and non-empty")
	}
}

func TestRecentBounded(t *testing.T) {
	h := NewHub()
	for i := 0; i < maxRecent+50; i++ {
		h.Publish("web1", TypeKeyPending, "")
	}
	if got := len(h.Recent(maxRecent * 2)); got != maxRecent {
		t.Errorf("ring buffer size: got %d, want %d", got, maxRecent)
	}
}

func TestSubscribe(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("web1", TypeKeyDeleted, "")

	select {
	case ev := <-ch:
		if ev.Type != TypeKeyDeleted {
			t.Errorf("event type: got %s, want %s", ev.Type, TypeKeyDeleted)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe()
	defer cancel()

	// Fill the subscriber buffer and keep publishing; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish("web1", TypeKeyPending, "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	cancel()

	h.Publish("web1", TypeKeyPending, "")
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("cancelled subscriber received event")
		}
	default:
	}
}
