// Package events distributes key lifecycle events to operator clients.
// Events are kept in an in-memory ring buffer for recent-history queries
// and fanned out to live subscribers (the websocket stream).
package events

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keyward/keyward/internal/logutil"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	TypeKeyPending         Type = "key_pending"
	TypeKeyAccepted        Type = "key_accepted"
	TypeKeyRejected        Type = "key_rejected"
	TypeKeyDeleted         Type = "key_deleted"
	TypeKeyDenied          Type = "key_denied"
	TypeDeniedResolved     Type = "denied_resolved"
	TypeSessionInvalidated Type = "session_invalidated"
	TypeKeyGenerated       Type = "key_generated"
	TypeSignatureCreated   Type = "signature_created"
)

// Event is one key lifecycle occurrence.
type Event struct {
	ID        string    `json:"id"`
	MinionID  string    `json:"minion_id"`
	Type      Type      `json:"type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// maxRecent limits the in-memory history.
const maxRecent = 256

// Hub is the fan-out point for lifecycle events.
type Hub struct {
	mu     sync.RWMutex
	recent []Event
	subs   map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Publish records an event and delivers it to every live subscriber.
// Slow subscribers are skipped rather than blocking the publisher.
func (h *Hub) Publish(minionID string, typ Type, details string) {
	ev := Event{
		ID:        uuid.NewString(),
		MinionID:  minionID,
		Type:      typ,
		Details:   details,
		Timestamp: time.Now(),
	}

	h.mu.Lock()
	h.recent = append(h.recent, ev)
	if len(h.recent) > maxRecent {
		h.recent = h.recent[len(h.recent)-maxRecent:]
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()

	log.Printf("[keys] event %s minion=%s: %s", typ, logutil.SanitizeForLog(minionID), details)
}

// Recent returns the most recent n events, oldest first.
func (h *Hub) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	events := h.recent
	if len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Subscribe registers a live event channel. The returned cancel func
// must be called when the subscriber goes away.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}
