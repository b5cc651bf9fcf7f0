// Package keyring implements the key lifecycle engine: it validates and
// applies trust transitions for minion keys, reports per-id outcomes,
// and fires session invalidation when trust changes.
package keyring

import (
	"context"
	"log"

	"github.com/keyward/keyward/internal/audit"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/keystore"
	"github.com/keyward/keyward/internal/session"
)

// Options configures an Engine. All collaborators are passed explicitly;
// the engine holds no process-wide state.
type Options struct {
	Store       keystore.Store
	Invalidator session.Invalidator
	Auditor     *audit.Auditor // optional
	Events      *events.Hub    // optional
	MinKeyBits  int
	AssumeYes   bool // default for the confirmation gate, exposed to callers
}

// Engine applies lifecycle transitions to the key store.
type Engine struct {
	store       keystore.Store
	invalidator session.Invalidator
	auditor     *audit.Auditor
	events      *events.Hub
	minKeyBits  int
	assumeYes   bool
	actor       string
}

func New(opts Options) *Engine {
	inv := opts.Invalidator
	if inv == nil {
		inv = session.Noop{}
	}
	return &Engine{
		store:       opts.Store,
		invalidator: inv,
		auditor:     opts.Auditor,
		events:      opts.Events,
		minKeyBits:  opts.MinKeyBits,
		assumeYes:   opts.AssumeYes,
		actor:       "operator",
	}
}

// ForActor returns a copy of the engine attributing subsequent audit
// entries to the given actor.
func (e *Engine) ForActor(actor string) *Engine {
	if actor == "" {
		return e
	}
	c := *e
	c.actor = actor
	return &c
}

// AssumeYes reports the configured default for the confirmation gate.
// The gate itself lives in the CLI/HTTP layer; the engine only supplies
// the default and the Preview needed to drive it.
func (e *Engine) AssumeYes() bool { return e.assumeYes }

// Store exposes the underlying key store for read paths and for the
// authentication transport.
func (e *Engine) Store() keystore.Store { return e.store }

// Outcome classifies the per-id result of a transition.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeDeleted  Outcome = "deleted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// KeyResult is the outcome for a single minion id inside a batch.
type KeyResult struct {
	MinionID string  `json:"minion_id"`
	Outcome  Outcome `json:"outcome"`
	Reason   string  `json:"reason,omitempty"`
}

// Result is the structured partial result of one engine operation.
// Per-id failures never abort sibling ids; callers inspect the slice.
type Result struct {
	Op      string      `json:"op"`
	Results []KeyResult `json:"results"`

	// Invalidated reports whether the session invalidation side effect
	// fired. InvalidateErr is set when the key state changed but the
	// notification failed; the transition is not rolled back.
	Invalidated   bool   `json:"invalidated"`
	InvalidateErr string `json:"invalidate_error,omitempty"`
}

func (r *Result) add(id string, outcome Outcome, reason string) {
	r.Results = append(r.Results, KeyResult{MinionID: id, Outcome: outcome, Reason: reason})
}

// Count returns how many ids ended in the given outcome.
func (r *Result) Count(outcome Outcome) int {
	n := 0
	for _, kr := range r.Results {
		if kr.Outcome == outcome {
			n++
		}
	}
	return n
}

// Applied reports whether any id actually changed state.
func (r *Result) Applied() bool {
	for _, kr := range r.Results {
		switch kr.Outcome {
		case OutcomeAccepted, OutcomeRejected, OutcomeDeleted:
			return true
		}
	}
	return false
}

// invalidate fires the session invalidation side effect once for an
// operation. Failure is reported in the result, never rolled back.
func (e *Engine) invalidate(ctx context.Context, res *Result) {
	err := e.invalidator.Invalidate(ctx)
	if err == nil {
		res.Invalidated = true
		e.publish("", events.TypeSessionInvalidated, "after "+res.Op)
		e.auditLog("", audit.EventSessionInvalidated, "after "+res.Op)
		return
	}
	res.InvalidateErr = err.Error()
	log.Printf("[keys] session invalidation failed after %s: %v (key state already changed)", res.Op, err)
	e.auditLog("", audit.EventInvalidationFailed, err.Error())
}

func (e *Engine) publish(minionID string, typ events.Type, details string) {
	if e.events != nil {
		e.events.Publish(minionID, typ, details)
	}
}

func (e *Engine) auditLog(minionID, eventType, details string) {
	if e.auditor == nil {
		return
	}
	// Audit failures must not fail the key operation; Log already
	// reports them to the standard logger.
	_ = e.auditor.Log(audit.Entry{
		MinionID:  minionID,
		EventType: eventType,
		Actor:     e.actor,
		Details:   details,
	})
}
