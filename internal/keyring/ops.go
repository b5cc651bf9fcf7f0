package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/keyward/keyward/internal/audit"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/keycrypto"
	"github.com/keyward/keyward/internal/keystore"
	"github.com/keyward/keyward/internal/match"
)

// Op names an engine operation for previews and results.
type Op string

const (
	OpAccept Op = "accept"
	OpReject Op = "reject"
	OpDelete Op = "delete"
)

// snapshot returns the current tri-state assignment per id, and the set
// of denied ids. A failure here means the store is unavailable and
// aborts the whole invocation.
func (e *Engine) snapshot() (states map[string]keystore.State, denied map[string]bool, err error) {
	all, err := e.store.ListAll()
	if err != nil {
		return nil, nil, fmt.Errorf("key store unavailable: %w", err)
	}
	states = make(map[string]keystore.State)
	for _, s := range keystore.TriStates {
		for _, rec := range all[s] {
			states[rec.MinionID] = s
		}
	}
	denied = make(map[string]bool, len(all[keystore.StateDenied]))
	for _, rec := range all[keystore.StateDenied] {
		denied[rec.MinionID] = true
	}
	return states, denied, nil
}

func idsOf(m map[string]keystore.State) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	return ids
}

// Accept moves matched keys into the accepted partition. The default
// scope moves pending keys only; includeRejected additionally re-accepts
// rejected keys. Everything else is reported as skipped.
func (e *Engine) Accept(ctx context.Context, pattern string, includeRejected bool) (*Result, error) {
	states, _, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	matched, err := match.Match(pattern, idsOf(states))
	if err != nil {
		return nil, err
	}

	res := &Result{Op: string(OpAccept)}
	for _, id := range matched {
		switch states[id] {
		case keystore.StateAccepted:
			res.add(id, OutcomeSkipped, "already accepted")
		case keystore.StateRejected:
			if !includeRejected {
				res.add(id, OutcomeSkipped, "rejected; re-run with include_all to accept")
				continue
			}
			e.applyMove(res, id, keystore.StateRejected, keystore.StateAccepted, OutcomeAccepted)
		case keystore.StatePending:
			e.applyMove(res, id, keystore.StatePending, keystore.StateAccepted, OutcomeAccepted)
		}
	}
	return res, nil
}

// AcceptAll accepts every pending key. Non-pending keys are never
// included, regardless of flags: the purpose is clearing the queue.
func (e *Engine) AcceptAll(ctx context.Context) (*Result, error) {
	pending, err := e.store.ListState(keystore.StatePending)
	if err != nil {
		return nil, fmt.Errorf("key store unavailable: %w", err)
	}
	res := &Result{Op: "accept-all"}
	for _, rec := range pending {
		e.applyMove(res, rec.MinionID, keystore.StatePending, keystore.StateAccepted, OutcomeAccepted)
	}
	return res, nil
}

// Reject moves matched keys into the rejected partition. The default
// scope rejects pending keys only; includeAccepted additionally demotes
// accepted keys. Any applied rejection invalidates the session once.
func (e *Engine) Reject(ctx context.Context, pattern string, includeAccepted bool) (*Result, error) {
	states, _, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	matched, err := match.Match(pattern, idsOf(states))
	if err != nil {
		return nil, err
	}

	res := &Result{Op: string(OpReject)}
	for _, id := range matched {
		switch states[id] {
		case keystore.StateRejected:
			res.add(id, OutcomeSkipped, "already rejected")
		case keystore.StateAccepted:
			if !includeAccepted {
				res.add(id, OutcomeSkipped, "accepted; re-run with include_all to reject")
				continue
			}
			e.applyMove(res, id, keystore.StateAccepted, keystore.StateRejected, OutcomeRejected)
		case keystore.StatePending:
			e.applyMove(res, id, keystore.StatePending, keystore.StateRejected, OutcomeRejected)
		}
	}

	if res.Count(OutcomeRejected) > 0 {
		e.invalidate(ctx, res)
	}
	return res, nil
}

// RejectAll rejects every pending key.
func (e *Engine) RejectAll(ctx context.Context) (*Result, error) {
	pending, err := e.store.ListState(keystore.StatePending)
	if err != nil {
		return nil, fmt.Errorf("key store unavailable: %w", err)
	}
	res := &Result{Op: "reject-all"}
	for _, rec := range pending {
		e.applyMove(res, rec.MinionID, keystore.StatePending, keystore.StateRejected, OutcomeRejected)
	}
	if res.Count(OutcomeRejected) > 0 {
		e.invalidate(ctx, res)
	}
	return res, nil
}

// Delete removes matched keys from every partition, denied included.
// The session is invalidated once iff an accepted record was removed.
func (e *Engine) Delete(ctx context.Context, pattern string) (*Result, error) {
	states, denied, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	// Delete also resolves denied-only ids.
	candidates := make(map[string]bool, len(states)+len(denied))
	for id := range states {
		candidates[id] = true
	}
	for id := range denied {
		candidates[id] = true
	}
	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	matched, err := match.Match(pattern, ids)
	if err != nil {
		return nil, err
	}

	res := &Result{Op: string(OpDelete)}
	acceptedRemoved := false
	for _, id := range matched {
		if from, ok := e.deleteOne(res, id); ok && from == keystore.StateAccepted {
			acceptedRemoved = true
		}
	}

	if acceptedRemoved {
		e.invalidate(ctx, res)
	}
	return res, nil
}

// DeleteAll clears every partition. A single invalidation fires if any
// accepted key was among the deleted set. Re-running it is safe: the
// second call reports zero affected ids.
func (e *Engine) DeleteAll(ctx context.Context) (*Result, error) {
	all, err := e.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("key store unavailable: %w", err)
	}

	res := &Result{Op: "delete-all"}
	acceptedRemoved := false
	seen := make(map[string]bool)
	for _, s := range keystore.TriStates {
		for _, rec := range all[s] {
			seen[rec.MinionID] = true
			if from, ok := e.deleteOne(res, rec.MinionID); ok && from == keystore.StateAccepted {
				acceptedRemoved = true
			}
		}
	}
	for _, rec := range all[keystore.StateDenied] {
		if seen[rec.MinionID] {
			continue // already handled together with its tri-state record
		}
		e.deleteOne(res, rec.MinionID)
	}

	if acceptedRemoved {
		e.invalidate(ctx, res)
	}
	return res, nil
}

// deleteOne removes id from the tri-state partitions and the denied
// partition. Reports the tri-state partition a record was removed from,
// when one was.
func (e *Engine) deleteOne(res *Result, id string) (keystore.State, bool) {
	from, found, err := e.store.Remove(id)
	if err != nil {
		res.add(id, OutcomeFailed, err.Error())
		return "", false
	}

	deniedFound, err := e.store.RemoveDenied(id)
	if err != nil {
		res.add(id, OutcomeFailed, err.Error())
		return from, found
	}

	switch {
	case found && deniedFound:
		res.add(id, OutcomeDeleted, fmt.Sprintf("removed from %s and denied", from.Display()))
	case found:
		res.add(id, OutcomeDeleted, "removed from "+from.Display())
	case deniedFound:
		res.add(id, OutcomeDeleted, "denied record removed")
		e.publish(id, events.TypeDeniedResolved, "")
		e.auditLog(id, audit.EventDeniedResolved, "")
		return "", false
	default:
		res.add(id, OutcomeSkipped, "not found")
		return "", false
	}

	e.publish(id, events.TypeKeyDeleted, "was "+from.Display())
	e.auditLog(id, audit.EventKeyDeleted, "was "+from.Display())
	return from, found
}

// applyMove performs one tri-state transition and records the outcome.
// A concurrent change surfaces as skipped, an I/O failure as failed.
func (e *Engine) applyMove(res *Result, id string, from, to keystore.State, ok Outcome) {
	err := e.store.Move(id, from, to)
	switch {
	case err == nil:
		res.add(id, ok, "")
	case errors.Is(err, keystore.ErrNotFound):
		res.add(id, OutcomeSkipped, "not in "+from.Display()+" (changed concurrently)")
		return
	default:
		res.add(id, OutcomeFailed, err.Error())
		return
	}

	detail := from.Display() + " -> " + to.Display()
	switch ok {
	case OutcomeAccepted:
		e.publish(id, events.TypeKeyAccepted, detail)
		e.auditLog(id, audit.EventKeyAccepted, detail)
	case OutcomeRejected:
		e.publish(id, events.TypeKeyRejected, detail)
		e.auditLog(id, audit.EventKeyRejected, detail)
	}
}

// Preview resolves a selector without mutating anything: it reports the
// ids the operation would touch per partition. The CLI and HTTP layers
// use it to drive the confirmation gate for destructive bulk operations.
type Preview struct {
	Op      Op                  `json:"op"`
	Matches map[string][]string `json:"matches"` // partition display name -> ids
	Total   int                 `json:"total"`
}

func (e *Engine) Preview(pattern string, op Op, includeAll bool) (*Preview, error) {
	var scope []keystore.State
	switch op {
	case OpAccept:
		scope = []keystore.State{keystore.StatePending}
		if includeAll {
			scope = append(scope, keystore.StateRejected)
		}
	case OpReject:
		scope = []keystore.State{keystore.StatePending}
		if includeAll {
			scope = append(scope, keystore.StateAccepted)
		}
	case OpDelete:
		scope = []keystore.State{keystore.StatePending, keystore.StateAccepted, keystore.StateRejected, keystore.StateDenied}
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	p := &Preview{Op: op, Matches: make(map[string][]string)}
	for _, s := range scope {
		recs, err := e.store.ListState(s)
		if err != nil {
			return nil, fmt.Errorf("key store unavailable: %w", err)
		}
		ids := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.MinionID
		}
		matched, err := match.Match(pattern, ids)
		if err != nil {
			return nil, err
		}
		if len(matched) > 0 {
			p.Matches[s.Display()] = matched
			p.Total += len(matched)
		}
	}
	return p, nil
}

// Partitions lists every partition as display-name -> sorted ids.
func (e *Engine) Partitions() (map[string][]string, error) {
	all, err := e.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("key store unavailable: %w", err)
	}
	out := make(map[string][]string, len(all))
	for state, recs := range all {
		ids := make([]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.MinionID
		}
		out[state.Display()] = ids
	}
	return out, nil
}

// Fingerprints computes fingerprints for every matched key, partition by
// partition. A key that cannot be parsed reports the parse error in
// place of a digest rather than failing the batch.
func (e *Engine) Fingerprints(pattern string) (map[string]map[string]string, error) {
	all, err := e.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("key store unavailable: %w", err)
	}

	out := make(map[string]map[string]string)
	for state, recs := range all {
		ids := make([]string, len(recs))
		byID := make(map[string][]byte, len(recs))
		for i, rec := range recs {
			ids[i] = rec.MinionID
			byID[rec.MinionID] = rec.KeyPEM
		}
		matched, err := match.Match(pattern, ids)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			continue
		}
		fps := make(map[string]string, len(matched))
		for _, id := range matched {
			fp, err := keycrypto.Fingerprint(byID[id])
			if err != nil {
				fps[id] = "unreadable key: " + err.Error()
				continue
			}
			fps[id] = fp
		}
		out[state.Display()] = fps
	}
	return out, nil
}
