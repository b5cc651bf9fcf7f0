// Package keystore stores minion public keys partitioned by trust state.
//
// A minion id appears at most once across the pending, accepted and
// rejected partitions; moving a key between them is atomic. The denied
// partition is independent: a denied key coexists with the accepted key
// for the same id and is only removed by explicit operator action.
package keystore

import (
	"errors"
	"fmt"
	"strings"
)

// State is the trust state of a stored key. The short values match the
// on-disk partition naming scheme.
type State string

const (
	StatePending  State = "pre"
	StateAccepted State = "acc"
	StateRejected State = "rej"
	StateDenied   State = "den"
)

// TriStates are the partitions a key moves between. Denied is tracked
// separately and never participates in transitions.
var TriStates = []State{StatePending, StateAccepted, StateRejected}

// DirName returns the partition directory name for the filesystem backend.
func (s State) DirName() string {
	switch s {
	case StatePending:
		return "minions_pre"
	case StateAccepted:
		return "minions"
	case StateRejected:
		return "minions_rejected"
	case StateDenied:
		return "minions_denied"
	}
	return ""
}

// Display returns the operator-facing name of the state.
func (s State) Display() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateDenied:
		return "denied"
	}
	return string(s)
}

// ParseState resolves an operator-supplied state name. Prefix matching
// follows the traditional CLI: "acc*", "pre*"/"un*", "rej*", "den*".
func ParseState(s string) (State, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(v, "acc"):
		return StateAccepted, nil
	case strings.HasPrefix(v, "pre"), strings.HasPrefix(v, "un"), v == "pending":
		return StatePending, nil
	case strings.HasPrefix(v, "rej"):
		return StateRejected, nil
	case strings.HasPrefix(v, "den"):
		return StateDenied, nil
	}
	return "", fmt.Errorf("unknown key state %q", s)
}

// Record is one stored key.
type Record struct {
	MinionID string
	KeyPEM   []byte
	State    State
}

// ErrNotFound reports that an id is absent from the expected partition.
// It is a per-id signal, never fatal for a batch.
var ErrNotFound = errors.New("key not found")

// ErrInvalidID reports a minion id that cannot be stored safely.
var ErrInvalidID = errors.New("invalid minion id")

// Store is the durable mapping from minion id to key material and state.
//
// Get, Remove and Move operate on the tri-state partitions only. The
// denied partition has its own accessors so no code path can collapse a
// denied key into the lifecycle record it conflicts with.
type Store interface {
	// Get returns the tri-state record for id, or ErrNotFound.
	Get(id string) (*Record, error)
	// Put writes a record into the given tri-state partition, replacing
	// any previous record for that id in that partition.
	Put(state State, rec Record) error
	// Remove deletes the tri-state record for id. It is idempotent: a
	// missing id yields found=false, not an error. The partition the
	// record was removed from is reported so callers can tell whether
	// trusted material was destroyed.
	Remove(id string) (from State, found bool, err error)
	// Move atomically transfers id from one tri-state partition to
	// another. ErrNotFound if id is not in the source partition.
	Move(id string, from, to State) error
	// ListState returns the records in one partition (denied included),
	// sorted by minion id.
	ListState(state State) ([]Record, error)
	// ListAll returns every partition including denied.
	ListAll() (map[State][]Record, error)

	// PutDenied records a conflicting key. It never touches the
	// accepted record for the same id.
	PutDenied(rec Record) error
	// GetDenied returns the denied record for id, or ErrNotFound.
	GetDenied(id string) (*Record, error)
	// RemoveDenied deletes the denied record for id; idempotent.
	RemoveDenied(id string) (bool, error)
}

// ValidID reports whether a minion id is safe to use as a store key.
// Ids become filenames in the filesystem backend, so path separators
// and relative components are rejected.
func ValidID(id string) bool {
	if id == "" || len(id) > 255 {
		return false
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return false
	}
	if id == "." || id == ".." {
		return false
	}
	return true
}
