package keyring

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/keyward/keyward/internal/audit"
	"github.com/keyward/keyward/internal/events"
	"github.com/keyward/keyward/internal/keycrypto"
	"github.com/keyward/keyward/internal/keystore"
)

// SubmitStatus is the engine's answer to a key presented by the
// authentication transport.
type SubmitStatus string

const (
	// SubmitPending: unknown id, key landed in the pending partition.
	SubmitPending SubmitStatus = "pending"
	// SubmitAccepted: id is accepted and the presented key matches.
	SubmitAccepted SubmitStatus = "accepted"
	// SubmitRejected: id is explicitly distrusted.
	SubmitRejected SubmitStatus = "rejected"
	// SubmitDenied: id is accepted but the presented key differs; the
	// conflict was recorded in the denied partition for the operator.
	SubmitDenied SubmitStatus = "denied"
	// SubmitMismatch: a different key is already pending or rejected
	// for this id; the presented key is dropped.
	SubmitMismatch SubmitStatus = "mismatch"
)

// Submit records a key presented by an agent on first contact and
// classifies re-presentations. This is the transport's write path into
// the store; it never changes an existing trust decision.
func (e *Engine) Submit(ctx context.Context, id string, keyPEM []byte) (SubmitStatus, error) {
	if !keystore.ValidID(id) {
		return "", fmt.Errorf("%w: %q", keystore.ErrInvalidID, id)
	}
	if len(keyPEM) == 0 {
		return "", errors.New("empty key material")
	}

	rec, err := e.store.Get(id)
	if err != nil {
		if !errors.Is(err, keystore.ErrNotFound) {
			return "", err
		}
		if err := e.store.Put(keystore.StatePending, keystore.Record{MinionID: id, KeyPEM: keyPEM}); err != nil {
			return "", err
		}
		e.publish(id, events.TypeKeyPending, "first contact")
		return SubmitPending, nil
	}

	switch rec.State {
	case keystore.StateAccepted:
		if bytes.Equal(rec.KeyPEM, keyPEM) {
			return SubmitAccepted, nil
		}
		// Conflicting key for a trusted id: record it next to the
		// accepted key, never over it. Resolution is operator-only.
		if err := e.store.PutDenied(keystore.Record{MinionID: id, KeyPEM: keyPEM}); err != nil {
			return "", err
		}
		e.publish(id, events.TypeKeyDenied, "presented key does not match accepted key")
		e.auditLog(id, audit.EventKeyDenied, "presented key does not match accepted key")
		return SubmitDenied, nil
	case keystore.StateRejected:
		return SubmitRejected, nil
	default: // pending
		if bytes.Equal(rec.KeyPEM, keyPEM) {
			return SubmitPending, nil
		}
		return SubmitMismatch, nil
	}
}

// Generate creates a keypair for a minion id and writes it under dir
// with deterministic names (<id>.pem, <id>.pub). Sizes below the
// configured minimum are raised, never rejected; an existing pair at
// the location is never overwritten.
func (e *Engine) Generate(ctx context.Context, dir, id string, bits int) (privPath, pubPath string, err error) {
	if !keystore.ValidID(id) {
		return "", "", fmt.Errorf("%w: %q", keystore.ErrInvalidID, id)
	}
	if bits < e.minKeyBits {
		bits = e.minKeyBits
	}

	priv, err := keycrypto.GenerateKeyPair(bits)
	if err != nil {
		return "", "", err
	}
	privPath, pubPath, err = keycrypto.WriteKeyPair(dir, id, priv)
	if err != nil {
		return "", "", err
	}

	e.publish(id, events.TypeKeyGenerated, fmt.Sprintf("%d bits", priv.N.BitLen()))
	e.auditLog(id, audit.EventKeyGenerated, fmt.Sprintf("%d bits, %s", priv.N.BitLen(), privPath))
	return privPath, pubPath, nil
}
