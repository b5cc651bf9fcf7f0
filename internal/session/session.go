// Package session notifies the authentication transport that its active
// encryption session must be renegotiated after a trust-affecting key
// change. Invalidation is fire-and-forget: a failure is reported to the
// operator but never rolls back the key transition that triggered it.
package session

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Invalidator forces renegotiation of the master's encryption session.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// DropfileName is the rotation marker the transport watches for.
const DropfileName = ".session_rotate"

// DropfileInvalidator signals rotation by writing a marker file into
// the master cache directory. The transport removes the file once it
// has rotated the session key.
type DropfileInvalidator struct {
	CacheDir string
}

func (d *DropfileInvalidator) Invalidate(ctx context.Context) error {
	if err := os.MkdirAll(d.CacheDir, 0700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	path := filepath.Join(d.CacheDir, DropfileName)
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0600); err != nil {
		return fmt.Errorf("write session dropfile: %w", err)
	}
	log.Printf("[session] rotation dropfile written: %s", path)
	return nil
}

// HTTPInvalidator POSTs to a transport-provided endpoint.
type HTTPInvalidator struct {
	Endpoint string
	Client   *http.Client
}

// invalidateTimeout bounds the notification; invalidation must never hang
// a key operation.
const invalidateTimeout = 10 * time.Second

func (h *HTTPInvalidator) Invalidate(ctx context.Context) error {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: invalidateTimeout}
	}

	ctx, cancel := context.WithTimeout(ctx, invalidateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("build invalidation request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("session invalidation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("session invalidation: endpoint returned %s", resp.Status)
	}
	log.Printf("[session] invalidation delivered to %s", h.Endpoint)
	return nil
}

// Noop disables the side effect entirely (rotate_session_key: false).
type Noop struct{}

func (Noop) Invalidate(ctx context.Context) error { return nil }

// Recorder counts invalidations for tests.
type Recorder struct {
	Calls int
	Err   error
}

func (r *Recorder) Invalidate(ctx context.Context) error {
	r.Calls++
	return r.Err
}
