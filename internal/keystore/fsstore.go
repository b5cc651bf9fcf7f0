package keystore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FSStore keeps each partition as a directory under the base dir, one
// file per minion id holding the public key bytes. Writes go through a
// temp file plus rename and moves are a single rename, so a concurrent
// reader never observes a key in two partitions or half-written.
type FSStore struct {
	baseDir string
}

// I/O retry bounds for transient filesystem errors. After the attempts
// are exhausted the error surfaces for that id only.
const (
	ioAttempts = 3
	ioBackoff  = 25 * time.Millisecond
)

// NewFSStore creates the partition directories (0700) and returns the store.
func NewFSStore(baseDir string) (*FSStore, error) {
	for _, s := range []State{StatePending, StateAccepted, StateRejected, StateDenied} {
		dir := filepath.Join(baseDir, s.DirName())
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create partition %s: %w", s.DirName(), err)
		}
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (f *FSStore) path(state State, id string) string {
	return filepath.Join(f.baseDir, state.DirName(), id)
}

// withRetry runs op up to ioAttempts times, backing off between tries.
func withRetry(op func() error) error {
	var err error
	for i := 0; i < ioAttempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if os.IsNotExist(err) {
			return err
		}
		time.Sleep(ioBackoff)
	}
	return err
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func (f *FSStore) Get(id string) (*Record, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, s := range TriStates {
		data, err := os.ReadFile(f.path(s, id))
		if err == nil {
			return &Record{MinionID: id, KeyPEM: data, State: s}, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read key %s: %w", id, err)
		}
	}
	return nil, ErrNotFound
}

func (f *FSStore) Put(state State, rec Record) error {
	if !ValidID(rec.MinionID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.MinionID)
	}
	if state == StateDenied {
		return fmt.Errorf("put %s: use PutDenied", rec.MinionID)
	}
	return withRetry(func() error {
		return writeAtomic(f.path(state, rec.MinionID), rec.KeyPEM, 0600)
	})
}

func (f *FSStore) Remove(id string) (State, bool, error) {
	if !ValidID(id) {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, s := range TriStates {
		err := os.Remove(f.path(s, id))
		if err == nil {
			return s, true, nil
		}
		if !os.IsNotExist(err) {
			return "", false, fmt.Errorf("remove key %s: %w", id, err)
		}
	}
	return "", false, nil
}

func (f *FSStore) Move(id string, from, to State) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	err := withRetry(func() error {
		return os.Rename(f.path(from, id), f.path(to, id))
	})
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("move key %s %s->%s: %w", id, from.Display(), to.Display(), err)
	}
	return nil
}

func (f *FSStore) ListState(state State) ([]Record, error) {
	dir := filepath.Join(f.baseDir, state.DirName())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list partition %s: %w", state.Display(), err)
	}

	var recs []Record
	for _, e := range entries {
		if e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				// Removed between readdir and read by a concurrent caller.
				continue
			}
			return nil, fmt.Errorf("read key %s: %w", e.Name(), err)
		}
		recs = append(recs, Record{MinionID: e.Name(), KeyPEM: data, State: state})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].MinionID < recs[j].MinionID })
	return recs, nil
}

func (f *FSStore) ListAll() (map[State][]Record, error) {
	out := make(map[State][]Record, 4)
	for _, s := range []State{StatePending, StateAccepted, StateRejected, StateDenied} {
		recs, err := f.ListState(s)
		if err != nil {
			return nil, err
		}
		out[s] = recs
	}
	return out, nil
}

func (f *FSStore) PutDenied(rec Record) error {
	if !ValidID(rec.MinionID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, rec.MinionID)
	}
	return withRetry(func() error {
		return writeAtomic(f.path(StateDenied, rec.MinionID), rec.KeyPEM, 0600)
	})
}

func (f *FSStore) GetDenied(id string) (*Record, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	data, err := os.ReadFile(f.path(StateDenied, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read denied key %s: %w", id, err)
	}
	return &Record{MinionID: id, KeyPEM: data, State: StateDenied}, nil
}

func (f *FSStore) RemoveDenied(id string) (bool, error) {
	if !ValidID(id) {
		return false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	err := os.Remove(f.path(StateDenied, id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("remove denied key %s: %w", id, err)
}
