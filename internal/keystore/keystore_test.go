package keystore

import (
	"errors"
	"testing"

	"github.com/keyward/keyward/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDBStore(t *testing.T) *DBStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	if err := db.AutoMigrate(&database.MinionKey{}, &database.DeniedKey{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return NewDBStore(db)
}

// forEachBackend runs the test against both store implementations.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("fs", func(t *testing.T) {
		s, err := NewFSStore(t.TempDir())
		if err != nil {
			t.Fatalf("NewFSStore: %v", err)
		}
		fn(t, s)
	})
	t.Run("db", func(t *testing.T) {
		fn(t, newTestDBStore(t))
	})
}

func TestPutGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		rec := Record{MinionID: "web1", KeyPEM: []byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n")}
		if err := s.Put(StatePending, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := s.Get("web1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != StatePending {
			t.Errorf("state: got %s, want %s", got.State, StatePending)
		}
		if string(got.KeyPEM) != string(rec.KeyPEM) {
			t.Error("key bytes do not round-trip")
		}
	})
}

func TestGetNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		_, err := s.Get("absent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Get absent id: got %v, want ErrNotFound", err)
		}
	})
}

func TestMove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.Put(StatePending, Record{MinionID: "web1", KeyPEM: []byte("k1")}); err != nil {
			t.Fatalf("Put: %v", err)
		}

		if err := s.Move("web1", StatePending, StateAccepted); err != nil {
			t.Fatalf("Move: %v", err)
		}

		got, err := s.Get("web1")
		if err != nil {
			t.Fatalf("Get after move: %v", err)
		}
		if got.State != StateAccepted {
			t.Errorf("state after move: got %s, want %s", got.State, StateAccepted)
		}

		// Absent from the source partition.
		pending, err := s.ListState(StatePending)
		if err != nil {
			t.Fatalf("ListState: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("pending partition should be empty after move, has %d", len(pending))
		}
	})
}

func TestMoveNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		err := s.Move("absent", StatePending, StateAccepted)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Move of absent id: got %v, want ErrNotFound", err)
		}
	})
}

func TestMoveWrongSource(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.Put(StateAccepted, Record{MinionID: "web1", KeyPEM: []byte("k1")}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		// Key is accepted, not pending: the conditional move must fail
		// and leave the record where it was.
		err := s.Move("web1", StatePending, StateRejected)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Move from wrong source: got %v, want ErrNotFound", err)
		}
		got, err := s.Get("web1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != StateAccepted {
			t.Errorf("state: got %s, want %s (unchanged)", got.State, StateAccepted)
		}
	})
}

func TestRemoveIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.Put(StateAccepted, Record{MinionID: "web1", KeyPEM: []byte("k1")}); err != nil {
			t.Fatalf("Put: %v", err)
		}

		from, found, err := s.Remove("web1")
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !found {
			t.Fatal("Remove: found=false for existing key")
		}
		if from != StateAccepted {
			t.Errorf("Remove from: got %s, want %s", from, StateAccepted)
		}

		_, found, err = s.Remove("web1")
		if err != nil {
			t.Fatalf("second Remove: %v", err)
		}
		if found {
			t.Error("second Remove: found=true for already-removed key")
		}
	})
}

func TestDeniedCoexistsWithAccepted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		accepted := []byte("accepted-key-bytes")
		if err := s.Put(StateAccepted, Record{MinionID: "web1", KeyPEM: accepted}); err != nil {
			t.Fatalf("Put accepted: %v", err)
		}
		if err := s.PutDenied(Record{MinionID: "web1", KeyPEM: []byte("mismatched-key-bytes")}); err != nil {
			t.Fatalf("PutDenied: %v", err)
		}

		// The accepted record is untouched.
		got, err := s.Get("web1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != StateAccepted {
			t.Errorf("state: got %s, want %s", got.State, StateAccepted)
		}
		if string(got.KeyPEM) != string(accepted) {
			t.Error("accepted key bytes changed after PutDenied")
		}

		den, err := s.GetDenied("web1")
		if err != nil {
			t.Fatalf("GetDenied: %v", err)
		}
		if string(den.KeyPEM) != "mismatched-key-bytes" {
			t.Error("denied key bytes do not round-trip")
		}
	})
}

func TestRemoveLeavesDenied(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		if err := s.Put(StateAccepted, Record{MinionID: "web1", KeyPEM: []byte("k1")}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.PutDenied(Record{MinionID: "web1", KeyPEM: []byte("k2")}); err != nil {
			t.Fatalf("PutDenied: %v", err)
		}

		if _, _, err := s.Remove("web1"); err != nil {
			t.Fatalf("Remove: %v", err)
		}

		// Denied is its own partition: only RemoveDenied clears it.
		if _, err := s.GetDenied("web1"); err != nil {
			t.Fatalf("denied record should survive tri-state Remove: %v", err)
		}

		found, err := s.RemoveDenied("web1")
		if err != nil {
			t.Fatalf("RemoveDenied: %v", err)
		}
		if !found {
			t.Error("RemoveDenied: found=false for existing denied key")
		}
	})
}

func TestListStateSorted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		for _, id := range []string{"web2", "db1", "web1"} {
			if err := s.Put(StatePending, Record{MinionID: id, KeyPEM: []byte(id)}); err != nil {
				t.Fatalf("Put %s: %v", id, err)
			}
		}
		recs, err := s.ListState(StatePending)
		if err != nil {
			t.Fatalf("ListState: %v", err)
		}
		want := []string{"db1", "web1", "web2"}
		if len(recs) != len(want) {
			t.Fatalf("ListState count: got %d, want %d", len(recs), len(want))
		}
		for i, id := range want {
			if recs[i].MinionID != id {
				t.Errorf("ListState[%d]: got %s, want %s", i, recs[i].MinionID, id)
			}
		}
	})
}

func TestListAll(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		s.Put(StatePending, Record{MinionID: "p1", KeyPEM: []byte("k")})
		s.Put(StateAccepted, Record{MinionID: "a1", KeyPEM: []byte("k")})
		s.Put(StateRejected, Record{MinionID: "r1", KeyPEM: []byte("k")})
		s.PutDenied(Record{MinionID: "a1", KeyPEM: []byte("other")})

		all, err := s.ListAll()
		if err != nil {
			t.Fatalf("ListAll: %v", err)
		}
		for state, want := range map[State]int{
			StatePending: 1, StateAccepted: 1, StateRejected: 1, StateDenied: 1,
		} {
			if len(all[state]) != want {
				t.Errorf("ListAll[%s]: got %d records, want %d", state.Display(), len(all[state]), want)
			}
		}
	})
}

func TestInvalidIDRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		for _, id := range []string{"", "../escape", "a/b", "..", "a\x00b"} {
			if err := s.Put(StatePending, Record{MinionID: id, KeyPEM: []byte("k")}); !errors.Is(err, ErrInvalidID) {
				t.Errorf("Put(%q): got %v, want ErrInvalidID", id, err)
			}
		}
	})
}

func TestParseState(t *testing.T) {
	cases := []struct {
		in   string
		want State
	}{
		{"accepted", StateAccepted},
		{"acc", StateAccepted},
		{"pre", StatePending},
		{"unaccepted", StatePending},
		{"pending", StatePending},
		{"rejected", StateRejected},
		{"denied", StateDenied},
	}
	for _, c := range cases {
		got, err := ParseState(c.in)
		if err != nil {
			t.Errorf("ParseState(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseState(%q): got %s, want %s", c.in, got, c.want)
		}
	}

	if _, err := ParseState("bogus"); err == nil {
		t.Error("ParseState(bogus): expected error")
	}
}
