package audit

import (
	"testing"
	"time"

	"github.com/keyward/keyward/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestAuditor(t *testing.T, retentionDays int) *Auditor {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	if err := db.AutoMigrate(&database.KeyAuditLog{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return NewAuditor(db, retentionDays)
}

func TestLogAndQuery(t *testing.T) {
	a := newTestAuditor(t, 0)

	entries := []Entry{
		{MinionID: "web1", EventType: EventKeyAccepted, Actor: "admin"},
		{MinionID: "web2", EventType: EventKeyRejected, Actor: "admin"},
		{MinionID: "web1", EventType: EventKeyDeleted, Actor: "cli"},
	}
	for _, e := range entries {
		if err := a.Log(e); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	res, err := a.Query(QueryOptions{MinionID: "web1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 2 {
		t.Errorf("Total for web1: got %d, want 2", res.Total)
	}

	res, err = a.Query(QueryOptions{EventType: EventKeyRejected})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 1 || res.Entries[0].MinionID != "web2" {
		t.Errorf("rejected filter: total=%d", res.Total)
	}
}

func TestQueryPagination(t *testing.T) {
	a := newTestAuditor(t, 0)
	for i := 0; i < 5; i++ {
		if err := a.Log(Entry{MinionID: "web1", EventType: EventKeyAccepted}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}

	res, err := a.Query(QueryOptions{Limit: 2, Offset: 0})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Entries) != 2 || res.Total != 5 {
		t.Errorf("page 1: entries=%d total=%d, want 2/5", len(res.Entries), res.Total)
	}
}

func TestPrune(t *testing.T) {
	a := newTestAuditor(t, 30)

	if err := a.Log(Entry{MinionID: "web1", EventType: EventKeyAccepted}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	// Move the clock 31 days forward; the entry is now expired.
	a.nowFn = func() time.Time { return time.Now().AddDate(0, 0, 31) }

	removed, err := a.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("Prune removed %d entries, want 1", removed)
	}

	res, err := a.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("entries remain after prune: %d", res.Total)
	}
}

func TestPruneKeepsFreshEntries(t *testing.T) {
	a := newTestAuditor(t, 30)
	if err := a.Log(Entry{MinionID: "web1", EventType: EventKeyAccepted}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	removed, err := a.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("Prune removed %d fresh entries, want 0", removed)
	}
}
