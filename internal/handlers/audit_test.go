package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/keyward/keyward/internal/audit"
	"github.com/keyward/keyward/internal/database"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestAuditor(t *testing.T) *audit.Auditor {
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
	a := audit.NewAuditor(db, 0)
	audit.SetGlobalForTest(a)
	t.Cleanup(func() {
		audit.ResetGlobalForTest()
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return a
}

func TestGetAuditLogs(t *testing.T) {
	a := setupTestAuditor(t)
	a.Log(audit.Entry{MinionID: "web1", EventType: audit.EventKeyAccepted, Actor: "api"})
	a.Log(audit.Entry{MinionID: "web2", EventType: audit.EventKeyRejected, Actor: "api"})

	req := httptest.NewRequest("GET", "/api/v1/audit?minion_id=web1", nil)
	rr := httptest.NewRecorder()
	GetAuditLogs(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	var res audit.QueryResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Total != 1 || res.Entries[0].MinionID != "web1" {
		t.Errorf("filtered result: total=%d", res.Total)
	}
}

func TestGetAuditLogsValidation(t *testing.T) {
	setupTestAuditor(t)

	for _, q := range []string{"limit=0", "limit=x", "offset=-1", "since=notatime"} {
		req := httptest.NewRequest("GET", "/api/v1/audit?"+q, nil)
		rr := httptest.NewRecorder()
		GetAuditLogs(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rr.Code)
		}
	}
}

func TestGetAuditLogsUninitialized(t *testing.T) {
	audit.ResetGlobalForTest()

	req := httptest.NewRequest("GET", "/api/v1/audit", nil)
	rr := httptest.NewRecorder()
	GetAuditLogs(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rr.Code)
	}
}
