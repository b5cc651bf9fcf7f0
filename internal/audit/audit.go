// Package audit records key lifecycle decisions for the operator audit
// trail. Entries go to the database and to the standard logger.
package audit

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/keyward/keyward/internal/database"
	"github.com/keyward/keyward/internal/logutil"
	"gorm.io/gorm"
)

// Event types for key lifecycle auditing.
const (
	EventKeyAccepted        = "key_accepted"
	EventKeyRejected        = "key_rejected"
	EventKeyDeleted         = "key_deleted"
	EventKeyDenied          = "key_denied"
	EventDeniedResolved     = "denied_resolved"
	EventSessionInvalidated = "session_invalidated"
	EventInvalidationFailed = "invalidation_failed"
	EventKeyGenerated       = "key_generated"
	EventSignatureCreated   = "signature_created"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// Entry contains the fields needed to create an audit log record.
type Entry struct {
	MinionID  string
	EventType string
	Actor     string
	SourceIP  string
	Details   string
}

// Auditor records and queries key lifecycle audit logs.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewAuditor creates an Auditor writing to the given database.
// If retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log records an audit event to the database and standard logger.
func (a *Auditor) Log(entry Entry) error {
	record := database.KeyAuditLog{
		MinionID:  entry.MinionID,
		EventType: entry.EventType,
		Actor:     entry.Actor,
		SourceIP:  entry.SourceIP,
		Details:   entry.Details,
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[audit] %s minion=%s actor=%s details=%s",
		entry.EventType,
		logutil.SanitizeForLog(entry.MinionID),
		entry.Actor,
		entry.Details,
	)
	return nil
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	MinionID  string
	EventType string
	Actor     string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.KeyAuditLog `json:"entries"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// defaultQueryLimit caps unbounded queries.
const defaultQueryLimit = 100

// Query retrieves audit log entries matching the given options.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.KeyAuditLog{})
	if opts.MinionID != "" {
		tx = tx.Where("minion_id = ?", opts.MinionID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Actor != "" {
		tx = tx.Where("actor = ?", opts.Actor)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count audit logs: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > defaultQueryLimit {
		limit = defaultQueryLimit
	}

	var entries []database.KeyAuditLog
	if err := tx.Order("created_at DESC, id DESC").Limit(limit).Offset(opts.Offset).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}

	return &QueryResult{Entries: entries, Total: total, Limit: limit, Offset: opts.Offset}, nil
}

// Prune deletes audit entries older than the retention window and
// returns the number removed.
func (a *Auditor) Prune() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.nowFn().AddDate(0, 0, -a.retentionDays)
	res := a.db.Where("created_at < ?", cutoff).Delete(&database.KeyAuditLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune audit logs: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		log.Printf("[audit] pruned %d entries older than %d days", res.RowsAffected, a.retentionDays)
	}
	return res.RowsAffected, nil
}
