package database

import "time"

// MinionKey is one agent public key in the tri-state lifecycle. A minion
// id appears at most once here; moving a key between states updates the
// State column under a conditional transaction.
type MinionKey struct {
	MinionID  string    `gorm:"primaryKey;size:255" json:"minion_id"`
	KeyPEM    []byte    `gorm:"not null" json:"-"`
	State     string    `gorm:"not null;index;size:16" json:"state"` // pre | acc | rej
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DeniedKey records a key a minion presented that conflicts with the
// accepted key stored for the same id. It lives in its own table so it
// can coexist with the MinionKey row and is only ever removed by an
// explicit operator delete.
type DeniedKey struct {
	MinionID  string    `gorm:"primaryKey;size:255" json:"minion_id"`
	KeyPEM    []byte    `gorm:"not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// KeyAuditLog records a key lifecycle event for the operator audit trail.
type KeyAuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	MinionID  string    `gorm:"index;size:255" json:"minion_id"`
	EventType string    `gorm:"not null;index;size:64" json:"event_type"`
	Actor     string    `gorm:"size:64" json:"actor"`
	SourceIP  string    `gorm:"size:64" json:"source_ip"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
