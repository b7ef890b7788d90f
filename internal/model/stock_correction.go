package model

import (
	"time"

	"github.com/google/uuid"
)

// CorrectionReasonAudit is the only reason the reconciliation engine writes.
const CorrectionReasonAudit = "audit_correction"

// StockCorrection is the append-only record of an inventory adjustment applied
// during audit completion. Rows are never updated or deleted. The unique index
// on AuditItemID makes insertion idempotent: retries and the outbox drain can
// re-attempt the same correction without duplicating it.
type StockCorrection struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AuditID     uuid.UUID `gorm:"type:uuid;not null;index"`
	AuditItemID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null;index"`

	PreviousQuantity  int    `gorm:"not null"`
	CorrectedQuantity int    `gorm:"not null"`
	Variance          int    `gorm:"not null"`
	CorrectionReason  string `gorm:"not null;default:'audit_correction'"`

	Notes       *string
	CorrectedBy uuid.UUID `gorm:"type:uuid;not null"`
	CorrectedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time
}

// CorrectionOutbox holds corrections whose ledger write could not be confirmed
// during completion. A background worker drains these rows until each
// correction exists, guaranteeing eventual correction-record creation even on
// the forced-completion path.
type CorrectionOutbox struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AuditID     uuid.UUID `gorm:"type:uuid;not null;index"`
	AuditItemID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null"`

	PreviousQuantity  int       `gorm:"not null"`
	CorrectedQuantity int       `gorm:"not null"`
	Variance          int       `gorm:"not null"`
	CorrectedBy       uuid.UUID `gorm:"type:uuid;not null"`

	Processed   bool `gorm:"not null;default:false;index"`
	Attempts    int  `gorm:"not null;default:0"`
	LastError   *string
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName overrides GORM's default pluralization (correction_outboxes).
func (CorrectionOutbox) TableName() string { return "correction_outbox" }
