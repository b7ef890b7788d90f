package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockAudit statuses. Transitions are monotonic: draft/in_progress may move
// to completed or cancelled; completed and cancelled are terminal.
const (
	AuditStatusDraft      = "draft"
	AuditStatusInProgress = "in_progress"
	AuditStatusCompleted  = "completed"
	AuditStatusCancelled  = "cancelled"
)

// StockAuditItem statuses, derived from (system_stock, physical_count).
const (
	ItemStatusPending  = "pending"
	ItemStatusMatched  = "matched"
	ItemStatusVariance = "variance"
	ItemStatusCritical = "critical"
)

// StockAudit represents one physical-count exercise for a branch.
// Aggregate columns are always a full recompute over the current item set —
// no incremental update path exists.
type StockAudit struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BranchID  uuid.UUID `gorm:"type:uuid;not null;index"`
	AuditDate time.Time `gorm:"not null"`
	Status    string    `gorm:"type:varchar(20);not null;default:'draft';index"`

	TotalItemsAudited    int             `gorm:"not null;default:0"`
	TotalVariance        int             `gorm:"not null;default:0"`
	EstimatedValueImpact decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`

	Notes       *string
	CreatedBy   uuid.UUID  `gorm:"type:uuid;not null"`
	CompletedBy *uuid.UUID `gorm:"type:uuid"`
	CompletedAt *time.Time

	// Version is checked on every write to detect concurrent editors of the
	// same audit. A mismatch means another save landed first.
	Version   int `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Items []StockAuditItem `gorm:"foreignKey:AuditID;constraint:OnDelete:CASCADE"`
}

// IsTerminal reports whether the audit can no longer be edited.
func (a *StockAudit) IsTerminal() bool {
	return a.Status == AuditStatusCompleted || a.Status == AuditStatusCancelled
}

// StockAuditItem is one product's count within an audit.
// SystemStock is a snapshot of Product.Quantity taken when the item was added,
// never re-read live. Variance and Status are derived from the current
// (SystemStock, PhysicalCount) pair and must be recomputed on every edit.
type StockAuditItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AuditID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_audit_product"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_audit_product"`

	SystemStock int `gorm:"not null"`
	// PhysicalCount is nil until the auditor enters a count. An unset count is
	// distinct from a counted zero: the item stays "pending" and contributes
	// nothing to the audit aggregates.
	PhysicalCount *int
	Variance      int    `gorm:"not null;default:0"`
	Status        string `gorm:"type:varchar(20);not null;default:'pending'"`

	Notes     *string
	AuditedBy *uuid.UUID `gorm:"type:uuid"`
	AuditedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	Product *Product `gorm:"foreignKey:ProductID"`
}
