package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is one pharmacy catalog entry scoped to a branch.
// Quantity is the system stock: mutated only by completed sales, manual
// adjustments, and audit corrections. Products are never hard-deleted.
type Product struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	BranchID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Barcode   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"index;not null"`
	Category  string    `gorm:"not null"`
	CostPrice decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	SalePrice decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Quantity  int             `gorm:"not null;default:0"`
	MinStock  int             `gorm:"not null;default:5"`
	Active    bool            `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
