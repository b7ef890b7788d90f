package model

import (
	"time"

	"github.com/google/uuid"
)

// StockMovement records every change to a product's quantity.
// Created on sales, manual adjustments, and audit corrections.
// Movements are NEVER modified or deleted.
type StockMovement struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ProductID uuid.UUID `gorm:"type:uuid;not null;index"`
	Type      string    `gorm:"not null"` // "sale" | "manual_adjust" | "audit_correction"
	Quantity  int       `gorm:"not null"` // positive = inflow, negative = outflow
	PreviousQuantity int `gorm:"not null"`
	NewQuantity      int `gorm:"not null"`
	Reason           string
	// ReferenceID links to the originating audit or sale when applicable.
	ReferenceID *uuid.UUID `gorm:"type:uuid"`
	CreatedBy   *uuid.UUID `gorm:"type:uuid"`
	CreatedAt   time.Time

	Product *Product `gorm:"foreignKey:ProductID"`
}
