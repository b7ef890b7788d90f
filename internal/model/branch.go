package model

import (
	"time"

	"github.com/google/uuid"
)

// Branch is the tenancy unit: every product, user, and stock audit belongs to
// exactly one branch.
type Branch struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name         string    `gorm:"not null"`
	Code         string    `gorm:"uniqueIndex;not null"`
	Address      *string
	ManagerEmail *string
	Active       bool `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName overrides GORM's default pluralization (branches, not branchs).
func (Branch) TableName() string { return "branches" }
