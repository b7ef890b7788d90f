package repository

import (
	"context"
	"errors"
	"time"

	"github.com/verilians/VeriPharm-sub000/internal/dto"
	"github.com/verilians/VeriPharm-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrVersionConflict is returned when a version-checked write matched no rows:
// another actor persisted the audit after we read it.
var ErrVersionConflict = errors.New("audit version conflict: concurrent modification")

// AuditRepository persists StockAudit and StockAuditItem rows.
type AuditRepository interface {
	Create(ctx context.Context, a *model.StockAudit) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.StockAudit, error)
	// FindByIDWithItems loads the audit, its items, and each item's product —
	// the explicit typed join/assembly for the audit detail view.
	FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.StockAudit, error)
	// FindCurrentByBranch returns the newest non-terminal audit for a branch,
	// or gorm.ErrRecordNotFound when none exists.
	FindCurrentByBranch(ctx context.Context, branchID uuid.UUID) (*model.StockAudit, error)
	List(ctx context.Context, branchID uuid.UUID, filter dto.AuditFilter) ([]model.StockAudit, int64, error)

	// UpdateAudit writes mutable audit fields with a version check. The stored
	// version is incremented; ErrVersionConflict when the check fails.
	UpdateAudit(ctx context.Context, a *model.StockAudit) error

	// UpsertItems inserts or updates items keyed by (audit_id, product_id).
	// Calling it repeatedly with the same set converges to the same state.
	UpsertItems(ctx context.Context, items []model.StockAuditItem) error
	FindItem(ctx context.Context, auditID, itemID uuid.UUID) (*model.StockAuditItem, error)
	UpdateItem(ctx context.Context, item *model.StockAuditItem) error
	DeleteItem(ctx context.Context, auditID, itemID uuid.UUID) error

	// CompleteWithCorrections is the primary completion path: one transaction
	// inserting every correction row and transitioning the audit to completed.
	CompleteWithCorrections(ctx context.Context, a *model.StockAudit, corrections []model.StockCorrection) error

	// UpdateStatus transitions only the status/completion fields, version-checked.
	UpdateStatus(ctx context.Context, id uuid.UUID, version int, status string, completedBy uuid.UUID, completedAt time.Time) error

	// ForceStatus bypasses the version check entirely. Last-resort path: the
	// caller has decided the transition must land regardless of what else
	// happened to the row.
	ForceStatus(ctx context.Context, id uuid.UUID, status string, completedBy uuid.UUID, completedAt time.Time) error

	// Delete removes an audit; items cascade via the FK constraint.
	Delete(ctx context.Context, id uuid.UUID) error

	DB() *gorm.DB
}

type auditRepo struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &auditRepo{db: db} }

func (r *auditRepo) Create(ctx context.Context, a *model.StockAudit) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *auditRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.StockAudit, error) {
	var a model.StockAudit
	err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *auditRepo) FindByIDWithItems(ctx context.Context, id uuid.UUID) (*model.StockAudit, error) {
	var a model.StockAudit
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Items.Product").
		First(&a, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *auditRepo) FindCurrentByBranch(ctx context.Context, branchID uuid.UUID) (*model.StockAudit, error) {
	var a model.StockAudit
	err := r.db.WithContext(ctx).
		Where("branch_id = ? AND status IN ?", branchID, []string{model.AuditStatusDraft, model.AuditStatusInProgress}).
		Order("created_at DESC").
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *auditRepo) List(ctx context.Context, branchID uuid.UUID, filter dto.AuditFilter) ([]model.StockAudit, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.StockAudit{}).Where("branch_id = ?", branchID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	limit := filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	var audits []model.StockAudit
	err := q.Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&audits).Error
	return audits, total, err
}

func (r *auditRepo) UpdateAudit(ctx context.Context, a *model.StockAudit) error {
	res := r.db.WithContext(ctx).Model(&model.StockAudit{}).
		Where("id = ? AND version = ?", a.ID, a.Version).
		Updates(map[string]interface{}{
			"audit_date":             a.AuditDate,
			"status":                 a.Status,
			"total_items_audited":    a.TotalItemsAudited,
			"total_variance":         a.TotalVariance,
			"estimated_value_impact": a.EstimatedValueImpact,
			"notes":                  a.Notes,
			"version":                gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	a.Version++
	return nil
}

func (r *auditRepo) UpsertItems(ctx context.Context, items []model.StockAuditItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "audit_id"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"physical_count", "variance", "status", "notes",
				"audited_by", "audited_at", "updated_at",
			}),
		}).
		Create(&items).Error
}

func (r *auditRepo) FindItem(ctx context.Context, auditID, itemID uuid.UUID) (*model.StockAuditItem, error) {
	var item model.StockAuditItem
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("id = ? AND audit_id = ?", itemID, auditID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *auditRepo) UpdateItem(ctx context.Context, item *model.StockAuditItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *auditRepo) DeleteItem(ctx context.Context, auditID, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND audit_id = ?", itemID, auditID).
		Delete(&model.StockAuditItem{}).Error
}

func (r *auditRepo) CompleteWithCorrections(ctx context.Context, a *model.StockAudit, corrections []model.StockCorrection) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(corrections) > 0 {
			if err := tx.Create(&corrections).Error; err != nil {
				return err
			}
		}
		res := tx.Model(&model.StockAudit{}).
			Where("id = ? AND version = ?", a.ID, a.Version).
			Updates(map[string]interface{}{
				"status":       model.AuditStatusCompleted,
				"completed_by": a.CompletedBy,
				"completed_at": a.CompletedAt,
				"version":      gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
}

func (r *auditRepo) UpdateStatus(ctx context.Context, id uuid.UUID, version int, status string, completedBy uuid.UUID, completedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.StockAudit{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_by": completedBy,
			"completed_at": completedAt,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *auditRepo) ForceStatus(ctx context.Context, id uuid.UUID, status string, completedBy uuid.UUID, completedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.StockAudit{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_by": completedBy,
			"completed_at": completedAt,
		}).Error
}

func (r *auditRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("audit_id = ?", id).Delete(&model.StockAuditItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.StockAudit{}, "id = ?", id).Error
	})
}

func (r *auditRepo) DB() *gorm.DB { return r.db }
