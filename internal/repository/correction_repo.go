package repository

import (
	"context"
	"time"

	"github.com/verilians/VeriPharm-sub000/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CorrectionRepository is the append-only correction ledger plus its outbox.
// Corrections are never updated or deleted; the unique index on audit_item_id
// makes Insert idempotent so retries cannot duplicate a correction.
type CorrectionRepository interface {
	Insert(ctx context.Context, c *model.StockCorrection) error
	ListByAudit(ctx context.Context, auditID uuid.UUID) ([]model.StockCorrection, error)

	// Outbox: durable retry queue for corrections that could not be confirmed
	// during completion.
	EnqueueOutbox(ctx context.Context, rows []model.CorrectionOutbox) error
	ListUnprocessedOutbox(ctx context.Context, limit int) ([]model.CorrectionOutbox, error)
	MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error
	MarkOutboxFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

type correctionRepo struct{ db *gorm.DB }

func NewCorrectionRepository(db *gorm.DB) CorrectionRepository { return &correctionRepo{db: db} }

func (r *correctionRepo) Insert(ctx context.Context, c *model.StockCorrection) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "audit_item_id"}},
			DoNothing: true,
		}).
		Create(c).Error
}

func (r *correctionRepo) ListByAudit(ctx context.Context, auditID uuid.UUID) ([]model.StockCorrection, error) {
	var corrections []model.StockCorrection
	err := r.db.WithContext(ctx).
		Where("audit_id = ?", auditID).
		Order("corrected_at ASC").
		Find(&corrections).Error
	return corrections, err
}

func (r *correctionRepo) EnqueueOutbox(ctx context.Context, rows []model.CorrectionOutbox) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "audit_item_id"}},
			DoNothing: true,
		}).
		Create(&rows).Error
}

func (r *correctionRepo) ListUnprocessedOutbox(ctx context.Context, limit int) ([]model.CorrectionOutbox, error) {
	var rows []model.CorrectionOutbox
	err := r.db.WithContext(ctx).
		Where("processed = false").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *correctionRepo) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.CorrectionOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
		}).Error
}

func (r *correctionRepo) MarkOutboxFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	return r.db.WithContext(ctx).Model(&model.CorrectionOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":   attempts,
			"last_error": lastError,
		}).Error
}
