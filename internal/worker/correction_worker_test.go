package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/verilians/VeriPharm-sub000/internal/model"
	"github.com/verilians/VeriPharm-sub000/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCorrectionRepo struct {
	byItem    map[uuid.UUID]model.StockCorrection
	outbox    []model.CorrectionOutbox
	insertErr error
}

func newFakeCorrectionRepo() *fakeCorrectionRepo {
	return &fakeCorrectionRepo{byItem: make(map[uuid.UUID]model.StockCorrection)}
}

func (r *fakeCorrectionRepo) Insert(_ context.Context, c *model.StockCorrection) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.byItem[c.AuditItemID]; exists {
		return nil
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.byItem[c.AuditItemID] = *c
	return nil
}

func (r *fakeCorrectionRepo) ListByAudit(_ context.Context, auditID uuid.UUID) ([]model.StockCorrection, error) {
	var out []model.StockCorrection
	for _, c := range r.byItem {
		if c.AuditID == auditID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCorrectionRepo) EnqueueOutbox(_ context.Context, rows []model.CorrectionOutbox) error {
	r.outbox = append(r.outbox, rows...)
	return nil
}

func (r *fakeCorrectionRepo) ListUnprocessedOutbox(_ context.Context, limit int) ([]model.CorrectionOutbox, error) {
	var out []model.CorrectionOutbox
	for _, row := range r.outbox {
		if !row.Processed {
			out = append(out, row)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeCorrectionRepo) MarkOutboxProcessed(_ context.Context, id uuid.UUID) error {
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			r.outbox[i].Processed = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeCorrectionRepo) MarkOutboxFailed(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			r.outbox[i].Attempts = attempts
			r.outbox[i].LastError = &lastError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

var _ repository.CorrectionRepository = (*fakeCorrectionRepo)(nil)

func outboxRow(variance int) model.CorrectionOutbox {
	return model.CorrectionOutbox{
		ID:                uuid.New(),
		AuditID:           uuid.New(),
		AuditItemID:       uuid.New(),
		ProductID:         uuid.New(),
		PreviousQuantity:  50,
		CorrectedQuantity: 50 + variance,
		Variance:          variance,
		CorrectedBy:       uuid.New(),
	}
}

func TestDrain_WritesCorrectionAndMarksProcessed(t *testing.T) {
	repo := newFakeCorrectionRepo()
	row := outboxRow(-3)
	repo.outbox = append(repo.outbox, row)

	w := NewCorrectionWorker(repo, nil)
	w.Drain(context.Background())

	assert.True(t, repo.outbox[0].Processed)

	corrections, err := repo.ListByAudit(context.Background(), row.AuditID)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, row.ProductID, corrections[0].ProductID)
	assert.Equal(t, 50, corrections[0].PreviousQuantity)
	assert.Equal(t, 47, corrections[0].CorrectedQuantity)
	assert.Equal(t, model.CorrectionReasonAudit, corrections[0].CorrectionReason)
}

func TestDrain_Idempotent(t *testing.T) {
	repo := newFakeCorrectionRepo()
	row := outboxRow(5)
	repo.outbox = append(repo.outbox, row)

	w := NewCorrectionWorker(repo, nil)
	w.Drain(context.Background())

	// A second drain after a lost mark cannot duplicate the correction.
	repo.outbox[0].Processed = false
	w.Drain(context.Background())

	corrections, err := repo.ListByAudit(context.Background(), row.AuditID)
	require.NoError(t, err)
	assert.Len(t, corrections, 1)
}

func TestDrain_FailureIncrementsAttempts(t *testing.T) {
	repo := newFakeCorrectionRepo()
	row := outboxRow(2)
	repo.outbox = append(repo.outbox, row)
	repo.insertErr = errors.New("connection refused")

	w := NewCorrectionWorker(repo, nil)
	w.Drain(context.Background())

	assert.False(t, repo.outbox[0].Processed)
	assert.Equal(t, 1, repo.outbox[0].Attempts)
	require.NotNil(t, repo.outbox[0].LastError)
	assert.Contains(t, *repo.outbox[0].LastError, "connection refused")
}

func TestDrain_ExhaustedRowParkedWithoutRedis(t *testing.T) {
	repo := newFakeCorrectionRepo()
	row := outboxRow(2)
	row.Attempts = MaxCorrectionAttempts - 1
	repo.outbox = append(repo.outbox, row)
	repo.insertErr = errors.New("connection refused")

	w := NewCorrectionWorker(repo, nil)
	assert.NotPanics(t, func() { w.Drain(context.Background()) })

	// The poisoned row stops retrying even when the DLQ is unreachable.
	assert.True(t, repo.outbox[0].Processed)
}
