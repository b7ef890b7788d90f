package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/verilians/VeriPharm-sub000/internal/model"
	"github.com/verilians/VeriPharm-sub000/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// MaxCorrectionAttempts bounds outbox retries before a row is parked in the DLQ.
const MaxCorrectionAttempts = 5

const outboxBatchSize = 100

// CorrectionWorker drains the correction outbox. Each unprocessed row becomes
// an idempotent insert into the stock_corrections ledger; a row that keeps
// failing lands in the DLQ for manual handling.
type CorrectionWorker struct {
	corrections repository.CorrectionRepository
	rdb         *redis.Client
}

func NewCorrectionWorker(corrections repository.CorrectionRepository, rdb *redis.Client) *CorrectionWorker {
	return &CorrectionWorker{corrections: corrections, rdb: rdb}
}

// Process handles a drain nudge from the queue. The payload only carries the
// audit that triggered it; the drain itself covers every pending row so a lost
// nudge for one audit is healed by the next one.
func (w *CorrectionWorker) Process(ctx context.Context, payload json.RawMessage) {
	var p CorrectionDrainPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Error().Err(err).Msg("invalid correction drain payload")
		return
	}
	log.Info().Str("audit_id", p.AuditID).Msg("draining correction outbox")
	w.Drain(ctx)
}

// Drain flushes all unprocessed outbox rows. Also called directly by the
// outbox cron as a safety net when the Redis nudge was lost.
func (w *CorrectionWorker) Drain(ctx context.Context) {
	for {
		rows, err := w.corrections.ListUnprocessedOutbox(ctx, outboxBatchSize)
		if err != nil {
			log.Error().Err(err).Msg("failed to list correction outbox")
			return
		}
		if len(rows) == 0 {
			return
		}
		for _, row := range rows {
			w.drainRow(ctx, row)
		}
		if len(rows) < outboxBatchSize {
			return
		}
	}
}

func (w *CorrectionWorker) drainRow(ctx context.Context, row model.CorrectionOutbox) {
	correction := &model.StockCorrection{
		AuditID:           row.AuditID,
		AuditItemID:       row.AuditItemID,
		ProductID:         row.ProductID,
		PreviousQuantity:  row.PreviousQuantity,
		CorrectedQuantity: row.CorrectedQuantity,
		Variance:          row.Variance,
		CorrectionReason:  model.CorrectionReasonAudit,
		CorrectedBy:       row.CorrectedBy,
		CorrectedAt:       time.Now(),
	}
	if err := w.corrections.Insert(ctx, correction); err != nil {
		attempts := row.Attempts + 1
		if markErr := w.corrections.MarkOutboxFailed(ctx, row.ID, attempts, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("outbox_id", row.ID.String()).Msg("failed to record outbox failure")
		}
		log.Error().Err(err).
			Str("outbox_id", row.ID.String()).
			Str("audit_id", row.AuditID.String()).
			Int("attempts", attempts).
			Msg("correction insert failed")
		if attempts >= MaxCorrectionAttempts {
			payload, _ := json.Marshal(CorrectionDrainPayload{AuditID: row.AuditID.String()})
			SendToDLQ(ctx, w.rdb, DLQEntry{
				Queue:    QueueCorrections,
				Type:     "correction_drain",
				Payload:  payload,
				Error:    err.Error(),
				Attempts: attempts,
			})
			// Marking processed stops the retry loop; the DLQ entry keeps the trail.
			if markErr := w.corrections.MarkOutboxProcessed(ctx, row.ID); markErr != nil {
				log.Error().Err(markErr).Str("outbox_id", row.ID.String()).Msg("failed to park poisoned outbox row")
			}
		}
		return
	}
	if err := w.corrections.MarkOutboxProcessed(ctx, row.ID); err != nil {
		// Insert is idempotent, so the next drain re-attempting this row is harmless.
		log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("failed to mark outbox row processed")
	}
}
