package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/verilians/VeriPharm-sub000/internal/config"
	"github.com/verilians/VeriPharm-sub000/internal/dto"
	"github.com/verilians/VeriPharm-sub000/internal/model"
	"github.com/verilians/VeriPharm-sub000/internal/repository"
)

// AsyncDispatcher is the slice of the worker dispatcher the engine needs.
// A nil dispatcher is tolerated (unit test mode) — async side effects are
// best-effort by design.
type AsyncDispatcher interface {
	EnqueueCorrectionDrain(ctx context.Context, auditID uuid.UUID) error
	EnqueueAuditEmail(ctx context.Context, auditID uuid.UUID, degraded bool) error
}

// ReconciliationService orchestrates the stock audit lifecycle: draft
// persistence, completion, inventory correction, and failure recovery.
// Every operation takes the acting user and branch explicitly — there is no
// ambient session state.
type ReconciliationService interface {
	StartNewAudit(ctx context.Context, actorID, branchID uuid.UUID, req dto.StartAuditRequest) (*dto.AuditResponse, error)
	LoadCurrentAudit(ctx context.Context, branchID uuid.UUID) (*dto.AuditResponse, error)
	GetAudit(ctx context.Context, branchID, auditID uuid.UUID) (*dto.AuditResponse, error)
	ListAudits(ctx context.Context, branchID uuid.UUID, filter dto.AuditFilter) (*dto.AuditListResponse, error)
	AddItem(ctx context.Context, actorID, branchID, auditID uuid.UUID, req dto.AddItemRequest) (*dto.AuditResponse, error)
	AutoFillFromInventory(ctx context.Context, actorID, branchID, auditID uuid.UUID) (*dto.AuditResponse, error)
	EditItem(ctx context.Context, actorID, branchID, auditID, itemID uuid.UUID, req dto.EditItemRequest) (*dto.AuditResponse, error)
	RemoveItem(ctx context.Context, branchID, auditID, itemID uuid.UUID) (*dto.AuditResponse, error)
	SaveDraft(ctx context.Context, actorID, branchID, auditID uuid.UUID, req dto.SaveDraftRequest) (*dto.AuditResponse, error)
	CompleteAudit(ctx context.Context, actorID, branchID, auditID uuid.UUID) (*dto.CompleteAuditResponse, error)
	CancelAudit(ctx context.Context, actorID, branchID, auditID uuid.UUID) error
	DeleteAudit(ctx context.Context, branchID, auditID uuid.UUID) error
	CorrectionsByAudit(ctx context.Context, branchID, auditID uuid.UUID) ([]dto.CorrectionResponse, error)
}

type reconciliationService struct {
	audits      repository.AuditRepository
	products    repository.ProductRepository
	corrections repository.CorrectionRepository
	movements   repository.StockMovementRepository
	dispatcher  AsyncDispatcher

	criticalThreshold int
	storeTimeout      time.Duration
}

func NewReconciliationService(
	audits repository.AuditRepository,
	products repository.ProductRepository,
	corrections repository.CorrectionRepository,
	movements repository.StockMovementRepository,
	dispatcher AsyncDispatcher,
	cfg *config.Config,
) ReconciliationService {
	threshold := DefaultCriticalThreshold
	timeout := 5 * time.Second
	if cfg != nil {
		if cfg.CriticalVarianceThreshold > 0 {
			threshold = cfg.CriticalVarianceThreshold
		}
		if cfg.StoreCallTimeoutMS > 0 {
			timeout = time.Duration(cfg.StoreCallTimeoutMS) * time.Millisecond
		}
	}
	return &reconciliationService{
		audits:            audits,
		products:          products,
		corrections:       corrections,
		movements:         movements,
		dispatcher:        dispatcher,
		criticalThreshold: threshold,
		storeTimeout:      timeout,
	}
}

// storeCtx bounds a single external-store call. A timeout classifies as
// StoreUnavailable, the same as any other store error.
func (s *reconciliationService) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// ── StartNewAudit ─────────────────────────────────────────────────────────────

// StartNewAudit opens a draft for the branch. At most one non-terminal audit
// may exist per branch: starting while one is open is a usage error pointing
// at the existing audit, never a silent second draft.
func (s *reconciliationService) StartNewAudit(ctx context.Context, actorID, branchID uuid.UUID, req dto.StartAuditRequest) (*dto.AuditResponse, error) {
	const op = "StartNewAudit"

	auditDate, err := time.Parse("2006-01-02", req.AuditDate)
	if err != nil {
		return nil, validationFault(op, "audit_date must be YYYY-MM-DD")
	}

	cctx, cancel := s.storeCtx(ctx)
	existing, err := s.audits.FindCurrentByBranch(cctx, branchID)
	cancel()
	if err == nil && existing != nil {
		return nil, validationFault(op, fmt.Sprintf("an open audit already exists for this branch (id %s)", existing.ID))
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, classifyStoreError(op, err)
	}

	audit := &model.StockAudit{
		BranchID:  branchID,
		AuditDate: auditDate,
		Status:    model.AuditStatusDraft,
		Notes:     req.Notes,
		CreatedBy: actorID,
		Version:   1,
	}
	cctx, cancel = s.storeCtx(ctx)
	defer cancel()
	if err := s.audits.Create(cctx, audit); err != nil {
		return nil, classifyStoreError(op, err)
	}
	return auditToResponse(audit, false), nil
}

// ── Loading ───────────────────────────────────────────────────────────────────

func (s *reconciliationService) LoadCurrentAudit(ctx context.Context, branchID uuid.UUID) (*dto.AuditResponse, error) {
	const op = "LoadCurrentAudit"

	cctx, cancel := s.storeCtx(ctx)
	current, err := s.audits.FindCurrentByBranch(cctx, branchID)
	cancel()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationFault(op, "no open audit for this branch")
		}
		return nil, classifyStoreError(op, err)
	}
	return s.GetAudit(ctx, branchID, current.ID)
}

func (s *reconciliationService) GetAudit(ctx context.Context, branchID, auditID uuid.UUID) (*dto.AuditResponse, error) {
	const op = "GetAudit"

	audit, err := s.loadAuditForBranch(ctx, op, branchID, auditID)
	if err != nil {
		return nil, err
	}
	return auditToResponse(audit, true), nil
}

func (s *reconciliationService) ListAudits(ctx context.Context, branchID uuid.UUID, filter dto.AuditFilter) (*dto.AuditListResponse, error) {
	const op = "ListAudits"

	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	audits, total, err := s.audits.List(cctx, branchID, filter)
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	data := make([]dto.AuditResponse, 0, len(audits))
	for i := range audits {
		data = append(data, *auditToResponse(&audits[i], false))
	}
	return &dto.AuditListResponse{Data: data, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// ── Item editing ──────────────────────────────────────────────────────────────

// AddItem snapshots the product's current quantity as the item's system stock.
// The snapshot is fixed from this point on — later product mutations do not
// leak into an open audit.
func (s *reconciliationService) AddItem(ctx context.Context, actorID, branchID, auditID uuid.UUID, req dto.AddItemRequest) (*dto.AuditResponse, error) {
	const op = "AddItem"

	audit, err := s.loadEditableAudit(ctx, op, branchID, auditID)
	if err != nil {
		return nil, err
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, validationFault(op, "invalid product_id")
	}
	for i := range audit.Items {
		if audit.Items[i].ProductID == productID {
			return nil, validationFault(op, "product is already part of this audit")
		}
	}

	cctx, cancel := s.storeCtx(ctx)
	product, err := s.products.FindByID(cctx, productID)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	if product.BranchID != branchID {
		return nil, validationFault(op, "product belongs to a different branch")
	}

	item := model.StockAuditItem{
		AuditID:     auditID,
		ProductID:   productID,
		SystemStock: product.Quantity,
		Status:      model.ItemStatusPending,
	}
	cctx, cancel = s.storeCtx(ctx)
	err = s.audits.UpsertItems(cctx, []model.StockAuditItem{item})
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	_ = actorID // stamps are written when a count is entered, not on add
	return s.GetAudit(ctx, branchID, auditID)
}

// AutoFillFromInventory creates one pending item per active branch product,
// snapshotting every current quantity. Products already in the audit keep
// their original snapshot and entered counts.
func (s *reconciliationService) AutoFillFromInventory(ctx context.Context, actorID, branchID, auditID uuid.UUID) (*dto.AuditResponse, error) {
	const op = "AutoFillFromInventory"

	audit, err := s.loadEditableAudit(ctx, op, branchID, auditID)
	if err != nil {
		return nil, err
	}

	cctx, cancel := s.storeCtx(ctx)
	products, err := s.products.ListActiveByBranch(cctx, branchID)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	existing := make(map[uuid.UUID]bool, len(audit.Items))
	for i := range audit.Items {
		existing[audit.Items[i].ProductID] = true
	}

	var items []model.StockAuditItem
	for i := range products {
		if existing[products[i].ID] {
			continue
		}
		items = append(items, model.StockAuditItem{
			AuditID:     auditID,
			ProductID:   products[i].ID,
			SystemStock: products[i].Quantity,
			Status:      model.ItemStatusPending,
		})
	}
	if len(items) > 0 {
		cctx, cancel = s.storeCtx(ctx)
		err = s.audits.UpsertItems(cctx, items)
		cancel()
		if err != nil {
			return nil, classifyStoreError(op, err)
		}
	}

	_ = actorID
	return s.GetAudit(ctx, branchID, auditID)
}

// EditItem applies a physical count or note edit, rederives variance and
// status, and writes the full aggregate recompute back onto the audit. No
// cached variance is trusted — the calculator runs on every mutation.
func (s *reconciliationService) EditItem(ctx context.Context, actorID, branchID, auditID, itemID uuid.UUID, req dto.EditItemRequest) (*dto.AuditResponse, error) {
	const op = "EditItem"

	if _, err := s.loadEditableAudit(ctx, op, branchID, auditID); err != nil {
		return nil, err
	}

	cctx, cancel := s.storeCtx(ctx)
	item, err := s.audits.FindItem(cctx, auditID, itemID)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	if req.PhysicalCount != nil {
		if *req.PhysicalCount < 0 {
			return nil, validationFault(op, "physical_count must be >= 0")
		}
		item.PhysicalCount = req.PhysicalCount
		now := time.Now()
		item.AuditedBy = &actorID
		item.AuditedAt = &now
	}
	if req.Notes != nil {
		item.Notes = req.Notes
	}
	item.Variance = ItemVariance(item.SystemStock, item.PhysicalCount)
	item.Status = ItemStatus(item.SystemStock, item.PhysicalCount, s.criticalThreshold)

	cctx, cancel = s.storeCtx(ctx)
	err = s.audits.UpdateItem(cctx, item)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	if err := s.recomputeAggregates(ctx, op, auditID); err != nil {
		return nil, err
	}
	return s.GetAudit(ctx, branchID, auditID)
}

func (s *reconciliationService) RemoveItem(ctx context.Context, branchID, auditID, itemID uuid.UUID) (*dto.AuditResponse, error) {
	const op = "RemoveItem"

	if _, err := s.loadEditableAudit(ctx, op, branchID, auditID); err != nil {
		return nil, err
	}
	cctx, cancel := s.storeCtx(ctx)
	err := s.audits.DeleteItem(cctx, auditID, itemID)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	if err := s.recomputeAggregates(ctx, op, auditID); err != nil {
		return nil, err
	}
	return s.GetAudit(ctx, branchID, auditID)
}

// ── SaveDraft ─────────────────────────────────────────────────────────────────

// SaveDraft upserts the submitted rows by (audit_id, product_id) with fresh
// audited_by/audited_at stamps where a count exists, then recomputes the
// aggregates over the full stored item set. Items already persisted but absent
// from the request stay counted, so a partial submission never shrinks the
// totals. Repeating the call with the same set converges to the same stored
// state. Draft save has no fallback: a store error propagates and the caller
// retries.
func (s *reconciliationService) SaveDraft(ctx context.Context, actorID, branchID, auditID uuid.UUID, req dto.SaveDraftRequest) (*dto.AuditResponse, error) {
	const op = "SaveDraft"

	audit, err := s.loadEditableAudit(ctx, op, branchID, auditID)
	if err != nil {
		return nil, err
	}

	items, err := s.resolveDraftItems(ctx, op, actorID, audit, req.Items)
	if err != nil {
		return nil, err
	}

	cctx, cancel := s.storeCtx(ctx)
	err = s.audits.UpsertItems(cctx, items)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	cctx, cancel = s.storeCtx(ctx)
	merged, err := s.audits.FindByIDWithItems(cctx, auditID)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	totals := AggregateTotals(merged.Items)
	merged.Status = model.AuditStatusInProgress
	merged.TotalItemsAudited = totals.TotalItemsAudited
	merged.TotalVariance = totals.TotalVariance
	merged.EstimatedValueImpact = totals.EstimatedValueImpact
	if req.Notes != nil {
		merged.Notes = req.Notes
	}

	cctx, cancel = s.storeCtx(ctx)
	err = s.audits.UpdateAudit(cctx, merged)
	cancel()
	if err != nil {
		return nil, classifyStoreError(op, err)
	}

	return s.GetAudit(ctx, branchID, auditID)
}

// resolveDraftItems merges the submitted rows with the stored item set. Items
// already persisted keep their system-stock snapshot; new products are
// snapshotted now. Variance and status are rederived for every row.
func (s *reconciliationService) resolveDraftItems(ctx context.Context, op string, actorID uuid.UUID, audit *model.StockAudit, rows []dto.DraftItem) ([]model.StockAuditItem, error) {
	byProduct := make(map[uuid.UUID]*model.StockAuditItem, len(audit.Items))
	for i := range audit.Items {
		byProduct[audit.Items[i].ProductID] = &audit.Items[i]
	}

	now := time.Now()
	items := make([]model.StockAuditItem, 0, len(rows))
	for _, row := range rows {
		productID, err := uuid.Parse(row.ProductID)
		if err != nil {
			return nil, validationFault(op, "invalid product_id in draft items")
		}

		var item model.StockAuditItem
		if stored, ok := byProduct[productID]; ok {
			item = *stored
			item.Product = stored.Product
		} else {
			cctx, cancel := s.storeCtx(ctx)
			product, err := s.products.FindByID(cctx, productID)
			cancel()
			if err != nil {
				return nil, classifyStoreError(op, err)
			}
			if product.BranchID != audit.BranchID {
				return nil, validationFault(op, "product belongs to a different branch")
			}
			item = model.StockAuditItem{
				AuditID:     audit.ID,
				ProductID:   productID,
				SystemStock: product.Quantity,
				Product:     product,
			}
		}

		item.PhysicalCount = row.PhysicalCount
		if row.Notes != nil {
			item.Notes = row.Notes
		}
		item.Variance = ItemVariance(item.SystemStock, item.PhysicalCount)
		item.Status = ItemStatus(item.SystemStock, item.PhysicalCount, s.criticalThreshold)
		if item.PhysicalCount != nil {
			item.AuditedBy = &actorID
			auditedAt := now
			item.AuditedAt = &auditedAt
		}
		items = append(items, item)
	}
	return items, nil
}

// ── CompleteAudit ─────────────────────────────────────────────────────────────

// CompleteAudit finalizes the audit and reconciles inventory. The sequence is
// deliberately not atomic across the three stores; inventory correctness is
// prioritized over bookkeeping completeness:
//
//  1. items are upserted so the audit stamps are current;
//  2. every counted item's physical count is written to the inventory store
//     eagerly — these writes are never rolled back;
//  3. primary path: corrections and the status transition land in one
//     repository transaction;
//  4. a constraint rejection falls back to inserting corrections row by row
//     (idempotent), then retries the plain status transition once;
//  5. anything surviving the fallback forces the status to completed and
//     queues unconfirmed corrections into the outbox; the caller receives a
//     degraded success, never an outright failure.
func (s *reconciliationService) CompleteAudit(ctx context.Context, actorID, branchID, auditID uuid.UUID) (*dto.CompleteAuditResponse, error) {
	const op = "CompleteAudit"

	audit, err := s.loadAuditForBranch(ctx, op, branchID, auditID)
	if err != nil {
		return nil, err
	}
	if audit.IsTerminal() {
		return nil, validationFault(op, fmt.Sprintf("audit is already %s", audit.Status))
	}

	counted := countedItems(audit.Items)
	if len(counted) == 0 {
		return nil, validationFault(op, "no items have been counted; save a draft first")
	}

	now := time.Now()

	// Step 1: refresh stamps and aggregates. A failure here is logged and
	// absorbed — stamps are bookkeeping, and aborting would leave the
	// physical count unapplied, the worse outcome.
	if err := s.refreshBeforeCompletion(ctx, actorID, audit, now); err != nil {
		log.Warn().Err(err).Str("audit_id", auditID.String()).
			Msg("completion: pre-completion refresh failed, continuing")
	}

	// Step 2: apply physical counts to the inventory store.
	applied := 0
	for i := range counted {
		item := counted[i]
		cctx, cancel := s.storeCtx(ctx)
		err := s.products.SetQuantity(cctx, branchID, item.ProductID, *item.PhysicalCount)
		cancel()
		if err != nil {
			log.Error().Err(err).
				Str("audit_id", auditID.String()).
				Str("product_id", item.ProductID.String()).
				Msg("completion: inventory write failed")
			continue
		}
		applied++
		s.recordMovement(ctx, actorID, audit.ID, item)
	}

	corrections := buildCorrections(audit.ID, actorID, now, counted)

	// Step 3: primary path — corrections + status in one transaction.
	audit.CompletedBy = &actorID
	audit.CompletedAt = &now
	cctx, cancel := s.storeCtx(ctx)
	err = s.audits.CompleteWithCorrections(cctx, audit, corrections)
	cancel()
	if err == nil {
		s.notifyCompletion(ctx, auditID, false)
		return &dto.CompleteAuditResponse{
			AuditID:            auditID.String(),
			Status:             model.AuditStatusCompleted,
			Message:            "audit completed; inventory corrected",
			ProductsCorrected:  applied,
			CorrectionsWritten: len(corrections),
		}, nil
	}

	fault := classifyStoreError(op, err)
	log.Warn().Err(err).Str("audit_id", auditID.String()).Str("fault", string(fault.Kind)).
		Msg("completion: primary path failed")

	// Step 4: constraint rejections get the manual fallback — insert each
	// correction individually, then retry the plain status transition once.
	if fault.Kind == FaultConstraint {
		written := s.insertCorrectionsManually(ctx, corrections)
		cctx, cancel = s.storeCtx(ctx)
		err = s.audits.UpdateStatus(cctx, auditID, audit.Version, model.AuditStatusCompleted, actorID, now)
		cancel()
		if err == nil {
			s.notifyCompletion(ctx, auditID, false)
			return &dto.CompleteAuditResponse{
				AuditID:            auditID.String(),
				Status:             model.AuditStatusCompleted,
				Message:            "audit completed; inventory corrected",
				ProductsCorrected:  applied,
				CorrectionsWritten: written,
			}, nil
		}
		log.Warn().Err(err).Str("audit_id", auditID.String()).
			Msg("completion: status retry after manual corrections failed")
	}

	// Step 5: force completion. Inventory is already corrected; the audit
	// must not stay in an ambiguous processing state. Unconfirmed corrections
	// go to the outbox so the ledger eventually catches up.
	cctx, cancel = s.storeCtx(ctx)
	forceErr := s.audits.ForceStatus(cctx, auditID, model.AuditStatusCompleted, actorID, now)
	cancel()
	if forceErr != nil {
		log.Error().Err(forceErr).Str("audit_id", auditID.String()).
			Msg("completion: forced status write failed; treating audit as completed locally")
	}

	queued := s.enqueueCorrectionOutbox(ctx, actorID, counted, audit.ID)
	s.notifyCompletion(ctx, auditID, true)

	return &dto.CompleteAuditResponse{
		AuditID:           auditID.String(),
		Status:            model.AuditStatusCompleted,
		Degraded:          true,
		Message:           "stock was updated; the audit record may be incomplete",
		ProductsCorrected: applied,
		CorrectionsQueued: queued,
	}, nil
}

// refreshBeforeCompletion re-stamps counted items and writes the final
// aggregate recompute — the same work as a draft save.
func (s *reconciliationService) refreshBeforeCompletion(ctx context.Context, actorID uuid.UUID, audit *model.StockAudit, now time.Time) error {
	for i := range audit.Items {
		item := &audit.Items[i]
		item.Variance = ItemVariance(item.SystemStock, item.PhysicalCount)
		item.Status = ItemStatus(item.SystemStock, item.PhysicalCount, s.criticalThreshold)
		if item.PhysicalCount != nil {
			item.AuditedBy = &actorID
			auditedAt := now
			item.AuditedAt = &auditedAt
		}
	}

	totals := AggregateTotals(audit.Items)
	audit.TotalItemsAudited = totals.TotalItemsAudited
	audit.TotalVariance = totals.TotalVariance
	audit.EstimatedValueImpact = totals.EstimatedValueImpact

	cctx, cancel := s.storeCtx(ctx)
	err := s.audits.UpdateAudit(cctx, audit)
	cancel()
	if err != nil {
		return err
	}

	cctx, cancel = s.storeCtx(ctx)
	defer cancel()
	return s.audits.UpsertItems(cctx, audit.Items)
}

// recordMovement appends the audit correction to the per-product movement
// ledger. Best effort: a failed movement write never blocks completion.
func (s *reconciliationService) recordMovement(ctx context.Context, actorID, auditID uuid.UUID, item *model.StockAuditItem) {
	if s.movements == nil {
		return
	}
	ref := auditID
	mov := &model.StockMovement{
		ProductID:        item.ProductID,
		Type:             "audit_correction",
		Quantity:         *item.PhysicalCount - item.SystemStock,
		PreviousQuantity: item.SystemStock,
		NewQuantity:      *item.PhysicalCount,
		Reason:           fmt.Sprintf("Stock audit %s", auditID),
		ReferenceID:      &ref,
		CreatedBy:        &actorID,
	}
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.movements.Create(cctx, mov); err != nil {
		log.Warn().Err(err).Str("product_id", item.ProductID.String()).
			Msg("completion: stock movement write failed")
	}
}

func (s *reconciliationService) insertCorrectionsManually(ctx context.Context, corrections []model.StockCorrection) int {
	written := 0
	for i := range corrections {
		cctx, cancel := s.storeCtx(ctx)
		err := s.corrections.Insert(cctx, &corrections[i])
		cancel()
		if err != nil {
			log.Error().Err(err).
				Str("audit_item_id", corrections[i].AuditItemID.String()).
				Msg("completion: manual correction insert failed")
			continue
		}
		written++
	}
	return written
}

// enqueueCorrectionOutbox persists unconfirmed corrections durably and nudges
// the worker. Rows are keyed by audit_item_id, so re-enqueueing after an
// earlier partial attempt is harmless.
func (s *reconciliationService) enqueueCorrectionOutbox(ctx context.Context, actorID uuid.UUID, counted []*model.StockAuditItem, auditID uuid.UUID) int {
	var rows []model.CorrectionOutbox
	for _, item := range counted {
		if item.Variance == 0 {
			continue
		}
		rows = append(rows, model.CorrectionOutbox{
			AuditID:           auditID,
			AuditItemID:       item.ID,
			ProductID:         item.ProductID,
			PreviousQuantity:  item.SystemStock,
			CorrectedQuantity: *item.PhysicalCount,
			Variance:          item.Variance,
			CorrectedBy:       actorID,
		})
	}
	if len(rows) == 0 {
		return 0
	}

	cctx, cancel := s.storeCtx(ctx)
	err := s.corrections.EnqueueOutbox(cctx, rows)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("audit_id", auditID.String()).
			Msg("completion: outbox enqueue failed; corrections may be missing")
		return 0
	}
	if s.dispatcher != nil {
		_ = s.dispatcher.EnqueueCorrectionDrain(ctx, auditID)
	}
	return len(rows)
}

func (s *reconciliationService) notifyCompletion(ctx context.Context, auditID uuid.UUID, degraded bool) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.EnqueueAuditEmail(ctx, auditID, degraded)
}

// ── Cancellation / deletion ───────────────────────────────────────────────────

func (s *reconciliationService) CancelAudit(ctx context.Context, actorID, branchID, auditID uuid.UUID) error {
	const op = "CancelAudit"

	audit, err := s.loadAuditForBranch(ctx, op, branchID, auditID)
	if err != nil {
		return err
	}
	if audit.IsTerminal() {
		return validationFault(op, fmt.Sprintf("audit is already %s", audit.Status))
	}

	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.audits.UpdateStatus(cctx, auditID, audit.Version, model.AuditStatusCancelled, actorID, time.Now()); err != nil {
		return classifyStoreError(op, err)
	}
	return nil
}

func (s *reconciliationService) DeleteAudit(ctx context.Context, branchID, auditID uuid.UUID) error {
	const op = "DeleteAudit"

	audit, err := s.loadAuditForBranch(ctx, op, branchID, auditID)
	if err != nil {
		return err
	}
	if audit.Status == model.AuditStatusCompleted {
		return validationFault(op, "completed audits cannot be deleted")
	}

	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.audits.Delete(cctx, auditID); err != nil {
		return classifyStoreError(op, err)
	}
	return nil
}

func (s *reconciliationService) CorrectionsByAudit(ctx context.Context, branchID, auditID uuid.UUID) ([]dto.CorrectionResponse, error) {
	const op = "CorrectionsByAudit"

	if _, err := s.loadAuditForBranch(ctx, op, branchID, auditID); err != nil {
		return nil, err
	}
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	corrections, err := s.corrections.ListByAudit(cctx, auditID)
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	out := make([]dto.CorrectionResponse, 0, len(corrections))
	for i := range corrections {
		out = append(out, correctionToResponse(&corrections[i]))
	}
	return out, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *reconciliationService) loadAuditForBranch(ctx context.Context, op string, branchID, auditID uuid.UUID) (*model.StockAudit, error) {
	cctx, cancel := s.storeCtx(ctx)
	defer cancel()
	audit, err := s.audits.FindByIDWithItems(cctx, auditID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationFault(op, "audit not found")
		}
		return nil, classifyStoreError(op, err)
	}
	if audit.BranchID != branchID {
		return nil, validationFault(op, "audit not found")
	}
	return audit, nil
}

func (s *reconciliationService) loadEditableAudit(ctx context.Context, op string, branchID, auditID uuid.UUID) (*model.StockAudit, error) {
	audit, err := s.loadAuditForBranch(ctx, op, branchID, auditID)
	if err != nil {
		return nil, err
	}
	if audit.IsTerminal() {
		return nil, validationFault(op, fmt.Sprintf("audit is %s and can no longer be edited", audit.Status))
	}
	return audit, nil
}

func (s *reconciliationService) recomputeAggregates(ctx context.Context, op string, auditID uuid.UUID) error {
	cctx, cancel := s.storeCtx(ctx)
	audit, err := s.audits.FindByIDWithItems(cctx, auditID)
	cancel()
	if err != nil {
		return classifyStoreError(op, err)
	}

	totals := AggregateTotals(audit.Items)
	audit.TotalItemsAudited = totals.TotalItemsAudited
	audit.TotalVariance = totals.TotalVariance
	audit.EstimatedValueImpact = totals.EstimatedValueImpact

	cctx, cancel = s.storeCtx(ctx)
	defer cancel()
	if err := s.audits.UpdateAudit(cctx, audit); err != nil {
		return classifyStoreError(op, err)
	}
	return nil
}

func countedItems(items []model.StockAuditItem) []*model.StockAuditItem {
	var counted []*model.StockAuditItem
	for i := range items {
		if items[i].PhysicalCount != nil {
			counted = append(counted, &items[i])
		}
	}
	return counted
}

// buildCorrections creates one correction per counted item with non-zero
// variance: previous_quantity is the audited snapshot, corrected_quantity the
// physical count.
func buildCorrections(auditID, actorID uuid.UUID, at time.Time, counted []*model.StockAuditItem) []model.StockCorrection {
	var corrections []model.StockCorrection
	for _, item := range counted {
		if item.Variance == 0 {
			continue
		}
		corrections = append(corrections, model.StockCorrection{
			AuditID:           auditID,
			AuditItemID:       item.ID,
			ProductID:         item.ProductID,
			PreviousQuantity:  item.SystemStock,
			CorrectedQuantity: *item.PhysicalCount,
			Variance:          item.Variance,
			CorrectionReason:  model.CorrectionReasonAudit,
			Notes:             item.Notes,
			CorrectedBy:       actorID,
			CorrectedAt:       at,
		})
	}
	return corrections
}

// ── Response assembly ─────────────────────────────────────────────────────────

func auditToResponse(a *model.StockAudit, withItems bool) *dto.AuditResponse {
	resp := &dto.AuditResponse{
		ID:                   a.ID.String(),
		BranchID:             a.BranchID.String(),
		AuditDate:            a.AuditDate.Format("2006-01-02"),
		Status:               a.Status,
		TotalItemsAudited:    a.TotalItemsAudited,
		TotalVariance:        a.TotalVariance,
		EstimatedValueImpact: a.EstimatedValueImpact,
		Notes:                a.Notes,
		CreatedBy:            a.CreatedBy.String(),
		Version:              a.Version,
		CreatedAt:            a.CreatedAt.Format(time.RFC3339),
	}
	if a.CompletedBy != nil {
		v := a.CompletedBy.String()
		resp.CompletedBy = &v
	}
	if a.CompletedAt != nil {
		v := a.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	if withItems {
		resp.Items = make([]dto.AuditItemResponse, 0, len(a.Items))
		for i := range a.Items {
			resp.Items = append(resp.Items, itemToResponse(&a.Items[i]))
		}
	}
	return resp
}

func itemToResponse(item *model.StockAuditItem) dto.AuditItemResponse {
	resp := dto.AuditItemResponse{
		ID:            item.ID.String(),
		ProductID:     item.ProductID.String(),
		SystemStock:   item.SystemStock,
		PhysicalCount: item.PhysicalCount,
		Variance:      item.Variance,
		Status:        item.Status,
		Notes:         item.Notes,
	}
	if item.Product != nil {
		resp.ProductName = item.Product.Name
		resp.Barcode = item.Product.Barcode
	}
	if item.AuditedBy != nil {
		v := item.AuditedBy.String()
		resp.AuditedBy = &v
	}
	if item.AuditedAt != nil {
		v := item.AuditedAt.Format(time.RFC3339)
		resp.AuditedAt = &v
	}
	return resp
}

func correctionToResponse(c *model.StockCorrection) dto.CorrectionResponse {
	return dto.CorrectionResponse{
		ID:                c.ID.String(),
		AuditID:           c.AuditID.String(),
		AuditItemID:       c.AuditItemID.String(),
		ProductID:         c.ProductID.String(),
		PreviousQuantity:  c.PreviousQuantity,
		CorrectedQuantity: c.CorrectedQuantity,
		Variance:          c.Variance,
		CorrectionReason:  c.CorrectionReason,
		Notes:             c.Notes,
		CorrectedBy:       c.CorrectedBy.String(),
		CorrectedAt:       c.CorrectedAt.Format(time.RFC3339),
	}
}
