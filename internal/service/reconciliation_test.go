package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/verilians/VeriPharm-sub000/internal/config"
	"github.com/verilians/VeriPharm-sub000/internal/dto"
	"github.com/verilians/VeriPharm-sub000/internal/model"
	"github.com/verilians/VeriPharm-sub000/internal/repository"
	"github.com/verilians/VeriPharm-sub000/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ── In-memory AuditRepository stub ───────────────────────────────────────────

type stubAuditRepo struct {
	audits      map[uuid.UUID]*model.StockAudit
	corrections *stubCorrectionRepo

	completeErr error // injected failure for CompleteWithCorrections
	statusErr   error // injected failure for UpdateStatus
	updateErr   error // injected failure for UpdateAudit
}

func newStubAuditRepo(corrections *stubCorrectionRepo) *stubAuditRepo {
	return &stubAuditRepo{
		audits:      make(map[uuid.UUID]*model.StockAudit),
		corrections: corrections,
	}
}

func (r *stubAuditRepo) snapshot(a *model.StockAudit) *model.StockAudit {
	cp := *a
	cp.Items = make([]model.StockAuditItem, len(a.Items))
	copy(cp.Items, a.Items)
	return &cp
}

func (r *stubAuditRepo) Create(_ context.Context, a *model.StockAudit) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	a.CreatedAt = time.Now()
	r.audits[a.ID] = r.snapshot(a)
	return nil
}

func (r *stubAuditRepo) FindByID(_ context.Context, id uuid.UUID) (*model.StockAudit, error) {
	a, ok := r.audits[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.snapshot(a), nil
}

func (r *stubAuditRepo) FindByIDWithItems(_ context.Context, id uuid.UUID) (*model.StockAudit, error) {
	a, ok := r.audits[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.snapshot(a), nil
}

func (r *stubAuditRepo) FindCurrentByBranch(_ context.Context, branchID uuid.UUID) (*model.StockAudit, error) {
	for _, a := range r.audits {
		if a.BranchID == branchID && !a.IsTerminal() {
			return r.snapshot(a), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubAuditRepo) List(_ context.Context, branchID uuid.UUID, filter dto.AuditFilter) ([]model.StockAudit, int64, error) {
	var out []model.StockAudit
	for _, a := range r.audits {
		if a.BranchID != branchID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *r.snapshot(a))
	}
	return out, int64(len(out)), nil
}

func (r *stubAuditRepo) UpdateAudit(_ context.Context, a *model.StockAudit) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	stored, ok := r.audits[a.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != a.Version {
		return repository.ErrVersionConflict
	}
	a.Version++
	cp := r.snapshot(a)
	cp.Items = stored.Items // UpdateAudit never touches items
	r.audits[a.ID] = cp
	return nil
}

func (r *stubAuditRepo) UpsertItems(_ context.Context, items []model.StockAuditItem) error {
	for i := range items {
		item := items[i]
		stored, ok := r.audits[item.AuditID]
		if !ok {
			return gorm.ErrRecordNotFound
		}
		found := false
		for j := range stored.Items {
			if stored.Items[j].ProductID == item.ProductID {
				item.ID = stored.Items[j].ID
				stored.Items[j] = item
				found = true
				break
			}
		}
		if !found {
			if item.ID == uuid.Nil {
				item.ID = uuid.New()
			}
			stored.Items = append(stored.Items, item)
		}
	}
	return nil
}

func (r *stubAuditRepo) FindItem(_ context.Context, auditID, itemID uuid.UUID) (*model.StockAuditItem, error) {
	stored, ok := r.audits[auditID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	for i := range stored.Items {
		if stored.Items[i].ID == itemID {
			cp := stored.Items[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubAuditRepo) UpdateItem(_ context.Context, item *model.StockAuditItem) error {
	stored, ok := r.audits[item.AuditID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range stored.Items {
		if stored.Items[i].ID == item.ID {
			stored.Items[i] = *item
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubAuditRepo) DeleteItem(_ context.Context, auditID, itemID uuid.UUID) error {
	stored, ok := r.audits[auditID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range stored.Items {
		if stored.Items[i].ID == itemID {
			stored.Items = append(stored.Items[:i], stored.Items[i+1:]...)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubAuditRepo) CompleteWithCorrections(ctx context.Context, a *model.StockAudit, corrections []model.StockCorrection) error {
	if r.completeErr != nil {
		return r.completeErr
	}
	stored, ok := r.audits[a.ID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != a.Version {
		return repository.ErrVersionConflict
	}
	for i := range corrections {
		if err := r.corrections.Insert(ctx, &corrections[i]); err != nil {
			return err
		}
	}
	stored.Status = model.AuditStatusCompleted
	stored.CompletedBy = a.CompletedBy
	stored.CompletedAt = a.CompletedAt
	stored.Version++
	return nil
}

func (r *stubAuditRepo) UpdateStatus(_ context.Context, id uuid.UUID, version int, status string, completedBy uuid.UUID, completedAt time.Time) error {
	if r.statusErr != nil {
		return r.statusErr
	}
	stored, ok := r.audits[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != version {
		return repository.ErrVersionConflict
	}
	stored.Status = status
	stored.CompletedBy = &completedBy
	stored.CompletedAt = &completedAt
	stored.Version++
	return nil
}

func (r *stubAuditRepo) ForceStatus(_ context.Context, id uuid.UUID, status string, completedBy uuid.UUID, completedAt time.Time) error {
	stored, ok := r.audits[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.Status = status
	stored.CompletedBy = &completedBy
	stored.CompletedAt = &completedAt
	return nil
}

func (r *stubAuditRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := r.audits[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(r.audits, id)
	return nil
}

func (r *stubAuditRepo) DB() *gorm.DB { return nil }

var _ repository.AuditRepository = (*stubAuditRepo)(nil)

// ── In-memory ProductRepository stub ─────────────────────────────────────────

type stubProductRepo struct {
	products  map[uuid.UUID]*model.Product
	setQtyErr map[uuid.UUID]error // per-product injected SetQuantity failure
}

func newStubProductRepo() *stubProductRepo {
	return &stubProductRepo{
		products:  make(map[uuid.UUID]*model.Product),
		setQtyErr: make(map[uuid.UUID]error),
	}
}

func (r *stubProductRepo) Create(_ context.Context, p *model.Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	r.products[p.ID] = p
	return nil
}

func (r *stubProductRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	p, ok := r.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *stubProductRepo) FindByBarcode(_ context.Context, barcode string) (*model.Product, error) {
	for _, p := range r.products {
		if p.Barcode == barcode && p.Active {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubProductRepo) List(_ context.Context, branchID uuid.UUID, _ dto.ProductFilter) ([]model.Product, int64, error) {
	var out []model.Product
	for _, p := range r.products {
		if p.BranchID == branchID && p.Active {
			out = append(out, *p)
		}
	}
	return out, int64(len(out)), nil
}

func (r *stubProductRepo) ListActiveByBranch(_ context.Context, branchID uuid.UUID) ([]model.Product, error) {
	var out []model.Product
	for _, p := range r.products {
		if p.BranchID == branchID && p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *stubProductRepo) Update(_ context.Context, p *model.Product) error {
	r.products[p.ID] = p
	return nil
}

func (r *stubProductRepo) SoftDelete(_ context.Context, id uuid.UUID) error {
	p, ok := r.products[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Active = false
	return nil
}

func (r *stubProductRepo) SetQuantity(_ context.Context, branchID, id uuid.UUID, quantity int) error {
	if err, ok := r.setQtyErr[id]; ok {
		return err
	}
	p, ok := r.products[id]
	if !ok || p.BranchID != branchID {
		return gorm.ErrRecordNotFound
	}
	p.Quantity = quantity
	return nil
}

func (r *stubProductRepo) AdjustQuantity(_ context.Context, id uuid.UUID, delta int) error {
	p, ok := r.products[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Quantity += delta
	return nil
}

func (r *stubProductRepo) DB() *gorm.DB { return nil }

var _ repository.ProductRepository = (*stubProductRepo)(nil)

// ── In-memory CorrectionRepository stub ──────────────────────────────────────

type stubCorrectionRepo struct {
	byItem    map[uuid.UUID]model.StockCorrection // keyed by AuditItemID
	outbox    []model.CorrectionOutbox
	insertErr error // injected failure for Insert
}

func newStubCorrectionRepo() *stubCorrectionRepo {
	return &stubCorrectionRepo{byItem: make(map[uuid.UUID]model.StockCorrection)}
}

func (r *stubCorrectionRepo) Insert(_ context.Context, c *model.StockCorrection) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.byItem[c.AuditItemID]; exists {
		return nil // ON CONFLICT DO NOTHING
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.byItem[c.AuditItemID] = *c
	return nil
}

func (r *stubCorrectionRepo) ListByAudit(_ context.Context, auditID uuid.UUID) ([]model.StockCorrection, error) {
	var out []model.StockCorrection
	for _, c := range r.byItem {
		if c.AuditID == auditID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *stubCorrectionRepo) EnqueueOutbox(_ context.Context, rows []model.CorrectionOutbox) error {
	for _, row := range rows {
		dup := false
		for i := range r.outbox {
			if r.outbox[i].AuditItemID == row.AuditItemID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		r.outbox = append(r.outbox, row)
	}
	return nil
}

func (r *stubCorrectionRepo) ListUnprocessedOutbox(_ context.Context, limit int) ([]model.CorrectionOutbox, error) {
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

func (r *stubCorrectionRepo) MarkOutboxProcessed(_ context.Context, id uuid.UUID) error {
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			r.outbox[i].Processed = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *stubCorrectionRepo) MarkOutboxFailed(_ context.Context, id uuid.UUID, attempts int, lastError string) error {
	for i := range r.outbox {
		if r.outbox[i].ID == id {
			r.outbox[i].Attempts = attempts
			r.outbox[i].LastError = &lastError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

var _ repository.CorrectionRepository = (*stubCorrectionRepo)(nil)

// ── Movement and dispatcher stubs ────────────────────────────────────────────

type stubMovementRepo struct {
	movements []model.StockMovement
}

func (r *stubMovementRepo) Create(_ context.Context, m *model.StockMovement) error {
	r.movements = append(r.movements, *m)
	return nil
}

func (r *stubMovementRepo) List(_ context.Context, _ repository.StockMovementFilter) ([]model.StockMovement, int64, error) {
	return r.movements, int64(len(r.movements)), nil
}

var _ repository.StockMovementRepository = (*stubMovementRepo)(nil)

type emailCall struct {
	auditID  uuid.UUID
	degraded bool
}

type stubDispatcher struct {
	drains []uuid.UUID
	emails []emailCall
}

func (d *stubDispatcher) EnqueueCorrectionDrain(_ context.Context, auditID uuid.UUID) error {
	d.drains = append(d.drains, auditID)
	return nil
}

func (d *stubDispatcher) EnqueueAuditEmail(_ context.Context, auditID uuid.UUID, degraded bool) error {
	d.emails = append(d.emails, emailCall{auditID: auditID, degraded: degraded})
	return nil
}

// ── Test environment ─────────────────────────────────────────────────────────

type testEnv struct {
	audits      *stubAuditRepo
	products    *stubProductRepo
	corrections *stubCorrectionRepo
	movements   *stubMovementRepo
	dispatcher  *stubDispatcher
	svc         service.ReconciliationService

	branchID uuid.UUID
	actorID  uuid.UUID
}

func newTestEnv() *testEnv {
	corrections := newStubCorrectionRepo()
	env := &testEnv{
		audits:      newStubAuditRepo(corrections),
		products:    newStubProductRepo(),
		corrections: corrections,
		movements:   &stubMovementRepo{},
		dispatcher:  &stubDispatcher{},
		branchID:    uuid.New(),
		actorID:     uuid.New(),
	}
	cfg := &config.Config{CriticalVarianceThreshold: 10, StoreCallTimeoutMS: 2000}
	env.svc = service.NewReconciliationService(env.audits, env.products, env.corrections, env.movements, env.dispatcher, cfg)
	return env
}

func (env *testEnv) seedProduct(name, barcode string, qty int) *model.Product {
	p := &model.Product{
		ID:        uuid.New(),
		BranchID:  env.branchID,
		Barcode:   barcode,
		Name:      name,
		Category:  "TEST",
		CostPrice: decimal.NewFromFloat(10.00),
		SalePrice: decimal.NewFromFloat(15.00),
		Quantity:  qty,
		Active:    true,
	}
	env.products.products[p.ID] = p
	return p
}

func (env *testEnv) startAudit(t *testing.T) *dto.AuditResponse {
	t.Helper()
	resp, err := env.svc.StartNewAudit(context.Background(), env.actorID, env.branchID, dto.StartAuditRequest{
		AuditDate: "2026-08-29",
	})
	require.NoError(t, err)
	return resp
}

func (env *testEnv) saveDraft(t *testing.T, auditID uuid.UUID, items []dto.DraftItem) *dto.AuditResponse {
	t.Helper()
	resp, err := env.svc.SaveDraft(context.Background(), env.actorID, env.branchID, auditID, dto.SaveDraftRequest{Items: items})
	require.NoError(t, err)
	return resp
}

// ── Lifecycle tests ──────────────────────────────────────────────────────────

func TestStartAudit_OnlyOneOpenPerBranch(t *testing.T) {
	env := newTestEnv()

	first := env.startAudit(t)
	assert.Equal(t, model.AuditStatusDraft, first.Status)

	_, err := env.svc.StartNewAudit(context.Background(), env.actorID, env.branchID, dto.StartAuditRequest{
		AuditDate: "2026-08-29",
	})
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
	assert.Contains(t, err.Error(), first.ID, "the error points at the existing audit")
}

func TestStartAudit_InvalidDate(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.StartNewAudit(context.Background(), env.actorID, env.branchID, dto.StartAuditRequest{
		AuditDate: "29/08/2026",
	})
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
}

func TestAddItem_SnapshotsSystemStock(t *testing.T) {
	env := newTestEnv()
	p := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	resp, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: p.ID.String()})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 50, resp.Items[0].SystemStock)
	assert.Equal(t, model.ItemStatusPending, resp.Items[0].Status)

	// A later catalog change must not leak into the open audit.
	p.Quantity = 99
	resp, err = env.svc.GetAudit(context.Background(), env.branchID, auditID)
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Items[0].SystemStock)
}

func TestAddItem_DuplicateProduct(t *testing.T) {
	env := newTestEnv()
	p := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	_, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: p.ID.String()})
	require.NoError(t, err)
	_, err = env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: p.ID.String()})
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
}

func TestAutoFill_SkipsExistingItems(t *testing.T) {
	env := newTestEnv()
	pa := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	env.seedProduct("Paracetamol 500mg", "7790000000002", 30)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	// Add one item and count it before autofill.
	resp, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: pa.ID.String()})
	require.NoError(t, err)
	itemID := uuid.MustParse(resp.Items[0].ID)
	_, err = env.svc.EditItem(context.Background(), env.actorID, env.branchID, auditID, itemID, dto.EditItemRequest{PhysicalCount: intPtr(47)})
	require.NoError(t, err)

	resp, err = env.svc.AutoFillFromInventory(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err)
	require.Len(t, resp.Items, 2)

	for _, item := range resp.Items {
		if item.ProductID == pa.ID.String() {
			require.NotNil(t, item.PhysicalCount)
			assert.Equal(t, 47, *item.PhysicalCount, "existing count survives autofill")
		} else {
			assert.Nil(t, item.PhysicalCount)
			assert.Equal(t, model.ItemStatusPending, item.Status)
		}
	}
}

func TestEditItem_DerivesStatusAndAggregates(t *testing.T) {
	env := newTestEnv()
	p := env.seedProduct("Amoxicillin 500mg", "7790000000003", 40)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	resp, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: p.ID.String()})
	require.NoError(t, err)
	itemID := uuid.MustParse(resp.Items[0].ID)

	// 40 → 25 is a variance of -15, beyond the threshold of 10.
	resp, err = env.svc.EditItem(context.Background(), env.actorID, env.branchID, auditID, itemID, dto.EditItemRequest{PhysicalCount: intPtr(25)})
	require.NoError(t, err)

	require.Len(t, resp.Items, 1)
	assert.Equal(t, -15, resp.Items[0].Variance)
	assert.Equal(t, model.ItemStatusCritical, resp.Items[0].Status)
	assert.NotNil(t, resp.Items[0].AuditedBy)
	assert.Equal(t, 1, resp.TotalItemsAudited)
	assert.Equal(t, 15, resp.TotalVariance)
}

// ── SaveDraft ────────────────────────────────────────────────────────────────

func TestSaveDraft_Idempotent(t *testing.T) {
	env := newTestEnv()
	pa := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	pb := env.seedProduct("Paracetamol 500mg", "7790000000002", 30)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	items := []dto.DraftItem{
		{ProductID: pa.ID.String(), PhysicalCount: intPtr(47)},
		{ProductID: pb.ID.String(), PhysicalCount: intPtr(30)},
	}

	first := env.saveDraft(t, auditID, items)
	second := env.saveDraft(t, auditID, items)

	assert.Equal(t, model.AuditStatusInProgress, second.Status)
	assert.Len(t, second.Items, 2, "repeated save never duplicates items")
	assert.Equal(t, first.TotalItemsAudited, second.TotalItemsAudited)
	assert.Equal(t, first.TotalVariance, second.TotalVariance)
	assert.True(t, first.EstimatedValueImpact.Equal(second.EstimatedValueImpact))
}

func TestSaveDraft_PartialSubmissionKeepsStoredTotals(t *testing.T) {
	env := newTestEnv()
	pa := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	pb := env.seedProduct("Paracetamol 500mg", "7790000000002", 30)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	// Count product A through the item endpoints, then save a draft that
	// only carries product B. The stored row for A must keep counting
	// toward the aggregates.
	resp, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: pa.ID.String()})
	require.NoError(t, err)
	itemID := uuid.MustParse(resp.Items[0].ID)
	_, err = env.svc.EditItem(context.Background(), env.actorID, env.branchID, auditID, itemID, dto.EditItemRequest{PhysicalCount: intPtr(47)})
	require.NoError(t, err)

	resp = env.saveDraft(t, auditID, []dto.DraftItem{
		{ProductID: pb.ID.String(), PhysicalCount: intPtr(25)},
	})

	require.Len(t, resp.Items, 2)
	assert.Equal(t, 2, resp.TotalItemsAudited)
	assert.Equal(t, 8, resp.TotalVariance)
	assert.True(t, resp.EstimatedValueImpact.Equal(decimal.NewFromFloat(-120.00)),
		"impact stays signed across both items, got %s", resp.EstimatedValueImpact)
}

func TestSaveDraft_VersionConflict(t *testing.T) {
	env := newTestEnv()
	p := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	env.audits.updateErr = repository.ErrVersionConflict
	_, err := env.svc.SaveDraft(context.Background(), env.actorID, env.branchID, auditID, dto.SaveDraftRequest{
		Items: []dto.DraftItem{{ProductID: p.ID.String(), PhysicalCount: intPtr(47)}},
	})
	require.Error(t, err)
	assert.Equal(t, service.FaultVersionConflict, service.FaultKindOf(err))
}

func TestSaveDraft_RejectsForeignBranchProduct(t *testing.T) {
	env := newTestEnv()
	foreign := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	foreign.BranchID = uuid.New()
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	_, err := env.svc.SaveDraft(context.Background(), env.actorID, env.branchID, auditID, dto.SaveDraftRequest{
		Items: []dto.DraftItem{{ProductID: foreign.ID.String(), PhysicalCount: intPtr(10)}},
	})
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
}

// ── CompleteAudit ────────────────────────────────────────────────────────────

// completableAudit seeds two products (one with a variance, one matched),
// starts an audit, and saves the counts — the setup shared by every
// completion-path test.
func completableAudit(t *testing.T, env *testEnv) (auditID uuid.UUID, varianceProduct, matchedProduct *model.Product) {
	t.Helper()
	varianceProduct = env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	matchedProduct = env.seedProduct("Paracetamol 500mg", "7790000000002", 30)
	audit := env.startAudit(t)
	auditID = uuid.MustParse(audit.ID)
	env.saveDraft(t, auditID, []dto.DraftItem{
		{ProductID: varianceProduct.ID.String(), PhysicalCount: intPtr(47)},
		{ProductID: matchedProduct.ID.String(), PhysicalCount: intPtr(30)},
	})
	return auditID, varianceProduct, matchedProduct
}

func TestCompleteAudit_HappyPath(t *testing.T) {
	env := newTestEnv()
	auditID, pv, pm := completableAudit(t, env)

	resp, err := env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err)

	assert.Equal(t, model.AuditStatusCompleted, resp.Status)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 2, resp.ProductsCorrected)
	assert.Equal(t, 1, resp.CorrectionsWritten, "only non-zero variances produce corrections")
	assert.Equal(t, 0, resp.CorrectionsQueued)

	// Physical counts became the inventory truth.
	assert.Equal(t, 47, env.products.products[pv.ID].Quantity)
	assert.Equal(t, 30, env.products.products[pm.ID].Quantity)

	// Correction shape: previous snapshot, corrected count, signed variance.
	corrections, err := env.svc.CorrectionsByAudit(context.Background(), env.branchID, auditID)
	require.NoError(t, err)
	require.Len(t, corrections, 1)
	assert.Equal(t, pv.ID.String(), corrections[0].ProductID)
	assert.Equal(t, 50, corrections[0].PreviousQuantity)
	assert.Equal(t, 47, corrections[0].CorrectedQuantity)
	assert.Equal(t, -3, corrections[0].Variance)
	assert.Equal(t, model.CorrectionReasonAudit, corrections[0].CorrectionReason)

	// Movement ledger got one audit_correction entry per corrected product.
	require.Len(t, env.movements.movements, 2)
	assert.Equal(t, "audit_correction", env.movements.movements[0].Type)

	require.Len(t, env.dispatcher.emails, 1)
	assert.False(t, env.dispatcher.emails[0].degraded)
}

func TestCompleteAudit_ConstraintFallback(t *testing.T) {
	env := newTestEnv()
	auditID, pv, _ := completableAudit(t, env)

	// The transactional path is rejected by a constraint; the fallback inserts
	// corrections row by row and retries the plain status transition.
	env.audits.completeErr = gorm.ErrCheckConstraintViolated

	resp, err := env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err)

	assert.Equal(t, model.AuditStatusCompleted, resp.Status)
	assert.False(t, resp.Degraded, "the fallback path is still a full success")
	assert.Equal(t, 1, resp.CorrectionsWritten)
	assert.Equal(t, 47, env.products.products[pv.ID].Quantity)

	corrections, err := env.svc.CorrectionsByAudit(context.Background(), env.branchID, auditID)
	require.NoError(t, err)
	assert.Len(t, corrections, 1)
}

func TestCompleteAudit_ForcedDegraded(t *testing.T) {
	env := newTestEnv()
	auditID, pv, pm := completableAudit(t, env)

	// Everything after the inventory writes fails: the transaction, the manual
	// correction inserts, and the version-checked status transition.
	env.audits.completeErr = gorm.ErrCheckConstraintViolated
	env.audits.statusErr = gorm.ErrCheckConstraintViolated
	env.corrections.insertErr = gorm.ErrCheckConstraintViolated

	resp, err := env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err, "completion degrades, it does not fail")

	assert.True(t, resp.Degraded)
	assert.Equal(t, model.AuditStatusCompleted, resp.Status)
	assert.Equal(t, "stock was updated; the audit record may be incomplete", resp.Message)
	assert.Equal(t, 2, resp.ProductsCorrected)
	assert.Equal(t, 1, resp.CorrectionsQueued)

	// Inventory was still corrected — never rolled back.
	assert.Equal(t, 47, env.products.products[pv.ID].Quantity)
	assert.Equal(t, 30, env.products.products[pm.ID].Quantity)

	// The audit did not stay stuck in a processing state.
	stored, err := env.audits.FindByID(context.Background(), auditID)
	require.NoError(t, err)
	assert.Equal(t, model.AuditStatusCompleted, stored.Status)

	// Unconfirmed corrections landed in the outbox and the worker was nudged.
	require.Len(t, env.corrections.outbox, 1)
	assert.Equal(t, pv.ID, env.corrections.outbox[0].ProductID)
	assert.Equal(t, 50, env.corrections.outbox[0].PreviousQuantity)
	assert.Equal(t, 47, env.corrections.outbox[0].CorrectedQuantity)
	require.Len(t, env.dispatcher.drains, 1)

	require.Len(t, env.dispatcher.emails, 1)
	assert.True(t, env.dispatcher.emails[0].degraded)
}

func TestCompleteAudit_PartialInventoryFailure(t *testing.T) {
	env := newTestEnv()
	auditID, pv, pm := completableAudit(t, env)

	// One product's inventory write fails; the rest still get corrected.
	env.products.setQtyErr[pm.ID] = context.DeadlineExceeded

	resp, err := env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err)

	assert.Equal(t, 1, resp.ProductsCorrected)
	assert.Equal(t, 47, env.products.products[pv.ID].Quantity)
	assert.Equal(t, 30, env.products.products[pm.ID].Quantity, "failed write leaves the old quantity")
}

func TestCompleteAudit_NoCountedItems(t *testing.T) {
	env := newTestEnv()
	p := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)
	_, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: p.ID.String()})
	require.NoError(t, err)

	_, err = env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
}

func TestCompleteAudit_AlreadyTerminal(t *testing.T) {
	env := newTestEnv()
	auditID, _, _ := completableAudit(t, env)

	_, err := env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err)

	_, err = env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
}

// ── Terminal immutability / cancellation ─────────────────────────────────────

func TestCancelAudit_Terminal(t *testing.T) {
	env := newTestEnv()
	p := env.seedProduct("Ibuprofen 400mg", "7790000000001", 50)
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	require.NoError(t, env.svc.CancelAudit(context.Background(), env.actorID, env.branchID, auditID))

	// No edits land on a cancelled audit.
	_, err := env.svc.AddItem(context.Background(), env.actorID, env.branchID, auditID, dto.AddItemRequest{ProductID: p.ID.String()})
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))

	_, err = env.svc.SaveDraft(context.Background(), env.actorID, env.branchID, auditID, dto.SaveDraftRequest{
		Items: []dto.DraftItem{{ProductID: p.ID.String(), PhysicalCount: intPtr(1)}},
	})
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))

	// Inventory untouched by cancellation.
	assert.Equal(t, 50, env.products.products[p.ID].Quantity)
}

func TestDeleteAudit_CompletedRejected(t *testing.T) {
	env := newTestEnv()
	auditID, _, _ := completableAudit(t, env)

	_, err := env.svc.CompleteAudit(context.Background(), env.actorID, env.branchID, auditID)
	require.NoError(t, err)

	err = env.svc.DeleteAudit(context.Background(), env.branchID, auditID)
	require.Error(t, err)
	assert.True(t, service.IsValidation(err))
}

func TestGetAudit_BranchScoped(t *testing.T) {
	env := newTestEnv()
	audit := env.startAudit(t)
	auditID := uuid.MustParse(audit.ID)

	_, err := env.svc.GetAudit(context.Background(), uuid.New(), auditID)
	require.Error(t, err)
	assert.True(t, service.IsValidation(err), "audits from other branches are invisible, not forbidden")
}
