package dto

import "github.com/shopspring/decimal"

// ── Requests ─────────────────────────────────────────────────────────────────

type StartAuditRequest struct {
	AuditDate string  `json:"audit_date" validate:"required"` // YYYY-MM-DD
	Notes     *string `json:"notes"`
}

type AddItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
}

type EditItemRequest struct {
	// PhysicalCount may be omitted to edit notes only; when present it must be
	// a non-negative integer.
	PhysicalCount *int    `json:"physical_count" validate:"omitempty,min=0"`
	Notes         *string `json:"notes"`
}

// DraftItem is one row of a bulk draft save. Items are upserted by
// (audit_id, product_id), so repeating a save converges to the same state.
type DraftItem struct {
	ProductID     string  `json:"product_id" validate:"required,uuid"`
	PhysicalCount *int    `json:"physical_count" validate:"omitempty,min=0"`
	Notes         *string `json:"notes"`
}

type SaveDraftRequest struct {
	Items []DraftItem `json:"items" validate:"required,dive"`
	Notes *string     `json:"notes"`
}

type AuditFilter struct {
	Status string `form:"status"`
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
}

// ── Responses ────────────────────────────────────────────────────────────────

type AuditItemResponse struct {
	ID            string  `json:"id"`
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	Barcode       string  `json:"barcode"`
	SystemStock   int     `json:"system_stock"`
	PhysicalCount *int    `json:"physical_count"`
	Variance      int     `json:"variance"`
	Status        string  `json:"status"`
	Notes         *string `json:"notes"`
	AuditedBy     *string `json:"audited_by"`
	AuditedAt     *string `json:"audited_at"`
}

type AuditResponse struct {
	ID                   string              `json:"id"`
	BranchID             string              `json:"branch_id"`
	AuditDate            string              `json:"audit_date"`
	Status               string              `json:"status"`
	TotalItemsAudited    int                 `json:"total_items_audited"`
	TotalVariance        int                 `json:"total_variance"`
	EstimatedValueImpact decimal.Decimal     `json:"estimated_value_impact"`
	Notes                *string             `json:"notes"`
	CreatedBy            string              `json:"created_by"`
	CompletedBy          *string             `json:"completed_by"`
	CompletedAt          *string             `json:"completed_at"`
	Version              int                 `json:"version"`
	Items                []AuditItemResponse `json:"items,omitempty"`
	CreatedAt            string              `json:"created_at"`
}

type AuditListResponse struct {
	Data  []AuditResponse `json:"data"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

// CompleteAuditResponse reports the completion outcome. Degraded=true means
// inventory quantities were corrected but the audit's own bookkeeping could
// not be fully confirmed — the caller should treat the operation as success.
type CompleteAuditResponse struct {
	AuditID            string `json:"audit_id"`
	Status             string `json:"status"`
	Degraded           bool   `json:"degraded"`
	Message            string `json:"message"`
	ProductsCorrected  int    `json:"products_corrected"`
	CorrectionsWritten int    `json:"corrections_written"`
	CorrectionsQueued  int    `json:"corrections_queued"`
}

type CorrectionResponse struct {
	ID                string  `json:"id"`
	AuditID           string  `json:"audit_id"`
	AuditItemID       string  `json:"audit_item_id"`
	ProductID         string  `json:"product_id"`
	PreviousQuantity  int     `json:"previous_quantity"`
	CorrectedQuantity int     `json:"corrected_quantity"`
	Variance          int     `json:"variance"`
	CorrectionReason  string  `json:"correction_reason"`
	Notes             *string `json:"notes"`
	CorrectedBy       string  `json:"corrected_by"`
	CorrectedAt       string  `json:"corrected_at"`
}
