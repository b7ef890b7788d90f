package handler

import (
	"net/http"

	"github.com/verilians/VeriPharm-sub000/internal/apierror"
	"github.com/verilians/VeriPharm-sub000/internal/dto"
	"github.com/verilians/VeriPharm-sub000/internal/middleware"
	"github.com/verilians/VeriPharm-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AuditsHandler struct{ svc service.ReconciliationService }

func NewAuditsHandler(svc service.ReconciliationService) *AuditsHandler {
	return &AuditsHandler{svc: svc}
}

// actor extracts the authenticated user and branch from the JWT claims.
func actor(c *gin.Context) (actorID, branchID uuid.UUID, ok bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, apierror.New("missing credentials"))
		return uuid.Nil, uuid.Nil, false
	}
	actorID, err := uuid.Parse(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apierror.New("invalid token subject"))
		return uuid.Nil, uuid.Nil, false
	}
	branchID, err = uuid.Parse(claims.BranchID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, apierror.New("invalid token branch"))
		return uuid.Nil, uuid.Nil, false
	}
	return actorID, branchID, true
}

func auditID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid audit id"))
		return uuid.Nil, false
	}
	return id, true
}

// Start godoc
// @Summary      Start a new stock audit for the actor's branch
// @Description  Only one draft/in-progress audit may exist per branch.
// @Tags         audits
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body body dto.StartAuditRequest true "Audit date and notes"
// @Success      201  {object} dto.AuditResponse
// @Failure      400  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError
// @Router       /v1/audits [post]
func (h *AuditsHandler) Start(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	var req dto.StartAuditRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.StartNewAudit(c.Request.Context(), actorID, branchID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Current godoc
// @Summary      Get the branch's open (draft or in-progress) audit
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.AuditResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/audits/current [get]
func (h *AuditsHandler) Current(c *gin.Context) {
	_, branchID, ok := actor(c)
	if !ok {
		return
	}
	resp, err := h.svc.LoadCurrentAudit(c.Request.Context(), branchID)
	if err != nil {
		c.JSON(http.StatusNotFound, apierror.New("no open audit for this branch"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary      List the branch's audits
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Param        status query string false "draft | in_progress | completed | cancelled"
// @Param        page   query int    false "Page (default 1)"
// @Param        limit  query int    false "Page size (default 20)"
// @Success      200 {object} dto.AuditListResponse
// @Router       /v1/audits [get]
func (h *AuditsHandler) List(c *gin.Context) {
	_, branchID, ok := actor(c)
	if !ok {
		return
	}
	var filter dto.AuditFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid query parameters"))
		return
	}
	resp, err := h.svc.ListAudits(c.Request.Context(), branchID, filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Get godoc
// @Summary      Get an audit with its items
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Audit UUID"
// @Success      200 {object} dto.AuditResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/audits/{id} [get]
func (h *AuditsHandler) Get(c *gin.Context) {
	_, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	resp, err := h.svc.GetAudit(c.Request.Context(), branchID, id)
	if err != nil {
		if service.IsValidation(err) {
			c.JSON(http.StatusNotFound, apierror.New("audit not found"))
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AddItem godoc
// @Summary      Add a product to an open audit
// @Description  Snapshots the product's current quantity as system_stock.
// @Tags         audits
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string true "Audit UUID"
// @Param        body body dto.AddItemRequest true "Product to add"
// @Success      200  {object} dto.AuditResponse
// @Failure      400  {object} apierror.APIError
// @Router       /v1/audits/{id}/items [post]
func (h *AuditsHandler) AddItem(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	var req dto.AddItemRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.AddItem(c.Request.Context(), actorID, branchID, id, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AutoFill godoc
// @Summary      Populate the audit with every active product of the branch
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Audit UUID"
// @Success      200 {object} dto.AuditResponse
// @Failure      400 {object} apierror.APIError
// @Router       /v1/audits/{id}/items/autofill [post]
func (h *AuditsHandler) AutoFill(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	resp, err := h.svc.AutoFillFromInventory(c.Request.Context(), actorID, branchID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// EditItem godoc
// @Summary      Record or change the physical count of an audit item
// @Tags         audits
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id      path string true "Audit UUID"
// @Param        item_id path string true "Item UUID"
// @Param        body    body dto.EditItemRequest true "Physical count and notes"
// @Success      200     {object} dto.AuditResponse
// @Failure      400     {object} apierror.APIError
// @Router       /v1/audits/{id}/items/{item_id} [put]
func (h *AuditsHandler) EditItem(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid item id"))
		return
	}
	var req dto.EditItemRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.EditItem(c.Request.Context(), actorID, branchID, id, itemID, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RemoveItem godoc
// @Summary      Remove an item from an open audit
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Param        id      path string true "Audit UUID"
// @Param        item_id path string true "Item UUID"
// @Success      200     {object} dto.AuditResponse
// @Failure      400     {object} apierror.APIError
// @Router       /v1/audits/{id}/items/{item_id} [delete]
func (h *AuditsHandler) RemoveItem(c *gin.Context) {
	_, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("invalid item id"))
		return
	}
	resp, err := h.svc.RemoveItem(c.Request.Context(), branchID, id, itemID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SaveDraft godoc
// @Summary      Bulk-save audit progress
// @Description  Upserts items by (audit_id, product_id); saving twice converges
// @Description  to the same state. Fails with 409 when a concurrent save landed first.
// @Tags         audits
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id   path string true "Audit UUID"
// @Param        body body dto.SaveDraftRequest true "Draft items"
// @Success      200  {object} dto.AuditResponse
// @Failure      400  {object} apierror.APIError
// @Failure      409  {object} apierror.APIError
// @Router       /v1/audits/{id}/draft [put]
func (h *AuditsHandler) SaveDraft(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	var req dto.SaveDraftRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.SaveDraft(c.Request.Context(), actorID, branchID, id, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Complete godoc
// @Summary      Complete an audit and reconcile inventory
// @Description  Applies every counted physical quantity to the product catalog
// @Description  and writes correction records. Returns 200 with degraded=true
// @Description  when inventory was corrected but the audit's own bookkeeping
// @Description  could not be fully confirmed.
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Audit UUID"
// @Success      200 {object} dto.CompleteAuditResponse
// @Failure      400 {object} apierror.APIError
// @Failure      409 {object} apierror.APIError
// @Failure      503 {object} apierror.APIError
// @Router       /v1/audits/{id}/complete [post]
func (h *AuditsHandler) Complete(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	resp, err := h.svc.CompleteAudit(c.Request.Context(), actorID, branchID, id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel godoc
// @Summary      Cancel an open audit
// @Description  Terminal: no inventory changes are applied or reverted.
// @Tags         audits
// @Security     BearerAuth
// @Param        id path string true "Audit UUID"
// @Success      204
// @Failure      400 {object} apierror.APIError
// @Router       /v1/audits/{id}/cancel [post]
func (h *AuditsHandler) Cancel(c *gin.Context) {
	actorID, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	if err := h.svc.CancelAudit(c.Request.Context(), actorID, branchID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete godoc
// @Summary      Delete a draft audit and its items
// @Tags         audits
// @Security     BearerAuth
// @Param        id path string true "Audit UUID"
// @Success      204
// @Failure      400 {object} apierror.APIError
// @Router       /v1/audits/{id} [delete]
func (h *AuditsHandler) Delete(c *gin.Context) {
	_, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteAudit(c.Request.Context(), branchID, id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Corrections godoc
// @Summary      List the correction records written for an audit
// @Tags         audits
// @Produce      json
// @Security     BearerAuth
// @Param        id path string true "Audit UUID"
// @Success      200 {array} dto.CorrectionResponse
// @Failure      404 {object} apierror.APIError
// @Router       /v1/audits/{id}/corrections [get]
func (h *AuditsHandler) Corrections(c *gin.Context) {
	_, branchID, ok := actor(c)
	if !ok {
		return
	}
	id, ok := auditID(c)
	if !ok {
		return
	}
	resp, err := h.svc.CorrectionsByAudit(c.Request.Context(), branchID, id)
	if err != nil {
		if service.IsValidation(err) {
			c.JSON(http.StatusNotFound, apierror.New("audit not found"))
			return
		}
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
