package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"zapflow/internal/automation"
	"zapflow/internal/models"
	pkgmodels "zapflow/pkg/models"
)

type AutomationStore interface {
	ListAutomations(ctx context.Context, tenantID string) ([]models.Automation, error)
	GetAutomation(ctx context.Context, tenantID, id string) (*models.Automation, error)
	CreateAutomation(ctx context.Context, a *models.Automation) error
	ReplaceAutomation(ctx context.Context, a *models.Automation) error
	SetAutomationActive(ctx context.Context, tenantID, id string, active bool) error
	DeleteAutomation(ctx context.Context, tenantID, id string) error
}

type AutomationHandler struct {
	Store AutomationStore
}

func NewAutomationHandler(store AutomationStore) *AutomationHandler {
	return &AutomationHandler{Store: store}
}

// GetAutomations returns all flows of the tenant with their nodes
func (h *AutomationHandler) GetAutomations(c *gin.Context) {
	list, err := h.Store.ListAutomations(c.Request.Context(), currentTenant(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []models.Automation{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	a, err := h.Store.GetAutomation(c.Request.Context(), currentTenant(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// CreateAutomation validates and stores a new flow
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req pkgmodels.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant := currentTenant(c)
	a, err := automation.FromRequest(tenant.ID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.Store.CreateAutomation(c.Request.Context(), a); err != nil {
		respondError(c, err)
		return
	}

	log.Info().Str("tenant_id", tenant.ID).Str("automation_id", a.ID).Int("nodes", len(a.Nodes)).Msg("Automation created")
	c.JSON(http.StatusCreated, a)
}

// UpdateAutomation replaces the flow's settings and whole node list. Open
// bot sessions on it are dropped.
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	var req pkgmodels.AutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenant := currentTenant(c)
	existing, err := h.Store.GetAutomation(c.Request.Context(), tenant.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	a, err := automation.FromRequest(tenant.ID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	a.ID = existing.ID
	if req.Active == nil {
		a.Active = existing.Active
	}
	if err := h.Store.ReplaceAutomation(c.Request.Context(), a); err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.Store.GetAutomation(c.Request.Context(), tenant.ID, a.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// ToggleAutomation enables or disables a flow
func (h *AutomationHandler) ToggleAutomation(c *gin.Context) {
	var req pkgmodels.ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Store.SetAutomationActive(c.Request.Context(), currentTenant(c).ID, c.Param("id"), req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": req.Active})
}

func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	if err := h.Store.DeleteAutomation(c.Request.Context(), currentTenant(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Automation deleted"})
}
