package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

type DashboardStore interface {
	CountContacts(ctx context.Context, tenantID string) (int64, error)
	CampaignCounts(ctx context.Context, tenantID string) (map[string]int64, error)
	Usage(ctx context.Context, tenantID string) (sent, limit int, err error)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type DashboardHandler struct {
	Store   DashboardStore
	Checks  map[string]HealthCheck
	started time.Time
}

func NewDashboardHandler(store DashboardStore, checks map[string]HealthCheck) *DashboardHandler {
	return &DashboardHandler{Store: store, Checks: checks, started: time.Now()}
}

// GetStats summarizes the tenant's audience, campaigns and monthly usage
func (h *DashboardHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := currentTenant(c)

	contacts, err := h.Store.CountContacts(ctx, tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	campaigns, err := h.Store.CampaignCounts(ctx, tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	sent, limit, err := h.Store.Usage(ctx, tenant.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contacts":  contacts,
		"campaigns": campaigns,
		"usage": gin.H{
			"messages_sent_month":  sent,
			"messages_limit_month": limit,
		},
		"whatsapp": gin.H{
			"status": tenant.WAStatus,
			"phone":  tenant.WAPhoneNumber,
		},
	})
}

// Health runs every registered check; any failure turns the reply into 503
func (h *DashboardHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	checks := gin.H{}
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"checks": checks,
	})
}
