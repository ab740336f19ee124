package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"zapflow/internal/automation"
	"zapflow/internal/campaign"
	"zapflow/internal/models"
	"zapflow/internal/recurrence"
	"zapflow/internal/store"
)

const (
	TenantHeader = "X-Tenant-ID"
	tenantKey    = "tenant"
)

type TenantLoader interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
}

// TenantMiddleware resolves the calling tenant from the X-Tenant-ID header.
// Authentication happens upstream.
func TenantMiddleware(loader TenantLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(TenantHeader)
		if id == "" {
			id = c.Query("tenant_id")
		}
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-Tenant-ID header required"})
			return
		}
		tenant, err := loader.GetTenant(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unknown tenant"})
				return
			}
			log.Error().Err(err).Str("tenant_id", id).Msg("Failed to load tenant")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set(tenantKey, tenant)
		c.Next()
	}
}

func currentTenant(c *gin.Context) *models.Tenant {
	return c.MustGet(tenantKey).(*models.Tenant)
}

var (
	errInvalidPhone  = errors.New("invalid phone number")
	errDuplicate     = errors.New("contact with this phone already exists")
	errContactsLimit = errors.New("contacts limit reached for plan")
)

var badRequest = []error{
	campaign.ErrNameRequired, campaign.ErrContentRequired, campaign.ErrCaptionRequired,
	campaign.ErrInvalidMediaType, campaign.ErrInvalidWindow, campaign.ErrInvalidEndDate,
	campaign.ErrNoContacts, campaign.ErrInvalidTransition,
	recurrence.ErrUnknownType, recurrence.ErrInvalidTime, recurrence.ErrInvalidDay,
	automation.ErrInvalidTrigger, automation.ErrNoKeywords, automation.ErrNoNodes,
	automation.ErrInvalidNodeType, automation.ErrNodeOrder, automation.ErrEmptyNode,
	automation.ErrMenuOptions, automation.ErrOptionTarget, automation.ErrWaitSeconds,
	errInvalidPhone,
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, campaign.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrTenantSuspended):
		return http.StatusPaymentRequired
	case errors.Is(err, campaign.ErrNotConnected), errors.Is(err, campaign.ErrQuotaExceeded),
		errors.Is(err, errDuplicate), errors.Is(err, errContactsLimit):
		return http.StatusConflict
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
