package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"zapflow/internal/models"
	"zapflow/internal/whatsapp"
)

// InstanceGateway is the connection lifecycle side of the gateway.
type InstanceGateway interface {
	CreateInstance(ctx context.Context, instance string) error
	Connect(ctx context.Context, instance string) (*whatsapp.QRCode, error)
	ConnectionState(ctx context.Context, instance string) (string, error)
	Logout(ctx context.Context, instance string) error
}

type InstanceStore interface {
	SetInstance(ctx context.Context, tenantID, instance, status string) error
	ConnectionState(ctx context.Context, tenantID, status, phone, profile string, at time.Time) error
}

type WhatsAppHandler struct {
	Client InstanceGateway
	Store  InstanceStore
}

func NewWhatsAppHandler(client InstanceGateway, store InstanceStore) *WhatsAppHandler {
	return &WhatsAppHandler{Client: client, Store: store}
}

// Connect creates the tenant's gateway instance when missing and returns a
// pairing QR code
func (h *WhatsAppHandler) Connect(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := currentTenant(c)

	instance := tenant.WAInstanceID
	if instance == "" {
		instance = whatsapp.InstanceName(tenant.ID)
		if err := h.Client.CreateInstance(ctx, instance); err != nil {
			log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to create gateway instance")
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to create WhatsApp instance"})
			return
		}
	}

	qr, err := h.Client.Connect(ctx, instance)
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		// instance was removed on the gateway side
		if err = h.Client.CreateInstance(ctx, instance); err == nil {
			qr, err = h.Client.Connect(ctx, instance)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to fetch QR code")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to connect WhatsApp instance"})
		return
	}

	if err := h.Store.SetInstance(ctx, tenant.ID, instance, models.WAConnecting); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instance":     instance,
		"status":       models.WAConnecting,
		"qrcode":       qr.Base64,
		"pairing_code": qr.PairingCode,
	})
}

// Status asks the gateway for the live state and stores it
func (h *WhatsAppHandler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := currentTenant(c)
	if tenant.WAInstanceID == "" {
		c.JSON(http.StatusOK, gin.H{"status": models.WADisconnected})
		return
	}

	state, err := h.Client.ConnectionState(ctx, tenant.WAInstanceID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("Failed to query connection state")
		c.JSON(http.StatusOK, gin.H{"status": tenant.WAStatus, "stale": true})
		return
	}

	status := models.WADisconnected
	switch state {
	case "open":
		status = models.WAConnected
	case "connecting":
		status = models.WAConnecting
	}
	if status != tenant.WAStatus {
		if err := h.Store.ConnectionState(ctx, tenant.ID, status, "", "", time.Now()); err != nil {
			respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"phone":        tenant.WAPhoneNumber,
		"profile_name": tenant.WAProfileName,
	})
}

// Disconnect logs the instance out of WhatsApp
func (h *WhatsAppHandler) Disconnect(c *gin.Context) {
	ctx := c.Request.Context()
	tenant := currentTenant(c)
	if tenant.WAInstanceID != "" {
		if err := h.Client.Logout(ctx, tenant.WAInstanceID); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("Gateway logout failed")
		}
	}
	if err := h.Store.ConnectionState(ctx, tenant.ID, models.WADisconnected, "", "", time.Now()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.WADisconnected})
}
