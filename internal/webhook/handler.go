// Package webhook ingests gateway events: connection changes, delivery
// receipts and inbound messages for the automation bot.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"zapflow/internal/automation"
	"zapflow/internal/metrics"
	"zapflow/internal/models"
	"zapflow/internal/phone"
	"zapflow/internal/store"
	pkgmodels "zapflow/pkg/models"
)

type Repository interface {
	TenantByInstance(ctx context.Context, instance string) (*models.Tenant, error)
	ConnectionState(ctx context.Context, tenantID, status, phone, profile string, at time.Time) error
	ApplyDelivery(ctx context.Context, waMessageID, status string, at time.Time) (int64, error)
}

// Bot handles one inbound conversation message.
type Bot interface {
	HandleInbound(ctx context.Context, in automation.Inbound) error
}

// Submitter serializes work per conversation key.
type Submitter interface {
	Submit(key string, fn func())
}

// ConnectionNotifier is told when a tenant's WhatsApp status changes.
type ConnectionNotifier interface {
	ConnectionChanged(tenantID, status string)
}

type Handler struct {
	repo     Repository
	bot      Bot
	queue    Submitter
	notifier ConnectionNotifier
	// base outlives the request; bot work keeps running after the 200
	base context.Context
	now  func() time.Time
}

func NewHandler(base context.Context, repo Repository, bot Bot, queue Submitter) *Handler {
	return &Handler{repo: repo, bot: bot, queue: queue, base: base, now: time.Now}
}

func (h *Handler) WithNotifier(n ConnectionNotifier) *Handler {
	h.notifier = n
	return h
}

// deliveryStatus maps gateway receipt codes to our delivery statuses.
var deliveryStatus = map[string]string{
	"DELIVERY_ACK": models.DeliveryDelivered,
	"READ":         models.DeliveryRead,
	"PLAYED":       models.DeliveryRead,
}

// HandleEvent is the single POST entry point for gateway webhooks. Events the
// gateway retries on non-2xx are acknowledged even when processing fails.
func (h *Handler) HandleEvent(c *gin.Context) {
	var payload pkgmodels.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Warn().Err(err).Msg("Invalid webhook payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	event := strings.ToLower(strings.ReplaceAll(payload.Event, "_", "."))
	metrics.WebhookEvents.WithLabelValues(event).Inc()

	ctx := c.Request.Context()
	tenant, err := h.repo.TenantByInstance(ctx, payload.Instance)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug().Str("instance", payload.Instance).Str("event", event).Msg("Webhook for unknown instance")
		} else {
			log.Error().Err(err).Str("instance", payload.Instance).Msg("Failed to resolve webhook tenant")
		}
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch event {
	case pkgmodels.EventConnectionUpdate:
		err = h.connectionUpdate(ctx, tenant, payload.Data)
	case pkgmodels.EventMessagesUpdate:
		err = h.messagesUpdate(ctx, payload.Data)
	case pkgmodels.EventMessagesUpsert:
		err = h.messagesUpsert(tenant, payload.Data)
	default:
		log.Debug().Str("event", payload.Event).Msg("Ignoring webhook event")
	}
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenant.ID).Str("event", event).Msg("Failed to process webhook")
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) connectionUpdate(ctx context.Context, tenant *models.Tenant, data []byte) error {
	var upd pkgmodels.ConnectionUpdate
	if err := bindData(data, &upd); err != nil {
		return err
	}

	status := models.WADisconnected
	var number, profile string
	switch upd.State {
	case "open":
		status = models.WAConnected
		wuid, name := upd.Identity()
		number, profile = phone.FromJID(wuid), name
	case "connecting":
		status = models.WAConnecting
	}

	if err := h.repo.ConnectionState(ctx, tenant.ID, status, number, profile, h.now()); err != nil {
		return err
	}
	log.Info().Str("tenant_id", tenant.ID).Str("state", upd.State).Str("status", status).Msg("WhatsApp connection updated")
	if h.notifier != nil {
		h.notifier.ConnectionChanged(tenant.ID, status)
	}
	return nil
}

func (h *Handler) messagesUpdate(ctx context.Context, data []byte) error {
	updates, err := pkgmodels.DecodeStatuses(data)
	if err != nil {
		return err
	}
	at := h.now()
	for _, u := range updates {
		status, ok := deliveryStatus[strings.ToUpper(u.Update.Status)]
		if !ok || u.Key.ID == "" {
			continue
		}
		n, err := h.repo.ApplyDelivery(ctx, u.Key.ID, status, at)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.MessagesTotal.WithLabelValues(status).Inc()
		}
	}
	return nil
}

func (h *Handler) messagesUpsert(tenant *models.Tenant, data []byte) error {
	messages, err := pkgmodels.DecodeInbound(data)
	if err != nil {
		return err
	}
	for _, m := range messages {
		if m.Key.FromMe || phone.IsGroupJID(m.Key.RemoteJid) {
			continue
		}
		text := strings.TrimSpace(m.Text())
		from := phone.FromJID(m.Key.RemoteJid)
		if text == "" || from == "" {
			continue
		}

		in := automation.Inbound{
			TenantID: tenant.ID,
			Instance: tenant.WAInstanceID,
			Phone:    from,
			Text:     text,
		}
		h.queue.Submit(automation.ConversationKey(tenant.ID, from), func() {
			if err := h.bot.HandleInbound(h.base, in); err != nil {
				log.Error().Err(err).Str("tenant_id", in.TenantID).Str("phone", in.Phone).Msg("Automation failed")
			}
		})
	}
	return nil
}

func bindData(data []byte, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty event data")
	}
	return json.Unmarshal(data, v)
}
