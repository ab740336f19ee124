package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"zapflow/internal/models"
	"zapflow/internal/phone"
	"zapflow/internal/store"
	pkgmodels "zapflow/pkg/models"
)

type ContactStore interface {
	ListContacts(ctx context.Context, tenantID string) ([]models.Contact, error)
	GetContact(ctx context.Context, tenantID, id string) (*models.Contact, error)
	ContactByPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error)
	CreateContact(ctx context.Context, c *models.Contact) error
	SaveContact(ctx context.Context, c *models.Contact) error
	DeleteContact(ctx context.Context, tenantID, id string) error
	CountContacts(ctx context.Context, tenantID string) (int64, error)
}

type ContactHandler struct {
	Store ContactStore
}

func NewContactHandler(store ContactStore) *ContactHandler {
	return &ContactHandler{Store: store}
}

func (h *ContactHandler) GetContacts(c *gin.Context) {
	contacts, err := h.Store.ListContacts(c.Request.Context(), currentTenant(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}

	tag := c.Query("tag")
	out := make([]models.Contact, 0, len(contacts))
	for _, ct := range contacts {
		if tag == "" || hasTag(ct.Tags, tag) {
			out = append(out, ct)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req pkgmodels.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := currentTenant(c)
	if err := h.checkLimit(ctx, tenant, 1); err != nil {
		respondError(c, err)
		return
	}

	contact, err := h.create(ctx, tenant.ID, req, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) create(ctx context.Context, tenantID string, req pkgmodels.ContactRequest, extraTags []string) (*models.Contact, error) {
	number := phone.Normalize(req.Phone)
	if number == "" {
		return nil, errInvalidPhone
	}
	if _, err := h.Store.ContactByPhone(ctx, tenantID, number); err == nil {
		return nil, errDuplicate
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	contact := &models.Contact{
		TenantID:  tenantID,
		Name:      strings.TrimSpace(req.Name),
		Phone:     number,
		Tags:      mergeTags(req.Tags, extraTags),
		Variables: req.Variables,
		Active:    true,
	}
	if req.Active != nil {
		contact.Active = *req.Active
	}
	if req.OptedOut != nil {
		contact.OptedOut = *req.OptedOut
	}
	if err := h.Store.CreateContact(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

// UpdateContact applies the request over the stored contact
func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var req pkgmodels.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := currentTenant(c)
	contact, err := h.Store.GetContact(ctx, tenant.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	number := phone.Normalize(req.Phone)
	if number == "" {
		respondError(c, errInvalidPhone)
		return
	}
	if number != contact.Phone {
		if _, err := h.Store.ContactByPhone(ctx, tenant.ID, number); err == nil {
			respondError(c, errDuplicate)
			return
		}
	}

	contact.Phone = number
	contact.Name = strings.TrimSpace(req.Name)
	if req.Tags != nil {
		contact.Tags = mergeTags(req.Tags, nil)
	}
	if req.Variables != nil {
		contact.Variables = req.Variables
	}
	if req.Active != nil {
		contact.Active = *req.Active
	}
	if req.OptedOut != nil {
		contact.OptedOut = *req.OptedOut
	}
	if err := h.Store.SaveContact(ctx, contact); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) DeleteContact(c *gin.Context) {
	if err := h.Store.DeleteContact(c.Request.Context(), currentTenant(c).ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Contact deleted"})
}

// ImportContacts creates many contacts at once. Invalid and duplicate phones
// are skipped and reported back.
func (h *ContactHandler) ImportContacts(c *gin.Context) {
	var req pkgmodels.BulkContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := currentTenant(c)
	if err := h.checkLimit(ctx, tenant, len(req.Contacts)); err != nil {
		respondError(c, err)
		return
	}

	var created, invalid, duplicates int
	for _, item := range req.Contacts {
		_, err := h.create(ctx, tenant.ID, item, req.Tags)
		switch {
		case err == nil:
			created++
		case errors.Is(err, errInvalidPhone):
			invalid++
		case errors.Is(err, errDuplicate):
			duplicates++
		default:
			respondError(c, err)
			return
		}
	}

	log.Info().Str("tenant_id", tenant.ID).Int("created", created).Int("invalid", invalid).
		Int("duplicates", duplicates).Msg("Contacts imported")
	c.JSON(http.StatusOK, gin.H{"created": created, "invalid": invalid, "duplicates": duplicates})
}

func (h *ContactHandler) checkLimit(ctx context.Context, tenant *models.Tenant, adding int) error {
	if tenant.ContactsLimit <= 0 {
		return nil
	}
	n, err := h.Store.CountContacts(ctx, tenant.ID)
	if err != nil {
		return err
	}
	if int(n)+adding > tenant.ContactsLimit {
		return errContactsLimit
	}
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func mergeTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := []string{}
	for _, t := range append(append([]string{}, a...), b...) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
