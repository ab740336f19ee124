package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zapflow/internal/models"
)

// CreateCampaigns inserts each campaign together with its contact queue
// snapshot in a single transaction.
func (s *Store) CreateCampaigns(ctx context.Context, campaigns []*models.Campaign, contacts []models.Contact, queuedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, c := range campaigns {
			c.ContactsTotal = len(contacts)
			c.ContactsPending = len(contacts)
			c.ContactsSent = 0
			c.ContactsFailed = 0
			if err := tx.Create(c).Error; err != nil {
				return err
			}
			if len(contacts) == 0 {
				continue
			}
			rows := make([]models.CampaignContact, len(contacts))
			for i, ct := range contacts {
				rows[i] = models.CampaignContact{
					CampaignID: c.ID,
					TenantID:   c.TenantID,
					ContactID:  ct.ID,
					Position:   i,
					Status:     models.DeliveryQueued,
					QueuedAt:   queuedAt,
				}
			}
			if err := tx.Omit(clause.Associations).CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) GetTenantCampaign(ctx context.Context, tenantID, id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.WithContext(ctx).First(&c, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, tenantID, status string) ([]models.Campaign, error) {
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Campaign
	err := q.Order("created_at DESC").Find(&out).Error
	return out, err
}

// CampaignsBetween returns campaigns scheduled (or created, when unscheduled)
// inside [from, to).
func (s *Store) CampaignsBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.Campaign, error) {
	var out []models.Campaign
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("(scheduled_at >= ? AND scheduled_at < ?) OR (scheduled_at IS NULL AND created_at >= ? AND created_at < ?)", from, to, from, to).
		Order("scheduled_at ASC").
		Find(&out).Error
	return out, err
}

// DueCampaigns lists scheduled campaigns whose time has come.
func (s *Store) DueCampaigns(ctx context.Context, now time.Time, limit int) ([]models.Campaign, error) {
	var out []models.Campaign
	q := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.CampaignScheduled, now).
		Order("scheduled_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (s *Store) CampaignStatus(ctx context.Context, id string) (string, error) {
	var c models.Campaign
	if err := s.db.WithContext(ctx).Select("status").First(&c, "id = ?", id).Error; err != nil {
		return "", notFound(err)
	}
	return c.Status, nil
}

func (s *Store) SetCampaignStatus(ctx context.Context, id, status string) error {
	return s.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).Update("status", status).Error
}

// TransitionCampaign moves the campaign to status only if it is currently in
// one of from. Any dispatcher pause reason is cleared. Returns ErrNotClaimed
// when no row matched.
func (s *Store) TransitionCampaign(ctx context.Context, id, status string, from ...string) error {
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{"status": status, "pause_reason": ""})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// PauseCampaign pauses a live campaign and records why. Campaigns already
// done or cancelled are left alone and ErrNotClaimed is returned.
func (s *Store) PauseCampaign(ctx context.Context, id, reason string) error {
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, []string{models.CampaignScheduled, models.CampaignRunning, models.CampaignPaused}).
		Updates(map[string]interface{}{"status": models.CampaignPaused, "pause_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *Store) SetQueueJobID(ctx context.Context, id, jobID string) error {
	return s.db.WithContext(ctx).Model(&models.Campaign{}).Where("id = ?", id).Update("queue_job_id", jobID).Error
}

// MarkCampaignRunning sets running and keeps the first start time. Only
// scheduled, running or window-paused campaigns move; anything else returns
// ErrNotClaimed.
func (s *Store) MarkCampaignRunning(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Where("(status IN ? OR (status = ? AND pause_reason = ?))",
			[]string{models.CampaignScheduled, models.CampaignRunning}, models.CampaignPaused, models.PauseWindow).
		Updates(map[string]interface{}{
			"status":       models.CampaignRunning,
			"pause_reason": "",
			"started_at":   gorm.Expr("COALESCE(started_at, ?)", at),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// MarkCampaignDone never overrides a cancellation.
func (s *Store) MarkCampaignDone(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status <> ?", id, models.CampaignCancelled).
		Updates(map[string]interface{}{"status": models.CampaignDone, "finished_at": at}).Error
}

// QueuedContacts returns the contacts still waiting, in snapshot order.
func (s *Store) QueuedContacts(ctx context.Context, campaignID string) ([]models.CampaignContact, error) {
	var out []models.CampaignContact
	err := s.db.WithContext(ctx).
		Preload("Contact").
		Where("campaign_id = ? AND status = ?", campaignID, models.DeliveryQueued).
		Order("position ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) CountQueued(ctx context.Context, campaignID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.CampaignContact{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.DeliveryQueued).
		Count(&n).Error
	return n, err
}

// ClaimContact moves a queued contact to sending. A second worker racing on
// the same row gets ErrNotClaimed.
func (s *Store) ClaimContact(ctx context.Context, ccID uint) error {
	res := s.db.WithContext(ctx).Model(&models.CampaignContact{}).
		Where("id = ? AND status = ?", ccID, models.DeliveryQueued).
		Update("status", models.DeliverySending)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// ContactSent records a successful send: contact row, campaign counters,
// message log and tenant usage change together.
func (s *Store) ContactSent(ctx context.Context, cc *models.CampaignContact, waMessageID string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CampaignContact{}).
			Where("id = ? AND status IN ?", cc.ID, []string{models.DeliveryQueued, models.DeliverySending}).
			Updates(map[string]interface{}{
				"status":        models.DeliverySent,
				"wa_message_id": waMessageID,
				"sent_at":       at,
				"attempts":      gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotClaimed
		}
		if err := bumpCounters(tx, cc.CampaignID, "contacts_sent"); err != nil {
			return err
		}
		if err := tx.Create(&models.MessageLog{
			TenantID:    cc.TenantID,
			CampaignID:  cc.CampaignID,
			ContactID:   cc.ContactID,
			Phone:       cc.Contact.Phone,
			Status:      models.DeliverySent,
			WAMessageID: waMessageID,
		}).Error; err != nil {
			return err
		}
		return incrementUsage(tx, cc.TenantID, 1)
	})
}

// ContactFailed records a terminal failure. logged controls whether a
// MessageLog row is appended, which only happens for real send attempts.
func (s *Store) ContactFailed(ctx context.Context, cc *models.CampaignContact, reason string, at time.Time, logged bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":        models.DeliveryFailed,
			"error_message": reason,
			"failed_at":     at,
		}
		if logged {
			updates["attempts"] = gorm.Expr("attempts + 1")
		}
		res := tx.Model(&models.CampaignContact{}).
			Where("id = ? AND status IN ?", cc.ID, []string{models.DeliveryQueued, models.DeliverySending}).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotClaimed
		}
		if err := bumpCounters(tx, cc.CampaignID, "contacts_failed"); err != nil {
			return err
		}
		if !logged {
			return nil
		}
		return tx.Create(&models.MessageLog{
			TenantID:     cc.TenantID,
			CampaignID:   cc.CampaignID,
			ContactID:    cc.ContactID,
			Phone:        cc.Contact.Phone,
			Status:       models.DeliveryFailed,
			ErrorMessage: reason,
		}).Error
	})
}

// ReleaseContact returns a contact stuck in sending to the queue, used when a
// job is interrupted between claim and send.
func (s *Store) ReleaseContact(ctx context.Context, ccID uint) error {
	return s.db.WithContext(ctx).Model(&models.CampaignContact{}).
		Where("id = ? AND status = ?", ccID, models.DeliverySending).
		Update("status", models.DeliveryQueued).Error
}

// RequeueStale puts contacts left in sending by a crashed run back in the
// queue. Callers must hold the campaign lock.
func (s *Store) RequeueStale(ctx context.Context, campaignID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.CampaignContact{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.DeliverySending).
		Update("status", models.DeliveryQueued)
	return res.RowsAffected, res.Error
}

func bumpCounters(tx *gorm.DB, campaignID, column string) error {
	return tx.Model(&models.Campaign{}).Where("id = ?", campaignID).
		UpdateColumns(map[string]interface{}{
			column:             gorm.Expr(column + " + 1"),
			"contacts_pending": gorm.Expr("contacts_pending - 1"),
		}).Error
}

// CampaignCounts groups a tenant's campaigns by status.
func (s *Store) CampaignCounts(ctx context.Context, tenantID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Campaign{}).
		Select("status, COUNT(*) AS count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
