package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"zapflow/internal/models"
)

// deliveryPredecessors lists which statuses may advance to a delivery status,
// so a late DELIVERY_ACK never downgrades a read message.
var deliveryPredecessors = map[string][]string{
	models.DeliveryDelivered: {models.DeliverySent},
	models.DeliveryRead:      {models.DeliverySent, models.DeliveryDelivered},
}

// ApplyDelivery advances the campaign contact and message log matching the
// gateway message id. It returns the number of rows changed.
func (s *Store) ApplyDelivery(ctx context.Context, waMessageID, status string, at time.Time) (int64, error) {
	from, ok := deliveryPredecessors[status]
	if !ok || waMessageID == "" {
		return 0, nil
	}

	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ccUpdates := map[string]interface{}{"status": status}
		if status == models.DeliveryDelivered {
			ccUpdates["delivered_at"] = at
		} else {
			ccUpdates["read_at"] = at
		}
		res := tx.Model(&models.CampaignContact{}).
			Where("wa_message_id = ? AND status IN ?", waMessageID, from).
			Updates(ccUpdates)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected

		res = tx.Model(&models.MessageLog{}).
			Where("wa_message_id = ? AND status IN ?", waMessageID, from).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected
		return nil
	})
	return changed, err
}

// LogStatusCounts groups a campaign's message logs by status.
func (s *Store) LogStatusCounts(ctx context.Context, campaignID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.MessageLog{}).
		Select("status, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
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

func (s *Store) CampaignLogs(ctx context.Context, campaignID string, limit int) ([]models.MessageLog, error) {
	var out []models.MessageLog
	q := s.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
