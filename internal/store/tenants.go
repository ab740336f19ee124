package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"zapflow/internal/models"
)

func (s *Store) CreateTenant(ctx context.Context, t *models.Tenant) error {
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant
	if err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s *Store) TenantByInstance(ctx context.Context, instance string) (*models.Tenant, error) {
	var t models.Tenant
	if err := s.db.WithContext(ctx).First(&t, "wa_instance_id = ?", instance).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// IncrementUsage atomically adds n to the tenant's monthly sent counter.
func (s *Store) IncrementUsage(ctx context.Context, tenantID string, n int) error {
	return incrementUsage(s.db.WithContext(ctx), tenantID, n)
}

func incrementUsage(tx *gorm.DB, tenantID string, n int) error {
	return tx.Model(&models.Tenant{}).
		Where("id = ?", tenantID).
		UpdateColumn("messages_sent_month", gorm.Expr("messages_sent_month + ?", n)).Error
}

// Usage re-reads the counters used by the quota check.
func (s *Store) Usage(ctx context.Context, tenantID string) (sent, limit int, err error) {
	var t models.Tenant
	err = s.db.WithContext(ctx).
		Select("messages_sent_month", "messages_limit_month").
		First(&t, "id = ?", tenantID).Error
	if err != nil {
		return 0, 0, notFound(err)
	}
	return t.MessagesSentMonth, t.MessagesLimitMonth, nil
}

// ResetMonthlyUsage zeroes the counter of every tenant not yet reset since
// monthStart. Running it again within the same month is a no-op.
func (s *Store) ResetMonthlyUsage(ctx context.Context, monthStart time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("usage_reset_at IS NULL OR usage_reset_at < ?", monthStart).
		UpdateColumns(map[string]interface{}{
			"messages_sent_month": 0,
			"usage_reset_at":      monthStart,
		})
	return res.RowsAffected, res.Error
}

func (s *Store) SetInstance(ctx context.Context, tenantID, instance, status string) error {
	return s.db.WithContext(ctx).Model(&models.Tenant{}).
		Where("id = ?", tenantID).
		Updates(map[string]interface{}{"wa_instance_id": instance, "wa_status": status}).Error
}

// ConnectionState records a gateway connection change. Phone and profile are
// only overwritten when present.
func (s *Store) ConnectionState(ctx context.Context, tenantID, status, phone, profile string, at time.Time) error {
	updates := map[string]interface{}{"wa_status": status}
	switch status {
	case models.WAConnected:
		updates["wa_connected_at"] = at
	case models.WADisconnected:
		updates["wa_disconnected_at"] = at
	}
	if phone != "" {
		updates["wa_phone_number"] = phone
	}
	if profile != "" {
		updates["wa_profile_name"] = profile
	}
	return s.db.WithContext(ctx).Model(&models.Tenant{}).Where("id = ?", tenantID).Updates(updates).Error
}
