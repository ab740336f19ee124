package store

import (
	"context"

	"gorm.io/gorm/clause"

	"zapflow/internal/models"
)

func (s *Store) GetSession(ctx context.Context, tenantID, phone string) (*models.BotSession, error) {
	var sess models.BotSession
	err := s.db.WithContext(ctx).First(&sess, "tenant_id = ? AND phone = ?", tenantID, phone).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sess, nil
}

// UpsertSession keeps at most one session per (tenant, phone).
func (s *Store) UpsertSession(ctx context.Context, sess *models.BotSession) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"automation_id", "current_node_index", "updated_at"}),
	}).Create(sess).Error
}

func (s *Store) DeleteSession(ctx context.Context, tenantID, phone string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		Delete(&models.BotSession{}).Error
}
