package store

import (
	"context"

	"gorm.io/gorm"

	"zapflow/internal/models"
)

func orderedNodes(db *gorm.DB) *gorm.DB {
	return db.Order("order_index ASC")
}

// ActiveAutomations returns a tenant's active automations in creation order
// with their nodes sorted by order index.
func (s *Store) ActiveAutomations(ctx context.Context, tenantID string) ([]models.Automation, error) {
	var out []models.Automation
	err := s.db.WithContext(ctx).
		Preload("Nodes", orderedNodes).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) ListAutomations(ctx context.Context, tenantID string) ([]models.Automation, error) {
	var out []models.Automation
	err := s.db.WithContext(ctx).
		Preload("Nodes", orderedNodes).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// EachAutomation walks every tenant's automations in batches with nodes loaded.
func (s *Store) EachAutomation(ctx context.Context, batch int, fn func(*models.Automation) error) error {
	var rows []models.Automation
	return s.db.WithContext(ctx).
		Preload("Nodes", orderedNodes).
		FindInBatches(&rows, batch, func(tx *gorm.DB, _ int) error {
			for i := range rows {
				if err := fn(&rows[i]); err != nil {
					return err
				}
			}
			return nil
		}).Error
}

func (s *Store) GetAutomation(ctx context.Context, tenantID, id string) (*models.Automation, error) {
	var a models.Automation
	err := s.db.WithContext(ctx).
		Preload("Nodes", orderedNodes).
		First(&a, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) CreateAutomation(ctx context.Context, a *models.Automation) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// ReplaceAutomation saves the automation fields and swaps the whole node list.
// Sessions pointing at it are dropped since their indices may no longer exist.
func (s *Store) ReplaceAutomation(ctx context.Context, a *models.Automation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Automation{}).Where("id = ?", a.ID).Updates(map[string]interface{}{
			"name":             a.Name,
			"trigger_type":     a.TriggerType,
			"trigger_keywords": a.TriggerKeywords,
			"active":           a.Active,
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("automation_id = ?", a.ID).Delete(&models.AutomationNode{}).Error; err != nil {
			return err
		}
		for i := range a.Nodes {
			a.Nodes[i].ID = ""
			a.Nodes[i].AutomationID = a.ID
		}
		if len(a.Nodes) > 0 {
			if err := tx.Create(&a.Nodes).Error; err != nil {
				return err
			}
		}
		return tx.Where("automation_id = ?", a.ID).Delete(&models.BotSession{}).Error
	})
}

func (s *Store) SetAutomationActive(ctx context.Context, tenantID, id string, active bool) error {
	res := s.db.WithContext(ctx).Model(&models.Automation{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAutomation(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.Automation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("automation_id = ?", id).Delete(&models.AutomationNode{}).Error; err != nil {
			return err
		}
		return tx.Where("automation_id = ?", id).Delete(&models.BotSession{}).Error
	})
}
