package store

import (
	"context"

	"zapflow/internal/models"
)

func (s *Store) CreateContact(ctx context.Context, c *models.Contact) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Store) ListContacts(ctx context.Context, tenantID string) ([]models.Contact, error) {
	var out []models.Contact
	err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&out).Error
	return out, err
}

func (s *Store) GetContact(ctx context.Context, tenantID, id string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.WithContext(ctx).First(&c, "id = ? AND tenant_id = ?", id, tenantID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (s *Store) SaveContact(ctx context.Context, c *models.Contact) error {
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *Store) DeleteContact(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).Delete(&models.Contact{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountContacts(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Contact{}).Where("tenant_id = ?", tenantID).Count(&n).Error
	return n, err
}

// TargetContacts returns the active, non opted-out contacts of a tenant. When
// tags is non-empty only contacts sharing at least one tag are kept. Tag
// matching runs in Go so the query stays portable across drivers.
func (s *Store) TargetContacts(ctx context.Context, tenantID string, tags []string) ([]models.Contact, error) {
	var all []models.Contact
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ? AND opted_out = ?", tenantID, true, false).
		Order("created_at ASC, id ASC").
		Find(&all).Error
	if err != nil || len(tags) == 0 {
		return all, err
	}

	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	out := all[:0]
	for _, c := range all {
		for _, t := range c.Tags {
			if want[t] {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ContactByPhone(ctx context.Context, tenantID, phone string) (*models.Contact, error) {
	var c models.Contact
	if err := s.db.WithContext(ctx).First(&c, "tenant_id = ? AND phone = ?", tenantID, phone).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}
