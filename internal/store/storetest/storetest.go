// Package storetest builds throwaway SQLite-backed stores for tests.
package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"zapflow/internal/database"
	"zapflow/internal/models"
	"zapflow/internal/store"
)

// New opens a private in-memory database with the full schema.
func New(t testing.TB) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps the in-memory database alive and private
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return store.New(db)
}

// Tenant inserts an active, connected tenant.
func Tenant(t testing.TB, s *store.Store, mutate ...func(*models.Tenant)) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{
		Name:               "Acme",
		Email:              "acme-" + time.Now().Format("150405.000000000") + "@example.com",
		Plan:               "pro",
		Status:             models.TenantActive,
		MessagesLimitMonth: 10000,
		ContactsLimit:      10000,
		MinDelaySeconds:    10,
		WAInstanceID:       "zf_acme",
		WAStatus:           models.WAConnected,
	}
	for _, m := range mutate {
		m(tenant)
	}
	require.NoError(t, s.DB().Create(tenant).Error)
	return tenant
}

// Contacts inserts n active contacts with sequential phones.
func Contacts(t testing.TB, s *store.Store, tenantID string, n int, mutate ...func(int, *models.Contact)) []models.Contact {
	t.Helper()
	out := make([]models.Contact, n)
	for i := range out {
		c := models.Contact{
			TenantID: tenantID,
			Name:     "Contact",
			Phone:    phone(i),
			Active:   true,
		}
		for _, m := range mutate {
			m(i, &c)
		}
		require.NoError(t, s.DB().Create(&c).Error)
		out[i] = c
	}
	return out
}

func phone(i int) string {
	digits := []byte("5511900000000")
	for p, v := len(digits)-1, i; v > 0 && p >= 0; p, v = p-1, v/10 {
		digits[p] = byte('0' + v%10)
	}
	return string(digits)
}
