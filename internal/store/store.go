// Package store is the GORM-backed repository for tenants, contacts,
// campaigns, automations, bot sessions and message logs.
package store

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrNotClaimed is returned when a conditional transition lost to a
	// concurrent writer or the row already left the expected state.
	ErrNotClaimed = errors.New("row not in expected state")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
