package store

import (
	"context"
	"errors"

	"channelkeys/internal/domain"

	"gorm.io/gorm"
)

type MigrationStore struct{ db *gorm.DB }

func (s *Store) Migrations() *MigrationStore { return &MigrationStore{db: s.DB} }

// Get returns the named migration's state, or a zero state when it has never
// run.
func (m *MigrationStore) Get(ctx context.Context, name string) (*domain.MigrationState, error) {
	var st domain.MigrationState
	err := m.db.WithContext(ctx).Where("name = ?", name).First(&st).Error
	if err != nil {
		if err = translate(err); errors.Is(err, ErrRecordNotFound) {
			return &domain.MigrationState{Name: name}, nil
		}
		return nil, err
	}
	return &st, nil
}

func (m *MigrationStore) Save(ctx context.Context, st *domain.MigrationState) error {
	return translate(m.db.WithContext(ctx).Save(st).Error)
}
