package store

import (
	"context"

	"channelkeys/internal/domain"

	"gorm.io/gorm"
)

type EscrowStore struct{ db *gorm.DB }

func (s *Store) Escrow() *EscrowStore { return &EscrowStore{db: s.DB} }

func (e *EscrowStore) Get(ctx context.Context) (*domain.TeamKeyEscrow, error) {
	var row domain.TeamKeyEscrow
	if err := e.db.WithContext(ctx).Where("id = ?", domain.TeamKeyEscrowSingleton).First(&row).Error; err != nil {
		return nil, translate(err)
	}
	return &row, nil
}

// Init records the team key escrow. It fails with ErrDuplicate once a row
// exists.
func (e *EscrowStore) Init(ctx context.Context, row domain.TeamKeyEscrow) error {
	row.ID = domain.TeamKeyEscrowSingleton
	return translate(e.db.WithContext(ctx).Create(&row).Error)
}
