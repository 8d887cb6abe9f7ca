package store

import (
	"context"
	"time"

	"channelkeys/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InviteStore struct{ db *gorm.DB }

func (s *Store) Invites() *InviteStore { return &InviteStore{db: s.DB} }

func (i *InviteStore) Create(ctx context.Context, inv *domain.InviteCode) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	return translate(i.db.WithContext(ctx).Create(inv).Error)
}

func (i *InviteStore) GetByHash(ctx context.Context, codeHash string) (*domain.InviteCode, error) {
	var inv domain.InviteCode
	if err := i.db.WithContext(ctx).Where("code_hash = ?", codeHash).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (i *InviteStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.InviteCode, error) {
	var inv domain.InviteCode
	if err := i.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (i *InviteStore) ListByIssuer(ctx context.Context, issuer string) ([]domain.InviteCode, error) {
	var out []domain.InviteCode
	err := i.db.WithContext(ctx).
		Where("issuer_identity = ?", issuer).
		Order("created_at DESC").
		Find(&out).Error
	return out, translate(err)
}

func (i *InviteStore) HasRedemption(ctx context.Context, inviteID uuid.UUID, redeemer string) (bool, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&domain.InviteRedemption{}).
		Where("invite_id = ? AND redeemer_identity = ?", inviteID, redeemer).
		Count(&n).Error
	return n > 0, translate(err)
}

// HasRedemptionByHash reports whether the identity redeemed the invite whose
// code hashes to codeHash.
func (i *InviteStore) HasRedemptionByHash(ctx context.Context, codeHash, redeemer string) (bool, error) {
	var n int64
	err := i.db.WithContext(ctx).Model(&domain.InviteRedemption{}).
		Joins("JOIN invite_codes ON invite_codes.id = invite_redemptions.invite_id").
		Where("invite_codes.code_hash = ? AND invite_redemptions.redeemer_identity = ?", codeHash, redeemer).
		Count(&n).Error
	return n > 0, translate(err)
}

// RecordRedemption inserts the redemption row. It reports false when the
// identity had already redeemed this invite.
func (i *InviteStore) RecordRedemption(ctx context.Context, inviteID uuid.UUID, redeemer string, at time.Time) (bool, error) {
	row := domain.InviteRedemption{InviteID: inviteID, RedeemerIdentity: redeemer, RedeemedAt: at}
	res := i.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IncrementRedeemed bumps the redemption count unless a single-use invite
// was already consumed. It reports whether the count moved.
func (i *InviteStore) IncrementRedeemed(ctx context.Context, id uuid.UUID) (bool, error) {
	res := i.db.WithContext(ctx).Model(&domain.InviteCode{}).
		Where("id = ? AND (single_use = ? OR redeemed_count = 0)", id, false).
		UpdateColumn("redeemed_count", gorm.Expr("redeemed_count + 1"))
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (i *InviteStore) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	db := i.db.WithContext(ctx)
	if err := db.Where("invite_id = ?", id).Delete(&domain.InviteRedemption{}).Error; err != nil {
		return false, translate(err)
	}
	res := db.Where("id = ?", id).Delete(&domain.InviteCode{})
	return res.RowsAffected > 0, translate(res.Error)
}
