package store

import (
	"context"
	"time"

	"channelkeys/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type KeyRequestStore struct{ db *gorm.DB }

func (s *Store) KeyRequests() *KeyRequestStore { return &KeyRequestStore{db: s.DB} }

// CreateIfAbsent inserts req unless a request for the same channel and
// requester exists. It returns whichever row is stored and whether it was
// created by this call.
func (k *KeyRequestStore) CreateIfAbsent(ctx context.Context, req *domain.KeyRequest) (*domain.KeyRequest, bool, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = domain.KeyRequestPending
	}
	res := k.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}, {Name: "requester_identity"}},
		DoNothing: true,
	}).Create(req)
	if res.Error != nil {
		return nil, false, translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return req, true, nil
	}
	existing, err := k.GetByPair(ctx, req.ChannelID, req.RequesterIdentity)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (k *KeyRequestStore) Get(ctx context.Context, id uuid.UUID) (*domain.KeyRequest, error) {
	var req domain.KeyRequest
	if err := k.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (k *KeyRequestStore) GetByPair(ctx context.Context, channelID, requester string) (*domain.KeyRequest, error) {
	var req domain.KeyRequest
	err := k.db.WithContext(ctx).
		Where("channel_id = ? AND requester_identity = ?", channelID, requester).
		First(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

func (k *KeyRequestStore) ListPending(ctx context.Context, channelID string) ([]domain.KeyRequest, error) {
	var out []domain.KeyRequest
	err := k.db.WithContext(ctx).
		Where("channel_id = ? AND status = ?", channelID, domain.KeyRequestPending).
		Order("created_at ASC").
		Find(&out).Error
	return out, translate(err)
}

// Transition moves a pending request to a terminal status. It reports false
// when the request was no longer pending.
func (k *KeyRequestStore) Transition(ctx context.Context, id uuid.UUID, to domain.KeyRequestStatus, by *string, at time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if to == domain.KeyRequestFulfilled {
		updates["fulfilled_by"] = by
		updates["fulfilled_at"] = at
	}
	res := k.db.WithContext(ctx).Model(&domain.KeyRequest{}).
		Where("id = ? AND status = ?", id, domain.KeyRequestPending).
		Updates(updates)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Reopen moves a fulfilled request back to pending and clears who fulfilled
// it. It reports false when the request was not fulfilled.
func (k *KeyRequestStore) Reopen(ctx context.Context, id uuid.UUID) (bool, error) {
	res := k.db.WithContext(ctx).Model(&domain.KeyRequest{}).
		Where("id = ? AND status = ?", id, domain.KeyRequestFulfilled).
		Updates(map[string]any{"status": domain.KeyRequestPending, "fulfilled_by": nil, "fulfilled_at": nil})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteTerminalFor clears settled requests so the identity may ask again.
func (k *KeyRequestStore) DeleteTerminalFor(ctx context.Context, channelID, identity string) (int64, error) {
	res := k.db.WithContext(ctx).
		Where("channel_id = ? AND requester_identity = ? AND status <> ?", channelID, identity, domain.KeyRequestPending).
		Delete(&domain.KeyRequest{})
	return res.RowsAffected, translate(res.Error)
}
