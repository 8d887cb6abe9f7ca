package store

import (
	"context"
	"errors"

	"channelkeys/internal/domain"

	"gorm.io/gorm"
)

// ErrInvalidMessage rejects a row that breaks the encrypted/key_version
// pairing.
var ErrInvalidMessage = errors.New("invalid message")

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

// Append inserts a message. A plaintext message never carries a key version.
func (m *MessageStore) Append(ctx context.Context, msg *domain.Message) error {
	if !msg.Encrypted && msg.KeyVersion != nil {
		return ErrInvalidMessage
	}
	if msg.KeyVersion != nil && *msg.KeyVersion <= 0 {
		return ErrInvalidMessage
	}
	return translate(m.db.WithContext(ctx).Create(msg).Error)
}

func (m *MessageStore) Get(ctx context.Context, id uint64) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (m *MessageStore) publicPlaintext(ctx context.Context) *gorm.DB {
	db := m.db.WithContext(ctx)
	public := db.Model(&domain.Channel{}).Select("id").Where("public = ? AND personal = ?", true, false)
	return db.Model(&domain.Message{}).Where("encrypted = ? AND channel_id IN (?)", false, public)
}

// NextUnencryptedPublic returns up to limit plaintext messages of public,
// non-personal channels with an id above cursor, ascending.
func (m *MessageStore) NextUnencryptedPublic(ctx context.Context, limit int, cursor uint64) ([]domain.Message, error) {
	var out []domain.Message
	err := m.publicPlaintext(ctx).
		Where("id > ?", cursor).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, translate(err)
}

func (m *MessageStore) CountUnencryptedPublic(ctx context.Context) (int64, error) {
	var n int64
	err := m.publicPlaintext(ctx).Count(&n).Error
	return n, translate(err)
}

// ApplyEncrypted replaces the plaintext body of a public, non-personal
// channel's message with its ciphertext. It reports false when the row is
// gone, already encrypted or outside those channels.
func (m *MessageStore) ApplyEncrypted(ctx context.Context, id uint64, body []byte, keyVersion *int) (bool, error) {
	res := m.publicPlaintext(ctx).
		Where("id = ?", id).
		Updates(map[string]any{"body": body, "encrypted": true, "key_version": keyVersion})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}
