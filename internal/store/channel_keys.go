package store

import (
	"context"

	"channelkeys/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelKeyStore struct{ db *gorm.DB }

func (s *Store) ChannelKeys() *ChannelKeyStore { return &ChannelKeyStore{db: s.DB} }

// Get returns one recipient's copy of a channel key. A version <= 0 selects
// the latest version the recipient holds.
func (c *ChannelKeyStore) Get(ctx context.Context, recipient, channelID string, version int) (*domain.WrappedChannelKey, error) {
	var key domain.WrappedChannelKey
	q := c.db.WithContext(ctx).Where("recipient_identity = ? AND channel_id = ?", recipient, channelID)
	if version > 0 {
		q = q.Where("version = ?", version)
	} else {
		q = q.Order("version DESC")
	}
	if err := q.First(&key).Error; err != nil {
		return nil, translate(err)
	}
	return &key, nil
}

func (c *ChannelKeyStore) ListForRecipient(ctx context.Context, recipient, channelID string) ([]domain.WrappedChannelKey, error) {
	var keys []domain.WrappedChannelKey
	err := c.db.WithContext(ctx).
		Where("recipient_identity = ? AND channel_id = ?", recipient, channelID).
		Order("version ASC").
		Find(&keys).Error
	return keys, translate(err)
}

func (c *ChannelKeyStore) ListByChannel(ctx context.Context, channelID string) ([]domain.WrappedChannelKey, error) {
	var keys []domain.WrappedChannelKey
	err := c.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("recipient_identity ASC, version ASC").
		Find(&keys).Error
	return keys, translate(err)
}

// Recipients lists who holds the given version of a channel key.
func (c *ChannelKeyStore) Recipients(ctx context.Context, channelID string, version int) ([]string, error) {
	var out []string
	err := c.db.WithContext(ctx).Model(&domain.WrappedChannelKey{}).
		Where("channel_id = ? AND version = ?", channelID, version).
		Order("recipient_identity ASC").
		Pluck("recipient_identity", &out).Error
	return out, translate(err)
}

// ChannelsForRecipient lists the channels the recipient holds any key for.
func (c *ChannelKeyStore) ChannelsForRecipient(ctx context.Context, recipient string) ([]string, error) {
	var out []string
	err := c.db.WithContext(ctx).Model(&domain.WrappedChannelKey{}).
		Where("recipient_identity = ?", recipient).
		Distinct("channel_id").
		Order("channel_id ASC").
		Pluck("channel_id", &out).Error
	return out, translate(err)
}

// Insert adds new rows. A row that already exists fails the whole call with
// ErrDuplicate; callers run it inside a transaction.
func (c *ChannelKeyStore) Insert(ctx context.Context, keys []domain.WrappedChannelKey) error {
	if len(keys) == 0 {
		return nil
	}
	return translate(c.db.WithContext(ctx).Create(&keys).Error)
}

// InsertIgnore adds a row unless one already exists for the same
// recipient, channel and version.
func (c *ChannelKeyStore) InsertIgnore(ctx context.Context, key domain.WrappedChannelKey) (bool, error) {
	res := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&key)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteAllVersions removes every version a recipient holds for a channel.
func (c *ChannelKeyStore) DeleteAllVersions(ctx context.Context, recipient, channelID string) (int64, error) {
	res := c.db.WithContext(ctx).
		Where("recipient_identity = ? AND channel_id = ?", recipient, channelID).
		Delete(&domain.WrappedChannelKey{})
	return res.RowsAffected, translate(res.Error)
}

// MaxVersion is the highest version any recipient still holds, 0 when no
// row is left. Revocation can lower it; see CurrentVersion.
func (c *ChannelKeyStore) MaxVersion(ctx context.Context, channelID string) (int, error) {
	var max int
	err := c.db.WithContext(ctx).Model(&domain.WrappedChannelKey{}).
		Where("channel_id = ?", channelID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	return max, translate(err)
}

// CurrentVersion is the channel's newest issued key version: the larger of
// the channel's issued-version mark and the highest stored row.
func (c *ChannelKeyStore) CurrentVersion(ctx context.Context, channelID string) (int, error) {
	var mark int
	err := c.db.WithContext(ctx).Model(&domain.Channel{}).
		Where("id = ?", channelID).
		Select("COALESCE(MAX(key_version), 0)").
		Scan(&mark).Error
	if err != nil {
		return 0, translate(err)
	}
	rows, err := c.MaxVersion(ctx, channelID)
	if err != nil {
		return 0, err
	}
	return max(mark, rows), nil
}

// DeleteVersion removes one recipient's copy of one version.
func (c *ChannelKeyStore) DeleteVersion(ctx context.Context, recipient, channelID string, version int) (int64, error) {
	res := c.db.WithContext(ctx).
		Where("recipient_identity = ? AND channel_id = ? AND version = ?", recipient, channelID, version).
		Delete(&domain.WrappedChannelKey{})
	return res.RowsAffected, translate(res.Error)
}
