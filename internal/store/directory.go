package store

import (
	"context"
	"time"

	"channelkeys/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The channel, roster and group tables belong to the chat collaborator. The
// engine reads them; the writers here serve that collaborator and tests.

type ChannelStore struct{ db *gorm.DB }

func (s *Store) Channels() *ChannelStore { return &ChannelStore{db: s.DB} }

func (c *ChannelStore) Create(ctx context.Context, ch *domain.Channel) error {
	return translate(c.db.WithContext(ctx).Create(ch).Error)
}

func (c *ChannelStore) Get(ctx context.Context, id string) (*domain.Channel, error) {
	var ch domain.Channel
	if err := c.db.WithContext(ctx).Where("id = ?", id).First(&ch).Error; err != nil {
		return nil, translate(err)
	}
	return &ch, nil
}

// MarkEncrypted flips the channel's flag. It reports false when the channel
// was already encrypted; the flag never moves back.
func (c *ChannelStore) MarkEncrypted(ctx context.Context, id string, at time.Time) (bool, error) {
	res := c.db.WithContext(ctx).Model(&domain.Channel{}).
		Where("id = ? AND encrypted = ?", id, false).
		Updates(map[string]any{"encrypted": true, "encryption_enabled_at": at})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AdvanceKeyVersion moves the channel's issued-version mark from one value to
// a higher one. It reports false when the mark no longer equals from.
func (c *ChannelStore) AdvanceKeyVersion(ctx context.Context, id string, from, to int) (bool, error) {
	if to <= from {
		return false, nil
	}
	res := c.db.WithContext(ctx).Model(&domain.Channel{}).
		Where("id = ? AND key_version = ?", id, from).
		Update("key_version", to)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (c *ChannelStore) ListEncrypted(ctx context.Context, ids []string) ([]domain.Channel, error) {
	var out []domain.Channel
	if len(ids) == 0 {
		return out, nil
	}
	err := c.db.WithContext(ctx).
		Where("id IN ? AND encrypted = ?", ids, true).
		Order("id ASC").
		Find(&out).Error
	return out, translate(err)
}

type MemberStore struct{ db *gorm.DB }

func (s *Store) Members() *MemberStore { return &MemberStore{db: s.DB} }

func (m *MemberStore) Add(ctx context.Context, identity, displayName string) error {
	row := domain.Member{Identity: identity, DisplayName: displayName}
	return translate(m.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

func (m *MemberStore) Remove(ctx context.Context, identity string) error {
	return translate(m.db.WithContext(ctx).Where("identity = ?", identity).Delete(&domain.Member{}).Error)
}

func (m *MemberStore) Exists(ctx context.Context, identity string) (bool, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&domain.Member{}).Where("identity = ?", identity).Count(&n).Error
	return n > 0, translate(err)
}

func (m *MemberStore) List(ctx context.Context) ([]string, error) {
	var out []string
	err := m.db.WithContext(ctx).Model(&domain.Member{}).Order("identity ASC").Pluck("identity", &out).Error
	return out, translate(err)
}

type GroupStore struct{ db *gorm.DB }

func (s *Store) Groups() *GroupStore { return &GroupStore{db: s.DB} }

func (g *GroupStore) Create(ctx context.Context, id, name string) error {
	return translate(g.db.WithContext(ctx).Create(&domain.Group{ID: id, Name: name}).Error)
}

func (g *GroupStore) AddMember(ctx context.Context, groupID, identity string) error {
	row := domain.GroupMember{GroupID: groupID, Identity: identity}
	return translate(g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

func (g *GroupStore) RemoveMember(ctx context.Context, groupID, identity string) error {
	return translate(g.db.WithContext(ctx).
		Where("group_id = ? AND identity = ?", groupID, identity).
		Delete(&domain.GroupMember{}).Error)
}

// RemoveFromAll drops the identity from every group and returns the groups
// it left.
func (g *GroupStore) RemoveFromAll(ctx context.Context, identity string) ([]string, error) {
	var groups []string
	db := g.db.WithContext(ctx)
	if err := db.Model(&domain.GroupMember{}).Where("identity = ?", identity).Pluck("group_id", &groups).Error; err != nil {
		return nil, translate(err)
	}
	if err := db.Where("identity = ?", identity).Delete(&domain.GroupMember{}).Error; err != nil {
		return nil, translate(err)
	}
	return groups, nil
}

func (g *GroupStore) Members(ctx context.Context, groupID string) ([]string, error) {
	var out []string
	err := g.db.WithContext(ctx).Model(&domain.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("identity ASC").
		Pluck("identity", &out).Error
	return out, translate(err)
}

// IsMemberOfAny reports whether identity belongs to at least one of groupIDs.
func (g *GroupStore) IsMemberOfAny(ctx context.Context, identity string, groupIDs []string) (bool, error) {
	if len(groupIDs) == 0 {
		return false, nil
	}
	var n int64
	err := g.db.WithContext(ctx).Model(&domain.GroupMember{}).
		Where("identity = ? AND group_id IN ?", identity, groupIDs).
		Count(&n).Error
	return n > 0, translate(err)
}

func (g *GroupStore) LinkChannel(ctx context.Context, channelID, groupID string) error {
	row := domain.ChannelGroup{ChannelID: channelID, GroupID: groupID}
	return translate(g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

func (g *GroupStore) UnlinkChannel(ctx context.Context, channelID, groupID string) error {
	return translate(g.db.WithContext(ctx).
		Where("channel_id = ? AND group_id = ?", channelID, groupID).
		Delete(&domain.ChannelGroup{}).Error)
}

func (g *GroupStore) GroupsForChannel(ctx context.Context, channelID string) ([]string, error) {
	var out []string
	err := g.db.WithContext(ctx).Model(&domain.ChannelGroup{}).
		Where("channel_id = ?", channelID).
		Order("group_id ASC").
		Pluck("group_id", &out).Error
	return out, translate(err)
}

func (g *GroupStore) ChannelsForGroup(ctx context.Context, groupID string) ([]string, error) {
	var out []string
	err := g.db.WithContext(ctx).Model(&domain.ChannelGroup{}).
		Where("group_id = ?", groupID).
		Order("channel_id ASC").
		Pluck("channel_id", &out).Error
	return out, translate(err)
}
