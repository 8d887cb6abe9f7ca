package store

import (
	"context"
	"fmt"
	"time"

	"channelkeys/internal/domain"
	"channelkeys/internal/keyscope"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WrappedSecret is the scope-independent view of a wrapped channel,
// community or team key. Version is always 1 for unversioned scopes.
type WrappedSecret struct {
	Scope      keyscope.Scope
	Recipient  string
	Version    int
	Ciphertext []byte
	WrappedBy  string
	CreatedAt  time.Time
}

// SecretStore reads and writes wrapped secrets for one scope. It dispatches
// to the table that backs the scope's kind.
type SecretStore struct {
	db    *gorm.DB
	scope keyscope.Scope
}

func (s *Store) Secrets(scope keyscope.Scope) *SecretStore {
	return &SecretStore{db: s.DB, scope: scope}
}

// Put stores a recipient's copy. Channel key versions are immutable so an
// existing row is left alone; community and team copies are replaced.
func (ss *SecretStore) Put(ctx context.Context, sec WrappedSecret) error {
	if err := ss.scope.Validate(); err != nil {
		return err
	}
	db := ss.db.WithContext(ctx)
	switch ss.scope.Kind {
	case keyscope.KindChannel:
		if sec.Version <= 0 {
			return fmt.Errorf("store: channel secret without version")
		}
		row := domain.WrappedChannelKey{
			RecipientIdentity: sec.Recipient,
			ChannelID:         ss.scope.ChannelID,
			Version:           sec.Version,
			Ciphertext:        sec.Ciphertext,
			WrappedBy:         sec.WrappedBy,
		}
		return translate(db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
	case keyscope.KindCommunity:
		row := domain.WrappedCommunityKey{RecipientIdentity: sec.Recipient, Ciphertext: sec.Ciphertext, WrappedBy: sec.WrappedBy}
		return translate(db.Clauses(replaceCopy()).Create(&row).Error)
	default:
		row := domain.WrappedTeamKey{RecipientIdentity: sec.Recipient, Ciphertext: sec.Ciphertext, WrappedBy: sec.WrappedBy}
		return translate(db.Clauses(replaceCopy()).Create(&row).Error)
	}
}

func replaceCopy() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipient_identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "wrapped_by"}),
	}
}

// Get returns the recipient's copy. For channel scopes a version <= 0 selects
// the latest.
func (ss *SecretStore) Get(ctx context.Context, recipient string, version int) (*WrappedSecret, error) {
	if err := ss.scope.Validate(); err != nil {
		return nil, err
	}
	switch ss.scope.Kind {
	case keyscope.KindChannel:
		row, err := (&ChannelKeyStore{db: ss.db}).Get(ctx, recipient, ss.scope.ChannelID, version)
		if err != nil {
			return nil, err
		}
		sec := ss.fromChannel(*row)
		return &sec, nil
	case keyscope.KindCommunity:
		var row domain.WrappedCommunityKey
		if err := ss.db.WithContext(ctx).Where("recipient_identity = ?", recipient).First(&row).Error; err != nil {
			return nil, translate(err)
		}
		return &WrappedSecret{Scope: ss.scope, Recipient: row.RecipientIdentity, Version: 1, Ciphertext: row.Ciphertext, WrappedBy: row.WrappedBy, CreatedAt: row.CreatedAt}, nil
	default:
		var row domain.WrappedTeamKey
		if err := ss.db.WithContext(ctx).Where("recipient_identity = ?", recipient).First(&row).Error; err != nil {
			return nil, translate(err)
		}
		return &WrappedSecret{Scope: ss.scope, Recipient: row.RecipientIdentity, Version: 1, Ciphertext: row.Ciphertext, WrappedBy: row.WrappedBy, CreatedAt: row.CreatedAt}, nil
	}
}

// List returns every copy in the scope ordered by recipient.
func (ss *SecretStore) List(ctx context.Context) ([]WrappedSecret, error) {
	if err := ss.scope.Validate(); err != nil {
		return nil, err
	}
	var out []WrappedSecret
	switch ss.scope.Kind {
	case keyscope.KindChannel:
		rows, err := (&ChannelKeyStore{db: ss.db}).ListByChannel(ctx, ss.scope.ChannelID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			out = append(out, ss.fromChannel(row))
		}
	case keyscope.KindCommunity:
		var rows []domain.WrappedCommunityKey
		if err := ss.db.WithContext(ctx).Order("recipient_identity ASC").Find(&rows).Error; err != nil {
			return nil, translate(err)
		}
		for _, row := range rows {
			out = append(out, WrappedSecret{Scope: ss.scope, Recipient: row.RecipientIdentity, Version: 1, Ciphertext: row.Ciphertext, WrappedBy: row.WrappedBy, CreatedAt: row.CreatedAt})
		}
	default:
		var rows []domain.WrappedTeamKey
		if err := ss.db.WithContext(ctx).Order("recipient_identity ASC").Find(&rows).Error; err != nil {
			return nil, translate(err)
		}
		for _, row := range rows {
			out = append(out, WrappedSecret{Scope: ss.scope, Recipient: row.RecipientIdentity, Version: 1, Ciphertext: row.Ciphertext, WrappedBy: row.WrappedBy, CreatedAt: row.CreatedAt})
		}
	}
	return out, nil
}

// Delete removes every copy the recipient holds in the scope.
func (ss *SecretStore) Delete(ctx context.Context, recipient string) (int64, error) {
	if err := ss.scope.Validate(); err != nil {
		return 0, err
	}
	db := ss.db.WithContext(ctx).Where("recipient_identity = ?", recipient)
	var res *gorm.DB
	switch ss.scope.Kind {
	case keyscope.KindChannel:
		res = db.Where("channel_id = ?", ss.scope.ChannelID).Delete(&domain.WrappedChannelKey{})
	case keyscope.KindCommunity:
		res = db.Delete(&domain.WrappedCommunityKey{})
	default:
		res = db.Delete(&domain.WrappedTeamKey{})
	}
	return res.RowsAffected, translate(res.Error)
}

func (ss *SecretStore) fromChannel(row domain.WrappedChannelKey) WrappedSecret {
	return WrappedSecret{
		Scope:      ss.scope,
		Recipient:  row.RecipientIdentity,
		Version:    row.Version,
		Ciphertext: row.Ciphertext,
		WrappedBy:  row.WrappedBy,
		CreatedAt:  row.CreatedAt,
	}
}
