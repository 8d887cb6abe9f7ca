package service

import (
	"context"
	"errors"
	"fmt"

	"channelkeys/internal/access"
	"channelkeys/internal/domain"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/observability/metrics"
	"channelkeys/internal/store"
)

// EnableEncryption switches a channel to encrypted mode and wraps a fresh
// content key for everyone with access. Calling it on a channel that is
// already encrypted issues the next version.
func (s *Service) EnableEncryption(ctx context.Context, st *store.Store, channelID string, initiator *keywrap.Identity) (*Issued, error) {
	return s.issue(ctx, st, channelID, initiator, true)
}

// RotateKey issues the next version for everyone who currently has access.
// Version numbers are never reused, even after every holder of the newest
// one was revoked. Rows for older versions are left in place.
func (s *Service) RotateKey(ctx context.Context, st *store.Store, channelID string, initiator *keywrap.Identity) (*Issued, error) {
	return s.issue(ctx, st, channelID, initiator, false)
}

func (s *Service) issue(ctx context.Context, st *store.Store, channelID string, initiator *keywrap.Identity, enable bool) (*Issued, error) {
	if channelID == "" || initiator == nil {
		return nil, fmt.Errorf("%w: channel and initiator are required", ErrInvalidRequest)
	}
	if err := s.channel(ctx, st, channelID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(st.Tenant + "/" + channelID)
	defer unlock()

	issued, err := s.issueOnce(ctx, st, channelID, initiator, enable)
	if errors.Is(err, ErrVersionConflict) {
		s.log.Warn("key version conflict, retrying", "tenant", st.Tenant, "channel_id", channelID)
		issued, err = s.issueOnce(ctx, st, channelID, initiator, enable)
	}
	if err != nil {
		return nil, err
	}

	metrics.KeyRotations.Inc()
	metrics.WrappedKeysIssued.WithLabelValues("channel").Add(float64(len(issued.Recipients)))
	msg := "key rotated"
	if issued.Version == 1 {
		msg = "channel encryption enabled"
	}
	s.log.Info(msg,
		"tenant", st.Tenant,
		"channel_id", channelID,
		"version", issued.Version,
		"recipients", len(issued.Recipients),
		"initiator", initiator.PublicID(),
	)
	return issued, nil
}

func (s *Service) issueOnce(ctx context.Context, st *store.Store, channelID string, initiator *keywrap.Identity, enable bool) (*Issued, error) {
	var issued *Issued
	err := st.WithTx(ctx, func(tx *store.Store) error {
		ch, err := tx.Channels().Get(ctx, channelID)
		if err != nil {
			return err
		}
		if !ch.Encrypted {
			if !enable {
				return fmt.Errorf("%w: %s", ErrNotEncrypted, channelID)
			}
			if _, err := tx.Channels().MarkEncrypted(ctx, channelID, s.now()); err != nil {
				return err
			}
		}

		held, err := tx.ChannelKeys().MaxVersion(ctx, channelID)
		if err != nil {
			return err
		}
		version := max(held, ch.KeyVersion) + 1

		recipients, err := access.Members(ctx, tx, channelID)
		if err != nil {
			return err
		}
		key, err := keywrap.NewContentKey()
		if err != nil {
			return err
		}
		blobs, err := wrapForAll(initiator, recipients, key)
		if err != nil {
			return err
		}

		rows := make([]domain.WrappedChannelKey, 0, len(recipients))
		for _, r := range recipients {
			rows = append(rows, domain.WrappedChannelKey{
				RecipientIdentity: r,
				ChannelID:         channelID,
				Version:           version,
				Ciphertext:        blobs[r],
				WrappedBy:         initiator.PublicID(),
			})
		}
		if err := tx.ChannelKeys().Insert(ctx, rows); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("%w: version %d of %s", ErrVersionConflict, version, channelID)
			}
			return err
		}
		advanced, err := tx.Channels().AdvanceKeyVersion(ctx, channelID, ch.KeyVersion, version)
		if err != nil {
			return err
		}
		if !advanced {
			return fmt.Errorf("%w: version %d of %s", ErrVersionConflict, version, channelID)
		}

		issued = &Issued{ChannelID: channelID, Version: version, Recipients: recipients, ContentKey: key}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issued, nil
}

// ChannelKey returns the identity's wrapped copy of a channel key. A version
// <= 0 selects the latest one the identity holds.
func (s *Service) ChannelKey(ctx context.Context, st *store.Store, identity, channelID string, version int) (*domain.WrappedChannelKey, error) {
	row, err := st.ChannelKeys().Get(ctx, identity, channelID, version)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s v%d", ErrKeyNotFound, channelID, version)
	}
	return row, err
}
