package service

import (
	"context"
	"fmt"

	"channelkeys/internal/access"
	"channelkeys/internal/domain"
	"channelkeys/internal/store"
)

type PostInput struct {
	ChannelID string
	Sender    string
	Body      []byte
	// Encrypted marks Body as ciphertext. Messages in encrypted channels must
	// be encrypted under a channel key version; elsewhere an encrypted body
	// is under the community key and carries no version.
	Encrypted  bool
	KeyVersion int
}

// PostMessage appends a message after checking the sender's access and the
// channel's key version rules.
func (s *Service) PostMessage(ctx context.Context, st *store.Store, in PostInput) (*domain.Message, error) {
	if in.ChannelID == "" || in.Sender == "" {
		return nil, fmt.Errorf("%w: channel and sender are required", ErrInvalidRequest)
	}
	if err := s.channel(ctx, st, in.ChannelID); err != nil {
		return nil, err
	}

	var msg *domain.Message
	err := st.WithTx(ctx, func(tx *store.Store) error {
		ch, err := tx.Channels().Get(ctx, in.ChannelID)
		if err != nil {
			return err
		}
		ok, err := access.HasAccess(ctx, tx, in.Sender, in.ChannelID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s in %s", ErrNoAccess, in.Sender, in.ChannelID)
		}

		m := &domain.Message{ChannelID: in.ChannelID, SenderIdentity: in.Sender, Body: in.Body, Encrypted: in.Encrypted}
		if ch.Encrypted {
			if !in.Encrypted {
				return fmt.Errorf("%w: plaintext message in encrypted channel", ErrInvalidRequest)
			}
			current, err := tx.ChannelKeys().CurrentVersion(ctx, in.ChannelID)
			if err != nil {
				return err
			}
			if in.KeyVersion < 1 || in.KeyVersion > current {
				return fmt.Errorf("%w: key version %d outside 1..%d", ErrInvalidRequest, in.KeyVersion, current)
			}
			v := in.KeyVersion
			m.KeyVersion = &v
		} else if in.KeyVersion != 0 {
			return fmt.Errorf("%w: key version on an unencrypted channel", ErrInvalidRequest)
		}

		if err := tx.Messages().Append(ctx, m); err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}
