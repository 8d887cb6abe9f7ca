package service

import (
	"context"
	"errors"

	"channelkeys/internal/access"
	"channelkeys/internal/keyscope"
	"channelkeys/internal/observability/metrics"
	"channelkeys/internal/store"
)

// Revocation removes future access only. Anything a recipient already
// decrypted stays with them.

// revokeIfNoAccess deletes every key version identity holds for the channel
// once no access path remains. Settled key requests go too, so the identity
// can ask again if it is re-added.
func revokeIfNoAccess(ctx context.Context, tx *store.Store, identity, channelID string) (int64, error) {
	ok, err := access.HasAccess(ctx, tx, identity, channelID)
	if errors.Is(err, store.ErrRecordNotFound) {
		ok, err = false, nil
	}
	if err != nil || ok {
		return 0, err
	}
	n, err := tx.ChannelKeys().DeleteAllVersions(ctx, identity, channelID)
	if err != nil {
		return 0, err
	}
	if _, err := tx.KeyRequests().DeleteTerminalFor(ctx, channelID, identity); err != nil {
		return 0, err
	}
	return n, nil
}

// OnGroupMemberRemoved runs after identity left groupID. Every encrypted
// channel linked to the group is re-checked.
func (s *Service) OnGroupMemberRemoved(ctx context.Context, st *store.Store, groupID, identity string) (int64, error) {
	var total int64
	err := st.WithTx(ctx, func(tx *store.Store) error {
		channels, err := access.ChannelsForGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		for _, ch := range channels {
			n, err := revokeIfNoAccess(ctx, tx, identity, ch)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.revoked(st, total, "group_id", groupID, "identity", identity)
	return total, nil
}

// OnGroupUnlinkedFromChannel runs after groupID stopped granting access to
// channelID. Every member of the group is re-checked for that channel.
func (s *Service) OnGroupUnlinkedFromChannel(ctx context.Context, st *store.Store, channelID, groupID string) (int64, error) {
	var total int64
	err := st.WithTx(ctx, func(tx *store.Store) error {
		ch, err := tx.Channels().Get(ctx, channelID)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil
		}
		if err != nil || !ch.Encrypted {
			return err
		}
		members, err := tx.Groups().Members(ctx, groupID)
		if err != nil {
			return err
		}
		for _, id := range members {
			n, err := revokeIfNoAccess(ctx, tx, id, channelID)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.revoked(st, total, "channel_id", channelID, "group_id", groupID)
	return total, nil
}

// OnMemberRemoved runs after identity left the team. Channel keys are
// re-checked everywhere the identity holds one; community and team copies
// are dropped once the identity is off the roster.
func (s *Service) OnMemberRemoved(ctx context.Context, st *store.Store, identity string) (int64, error) {
	var total int64
	err := st.WithTx(ctx, func(tx *store.Store) error {
		channels, err := tx.ChannelKeys().ChannelsForRecipient(ctx, identity)
		if err != nil {
			return err
		}
		for _, ch := range channels {
			n, err := revokeIfNoAccess(ctx, tx, identity, ch)
			if err != nil {
				return err
			}
			total += n
		}

		onRoster, err := tx.Members().Exists(ctx, identity)
		if err != nil || onRoster {
			return err
		}
		for _, scope := range []keyscope.Scope{keyscope.Community(), keyscope.Team()} {
			n, err := tx.Secrets(scope).Delete(ctx, identity)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.revoked(st, total, "identity", identity)
	return total, nil
}

func (s *Service) revoked(st *store.Store, n int64, attrs ...any) {
	if n == 0 {
		return
	}
	metrics.KeysRevoked.Add(float64(n))
	s.log.Info("keys revoked", append([]any{"tenant", st.Tenant, "rows", n}, attrs...)...)
}
