package service

import (
	"context"
	"errors"
	"fmt"

	"channelkeys/internal/access"
	"channelkeys/internal/domain"
	"channelkeys/internal/keyscope"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/observability/metrics"
	"channelkeys/internal/store"
)

// InitializeCommunityKey mints the community key and wraps it for the
// initiator and every roster member.
func (s *Service) InitializeCommunityKey(ctx context.Context, st *store.Store, initiator *keywrap.Identity) (*Issued, error) {
	if initiator == nil {
		return nil, fmt.Errorf("%w: initiator is required", ErrInvalidRequest)
	}
	key, err := keywrap.NewContentKey()
	if err != nil {
		return nil, err
	}

	var recipients []string
	err = st.WithTx(ctx, func(tx *store.Store) error {
		existing, err := tx.Secrets(keyscope.Community()).List(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: community key", ErrAlreadyInitialized)
		}
		recipients, err = rosterWith(ctx, tx, initiator.PublicID())
		if err != nil {
			return err
		}
		return putAll(ctx, tx, keyscope.Community(), initiator, recipients, 1, key)
	})
	if err != nil {
		return nil, err
	}

	metrics.WrappedKeysIssued.WithLabelValues(string(keyscope.KindCommunity)).Add(float64(len(recipients)))
	s.log.Info("community key initialized", "tenant", st.Tenant, "recipients", len(recipients), "initiator", initiator.PublicID())
	return &Issued{Version: 1, Recipients: recipients, ContentKey: key}, nil
}

// InitializeTeamKey creates the team identity, records it in escrow and
// wraps its private half for the initiator and every roster member. The
// returned ContentKey is that private half.
func (s *Service) InitializeTeamKey(ctx context.Context, st *store.Store, initiator *keywrap.Identity) (*Issued, error) {
	if initiator == nil {
		return nil, fmt.Errorf("%w: initiator is required", ErrInvalidRequest)
	}
	team, err := keywrap.GenerateIdentity()
	if err != nil {
		return nil, err
	}
	key := team.PrivateBytes()

	var recipients []string
	err = st.WithTx(ctx, func(tx *store.Store) error {
		err := tx.Escrow().Init(ctx, domain.TeamKeyEscrow{
			TeamIdentity:  team.PublicID(),
			InitializedAt: s.now(),
			InitializedBy: initiator.PublicID(),
		})
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("%w: team key", ErrAlreadyInitialized)
		}
		if err != nil {
			return err
		}
		recipients, err = rosterWith(ctx, tx, initiator.PublicID())
		if err != nil {
			return err
		}
		return putAll(ctx, tx, keyscope.Team(), initiator, recipients, 1, key)
	})
	if err != nil {
		return nil, err
	}

	metrics.WrappedKeysIssued.WithLabelValues(string(keyscope.KindTeam)).Add(float64(len(recipients)))
	s.log.Info("team key initialized", "tenant", st.Tenant, "team_identity", team.PublicID(), "recipients", len(recipients))
	return &Issued{Version: 1, Recipients: recipients, ContentKey: key}, nil
}

// ShareKey unwraps holder's copy of the scope's key and wraps it for each
// recipient entitled to it. Channel scopes share the latest version and
// require access; community and team scopes require a roster entry.
// Recipients without entitlement are skipped. It returns who received a copy.
func (s *Service) ShareKey(ctx context.Context, st *store.Store, scope keyscope.Scope, holder *keywrap.Identity, recipients []string) ([]string, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if holder == nil {
		return nil, fmt.Errorf("%w: holder is required", ErrInvalidRequest)
	}

	var shared []string
	err := st.WithTx(ctx, func(tx *store.Store) error {
		own, err := tx.Secrets(scope).Get(ctx, holder.PublicID(), 0)
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, scope)
		}
		if err != nil {
			return err
		}
		key, err := keywrap.UnwrapKey(holder, own.Ciphertext)
		if err != nil {
			return err
		}

		for _, r := range recipients {
			ok, err := entitled(ctx, tx, scope, r)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := putAll(ctx, tx, scope, holder, []string{r}, own.Version, key); err != nil {
				return err
			}
			shared = append(shared, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.WrappedKeysIssued.WithLabelValues(string(scope.Kind)).Add(float64(len(shared)))
	s.log.Info("key shared", "tenant", st.Tenant, "scope", scope.String(), "recipients", len(shared), "holder", holder.PublicID())
	return shared, nil
}

func entitled(ctx context.Context, tx *store.Store, scope keyscope.Scope, identity string) (bool, error) {
	if scope.Kind == keyscope.KindChannel {
		ok, err := access.HasAccess(ctx, tx, identity, scope.ChannelID)
		if errors.Is(err, store.ErrRecordNotFound) {
			return false, fmt.Errorf("%w: %s", ErrChannelNotFound, scope.ChannelID)
		}
		return ok, err
	}
	return tx.Members().Exists(ctx, identity)
}

func rosterWith(ctx context.Context, tx *store.Store, identity string) ([]string, error) {
	roster, err := tx.Members().List(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range roster {
		if id == identity {
			return roster, nil
		}
	}
	return append(roster, identity), nil
}

func putAll(ctx context.Context, tx *store.Store, scope keyscope.Scope, holder *keywrap.Identity, recipients []string, version int, key []byte) error {
	blobs, err := wrapForAll(holder, recipients, key)
	if err != nil {
		return err
	}
	secrets := tx.Secrets(scope)
	for _, r := range recipients {
		err := secrets.Put(ctx, store.WrappedSecret{
			Recipient:  r,
			Version:    version,
			Ciphertext: blobs[r],
			WrappedBy:  holder.PublicID(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
