// Package migration rewrites historical plaintext messages of public,
// non-personal channels as ciphertext. Runs are resumable: progress is
// persisted after every batch and re-running converges to zero remaining.
package migration

import (
	"context"
	"errors"
	"fmt"

	"channelkeys/internal/domain"
	"channelkeys/internal/observability/metrics"
	"channelkeys/internal/store"
)

// Name keys the persisted MigrationState row.
const Name = "public-messages"

var ErrInvalidResult = errors.New("invalid migration result")

// Result is the ciphertext for one message. KeyVersion is nil when the body
// was encrypted under the community key.
type Result struct {
	ID         uint64
	Ciphertext []byte
	KeyVersion *int
}

type Status struct {
	Completed  bool
	LastCursor uint64
	Migrated   int64
	Remaining  int64
}

// NextBatch returns up to limit plaintext public messages with ids above
// cursor, in ascending id order.
func NextBatch(ctx context.Context, st *store.Store, limit int, cursor uint64) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("migration: limit must be positive, got %d", limit)
	}
	return st.Messages().NextUnencryptedPublic(ctx, limit, cursor)
}

func CountRemaining(ctx context.Context, st *store.Store) (int64, error) {
	return st.Messages().CountUnencryptedPublic(ctx)
}

// ApplyBatch writes every result in one transaction and records progress.
// Rows that were encrypted or deleted in the meantime are skipped. A result
// for a message outside public, non-personal channels, or whose key version
// does not fit its channel, fails the whole batch with ErrInvalidResult. It
// returns how many rows changed.
func ApplyBatch(ctx context.Context, st *store.Store, results []Result) (int, error) {
	for _, r := range results {
		if r.ID == 0 || len(r.Ciphertext) == 0 {
			return 0, fmt.Errorf("%w: message %d", ErrInvalidResult, r.ID)
		}
		if r.KeyVersion != nil && *r.KeyVersion <= 0 {
			return 0, fmt.Errorf("%w: message %d key version %d", ErrInvalidResult, r.ID, *r.KeyVersion)
		}
	}

	var applied int
	var remaining int64
	err := st.WithTx(ctx, func(tx *store.Store) error {
		state, err := tx.Migrations().Get(ctx, Name)
		if err != nil {
			return err
		}
		check := resultChecker{tx: tx, channels: map[string]channelRule{}}
		for _, r := range results {
			skip, err := check.result(ctx, r)
			if err != nil {
				return err
			}
			if skip {
				continue
			}
			ok, err := tx.Messages().ApplyEncrypted(ctx, r.ID, r.Ciphertext, r.KeyVersion)
			if err != nil {
				return err
			}
			if ok {
				applied++
			}
			if r.ID > state.LastCursor {
				state.LastCursor = r.ID
			}
		}

		remaining, err = tx.Messages().CountUnencryptedPublic(ctx)
		if err != nil {
			return err
		}
		state.Migrated += int64(applied)
		state.Completed = remaining == 0
		if state.Completed && state.CompletedAt == nil {
			now := tx.DB.NowFunc()
			state.CompletedAt = &now
		}
		if !state.Completed {
			state.CompletedAt = nil
		}
		return tx.Migrations().Save(ctx, state)
	})
	if err != nil {
		return 0, err
	}

	metrics.MessagesMigrated.Add(float64(applied))
	metrics.MigrationRemaining.WithLabelValues(st.Tenant).Set(float64(remaining))
	return applied, nil
}

type channelRule struct {
	migratable bool
	encrypted  bool
	current    int
}

// resultChecker validates results against the rows they target, caching
// one lookup per channel.
type resultChecker struct {
	tx       *store.Store
	channels map[string]channelRule
}

// result reports whether r targets a row that is already encrypted or gone.
func (c resultChecker) result(ctx context.Context, r Result) (bool, error) {
	msg, err := c.tx.Messages().Get(ctx, r.ID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if msg.Encrypted {
		return true, nil
	}

	rule, ok := c.channels[msg.ChannelID]
	if !ok {
		ch, err := c.tx.Channels().Get(ctx, msg.ChannelID)
		if err != nil {
			return false, err
		}
		rule = channelRule{migratable: ch.Public && !ch.Personal, encrypted: ch.Encrypted}
		if ch.Encrypted {
			if rule.current, err = c.tx.ChannelKeys().CurrentVersion(ctx, ch.ID); err != nil {
				return false, err
			}
		}
		c.channels[msg.ChannelID] = rule
	}

	switch {
	case !rule.migratable:
		return false, fmt.Errorf("%w: message %d is not in a public channel", ErrInvalidResult, r.ID)
	case rule.encrypted && r.KeyVersion == nil:
		return false, fmt.Errorf("%w: message %d needs a channel key version", ErrInvalidResult, r.ID)
	case rule.encrypted && *r.KeyVersion > rule.current:
		return false, fmt.Errorf("%w: message %d key version %d above current %d", ErrInvalidResult, r.ID, *r.KeyVersion, rule.current)
	case !rule.encrypted && r.KeyVersion != nil:
		return false, fmt.Errorf("%w: message %d is in an unencrypted channel", ErrInvalidResult, r.ID)
	}
	return false, nil
}

// GetStatus reports the persisted flag and cursor with a live remaining count.
func GetStatus(ctx context.Context, st *store.Store) (Status, error) {
	state, err := st.Migrations().Get(ctx, Name)
	if err != nil {
		return Status{}, err
	}
	remaining, err := CountRemaining(ctx, st)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Completed:  state.Completed,
		LastCursor: state.LastCursor,
		Migrated:   state.Migrated,
		Remaining:  remaining,
	}, nil
}
