package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"channelkeys/internal/keyscope"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/store"
)

var ErrNoKey = errors.New("migration: holder has no key for channel")

const DefaultBatchSize = 100

// Runner drives NextBatch and ApplyBatch to completion with one key holder's
// identity. Messages of encrypted channels use the channel's current key;
// the rest use the community key.
type Runner struct {
	Holder    *keywrap.Identity
	BatchSize int
	Log       *slog.Logger
}

type channelKey struct {
	key     []byte
	version *int
}

// Run processes batches until none remain or maxBatches is reached
// (maxBatches <= 0 means no limit). It resumes from the persisted cursor.
func (r *Runner) Run(ctx context.Context, st *store.Store, maxBatches int) (Status, error) {
	if r.Holder == nil {
		return Status{}, fmt.Errorf("migration: runner has no holder identity")
	}
	limit := r.BatchSize
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	state, err := st.Migrations().Get(ctx, Name)
	if err != nil {
		return Status{}, err
	}
	cursor := state.LastCursor
	rescanned := false

	keys := map[string]channelKey{}
	for batches := 0; maxBatches <= 0 || batches < maxBatches; {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}
		msgs, err := NextBatch(ctx, st, limit, cursor)
		if err != nil {
			return Status{}, err
		}
		if len(msgs) == 0 {
			// Messages skipped by an earlier caller sit below the cursor.
			if cursor == 0 || rescanned {
				break
			}
			remaining, err := CountRemaining(ctx, st)
			if err != nil {
				return Status{}, err
			}
			if remaining == 0 {
				break
			}
			log.Info("migration rescanning below cursor", "tenant", st.Tenant, "cursor", cursor, "remaining", remaining)
			cursor, rescanned = 0, true
			continue
		}
		batches++

		results := make([]Result, 0, len(msgs))
		for _, m := range msgs {
			k, ok := keys[m.ChannelID]
			if !ok {
				k, err = r.keyFor(ctx, st, m.ChannelID)
				if err != nil {
					return Status{}, err
				}
				keys[m.ChannelID] = k
			}
			ct, err := keywrap.EncryptBody(k.key, m.Body)
			if err != nil {
				return Status{}, err
			}
			results = append(results, Result{ID: m.ID, Ciphertext: ct, KeyVersion: k.version})
			cursor = m.ID
		}

		applied, err := ApplyBatch(ctx, st, results)
		if err != nil {
			return Status{}, err
		}
		log.Info("migration batch applied", "tenant", st.Tenant, "messages", len(msgs), "applied", applied)
	}
	return GetStatus(ctx, st)
}

func (r *Runner) keyFor(ctx context.Context, st *store.Store, channelID string) (channelKey, error) {
	ch, err := st.Channels().Get(ctx, channelID)
	if err != nil {
		return channelKey{}, err
	}
	scope := keyscope.Community()
	if ch.Encrypted {
		scope = keyscope.Channel(channelID)
	}
	sec, err := st.Secrets(scope).Get(ctx, r.Holder.PublicID(), 0)
	if errors.Is(err, store.ErrRecordNotFound) {
		return channelKey{}, fmt.Errorf("%w: %s", ErrNoKey, scope)
	}
	if err != nil {
		return channelKey{}, err
	}
	key, err := keywrap.UnwrapKey(r.Holder, sec.Ciphertext)
	if err != nil {
		return channelKey{}, err
	}
	out := channelKey{key: key}
	if scope.Versioned() {
		current, err := st.ChannelKeys().CurrentVersion(ctx, channelID)
		if err != nil {
			return channelKey{}, err
		}
		if sec.Version != current {
			return channelKey{}, fmt.Errorf("%w: %s holds v%d, current is v%d", ErrNoKey, scope, sec.Version, current)
		}
		v := sec.Version
		out.version = &v
	}
	return out, nil
}
