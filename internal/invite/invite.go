// Package invite issues and redeems invite codes that carry a wrapped copy
// of a key. The code itself is the credential: the server keeps only its
// hash and a blob wrapped for an identity derived from it.
package invite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"channelkeys/internal/domain"
	"channelkeys/internal/keyscope"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/observability/metrics"
	"channelkeys/internal/store"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("invite not found")
	ErrExpired        = errors.New("invite expired")
	ErrAlreadyUsed    = errors.New("invite already used")
	ErrInvalidRequest = errors.New("invalid invite request")
)

const DefaultTTL = 7 * 24 * time.Hour

type Options struct {
	Scope     keyscope.Scope
	SingleUse bool
	TTL       time.Duration
	Label     string
}

type Service struct {
	log        *slog.Logger
	now        func() time.Time
	defaultTTL time.Duration
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithDefaultTTL sets the lifetime used when Options.TTL is zero.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

func New(opts ...Option) *Service {
	s := &Service{
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new invite and returns its raw code. The raw code is not
// kept anywhere and cannot be recovered later.
func (s *Service) Create(ctx context.Context, st *store.Store, issuer *keywrap.Identity, keyToShare []byte, o Options) (string, *domain.InviteCode, error) {
	if issuer == nil {
		return "", nil, fmt.Errorf("%w: issuer is required", ErrInvalidRequest)
	}
	if err := o.Scope.Validate(); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if o.TTL < 0 {
		return "", nil, fmt.Errorf("%w: negative ttl", ErrInvalidRequest)
	}
	ttl := o.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	code, err := keywrap.NewInviteCode()
	if err != nil {
		return "", nil, err
	}
	codeID, err := keywrap.CodeIdentity(code)
	if err != nil {
		return "", nil, err
	}
	blob, err := keywrap.WrapKey(issuer, codeID.PublicID(), keyToShare)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.now()
	inv := &domain.InviteCode{
		ID:             uuid.New(),
		CodeHash:       keywrap.HashCode(code),
		Scope:          o.Scope.String(),
		WrappedKey:     blob,
		IssuerIdentity: issuer.PublicID(),
		SingleUse:      o.SingleUse,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
	if label := strings.TrimSpace(o.Label); label != "" {
		inv.Label = &label
	}
	if err := st.Invites().Create(ctx, inv); err != nil {
		return "", nil, err
	}

	s.log.Info("invite created",
		"tenant", st.Tenant,
		"invite_id", inv.ID,
		"scope", inv.Scope,
		"single_use", inv.SingleUse,
		"expires_at", inv.ExpiresAt,
	)
	return code, inv, nil
}

// Redeem records that redeemer used the code. A repeat by the same identity
// succeeds without counting twice, even after the invite has expired.
func (s *Service) Redeem(ctx context.Context, st *store.Store, rawCode, redeemer string) (*domain.InviteCode, error) {
	if strings.TrimSpace(rawCode) == "" || redeemer == "" {
		return nil, fmt.Errorf("%w: code and redeemer are required", ErrInvalidRequest)
	}
	hash := keywrap.HashCode(rawCode)

	var out *domain.InviteCode
	outcome := "redeemed"
	err := st.WithTx(ctx, func(tx *store.Store) error {
		inv, err := tx.Invites().GetByHash(ctx, hash)
		if errors.Is(err, store.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		done, err := tx.Invites().HasRedemption(ctx, inv.ID, redeemer)
		if err != nil {
			return err
		}
		if done {
			out, outcome = inv, "repeat"
			return nil
		}

		now := s.now()
		if !now.Before(inv.ExpiresAt) {
			return fmt.Errorf("%w: expired at %s", ErrExpired, inv.ExpiresAt.Format(time.RFC3339))
		}

		inserted, err := tx.Invites().RecordRedemption(ctx, inv.ID, redeemer, now)
		if err != nil {
			return err
		}
		if !inserted {
			out, outcome = inv, "repeat"
			return nil
		}
		counted, err := tx.Invites().IncrementRedeemed(ctx, inv.ID)
		if err != nil {
			return err
		}
		if !counted {
			return ErrAlreadyUsed
		}

		out, err = tx.Invites().GetByID(ctx, inv.ID)
		return err
	})
	if err != nil {
		metrics.InviteRedemptions.WithLabelValues(failureOutcome(err)).Inc()
		return nil, err
	}

	metrics.InviteRedemptions.WithLabelValues(outcome).Inc()
	s.log.Info("invite redeemed", "tenant", st.Tenant, "invite_id", out.ID, "redeemer", redeemer, "outcome", outcome)
	return out, nil
}

func failureOutcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrAlreadyUsed):
		return "already_used"
	}
	return "error"
}

// Open recovers the shared key from an invite with the raw code. It runs on
// the client; the server never sees the code.
func Open(rawCode string, inv *domain.InviteCode) ([]byte, error) {
	if inv == nil {
		return nil, ErrNotFound
	}
	if keywrap.HashCode(rawCode) != inv.CodeHash {
		return nil, keywrap.ErrBadKey
	}
	id, err := keywrap.CodeIdentity(rawCode)
	if err != nil {
		return nil, keywrap.ErrBadKey
	}
	return keywrap.UnwrapKey(id, inv.WrappedKey)
}

func (s *Service) List(ctx context.Context, st *store.Store, issuer string) ([]domain.InviteCode, error) {
	return st.Invites().ListByIssuer(ctx, issuer)
}

// Revoke deletes an invite and its redemption records. Keys already handed
// out through it are unaffected.
func (s *Service) Revoke(ctx context.Context, st *store.Store, id uuid.UUID) error {
	var deleted bool
	err := st.WithTx(ctx, func(tx *store.Store) error {
		var err error
		deleted, err = tx.Invites().Delete(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	s.log.Info("invite revoked", "tenant", st.Tenant, "invite_id", id)
	return nil
}
