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

	"github.com/google/uuid"
)

type KeyRequestInput struct {
	ChannelID       string
	Requester       string
	RequesterPubkey string
	Target          string
	GroupID         *string
	InviteCodeHash  *string
}

// RequestKey records a pending ask for the channel key. A second call for the
// same channel and requester returns the stored request, reopened when it was
// fulfilled with a copy the requester is asking to replace.
func (s *Service) RequestKey(ctx context.Context, st *store.Store, in KeyRequestInput) (*domain.KeyRequest, error) {
	if in.ChannelID == "" || in.Requester == "" {
		return nil, fmt.Errorf("%w: channel and requester are required", ErrInvalidRequest)
	}
	if !keywrap.ValidPublicID(in.RequesterPubkey) {
		return nil, fmt.Errorf("%w: requester pubkey", ErrInvalidRequest)
	}
	ch, err := st.Channels().Get(ctx, in.ChannelID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, in.ChannelID)
	}
	if err != nil {
		return nil, err
	}
	if !ch.Encrypted {
		return nil, fmt.Errorf("%w: %s", ErrNotEncrypted, in.ChannelID)
	}

	req, created, err := st.KeyRequests().CreateIfAbsent(ctx, &domain.KeyRequest{
		ChannelID:         in.ChannelID,
		RequesterIdentity: in.Requester,
		RequesterPubkey:   in.RequesterPubkey,
		TargetIdentity:    in.Target,
		GroupID:           in.GroupID,
		InviteCodeHash:    in.InviteCodeHash,
		Status:            domain.KeyRequestPending,
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.KeyRequestTransitions.WithLabelValues(string(domain.KeyRequestPending)).Inc()
		s.log.Info("key requested", "tenant", st.Tenant, "channel_id", in.ChannelID, "request_id", req.ID, "requester", in.Requester)
		return req, nil
	}
	if req.Status == domain.KeyRequestFulfilled {
		return s.reopen(ctx, st, req)
	}
	return req, nil
}

// reopen puts a fulfilled request back to pending when the requester's copy
// of the current version is the one that fulfillment stored. That copy is
// dropped so the next fulfillment can replace it. A requester holding the
// current version from any other source keeps the request as it is.
func (s *Service) reopen(ctx context.Context, st *store.Store, req *domain.KeyRequest) (*domain.KeyRequest, error) {
	var out *domain.KeyRequest
	reopened := false
	err := st.WithTx(ctx, func(tx *store.Store) error {
		current, err := tx.ChannelKeys().CurrentVersion(ctx, req.ChannelID)
		if err != nil {
			return err
		}
		row, err := tx.ChannelKeys().Get(ctx, req.RequesterIdentity, req.ChannelID, current)
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
		case err != nil:
			return err
		case req.FulfilledBy == nil || row.WrappedBy != *req.FulfilledBy:
			out = req
			return nil
		default:
			if _, err := tx.ChannelKeys().DeleteVersion(ctx, req.RequesterIdentity, req.ChannelID, current); err != nil {
				return err
			}
		}

		if reopened, err = tx.KeyRequests().Reopen(ctx, req.ID); err != nil {
			return err
		}
		out, err = tx.KeyRequests().Get(ctx, req.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if reopened {
		metrics.KeyRequestTransitions.WithLabelValues(string(domain.KeyRequestPending)).Inc()
		s.log.Info("key request reopened", "tenant", st.Tenant, "channel_id", req.ChannelID, "request_id", req.ID, "requester", req.RequesterIdentity)
	}
	return out, nil
}

// FulfillKeyRequest stores wrappedBlob as the requester's copy of the current
// key version and settles the request. The blob must be issued by the
// fulfiller, who must hold the current version. The requester must have
// access, or have redeemed the invite the request names.
func (s *Service) FulfillKeyRequest(ctx context.Context, st *store.Store, requestID uuid.UUID, fulfiller string, wrappedBlob []byte) error {
	env, err := keywrap.ParseEnvelope(wrappedBlob)
	if err != nil {
		return fmt.Errorf("%w: wrapped key: %v", ErrInvalidRequest, err)
	}
	if env.IssuerID() != fulfiller {
		return fmt.Errorf("%w: wrapped key was not issued by the fulfiller", ErrInvalidRequest)
	}

	var channelID string
	var version int
	err = st.WithTx(ctx, func(tx *store.Store) error {
		req, err := tx.KeyRequests().Get(ctx, requestID)
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
		}
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrStaleRequest, requestID, req.Status)
		}
		channelID = req.ChannelID

		version, err = tx.ChannelKeys().CurrentVersion(ctx, req.ChannelID)
		if err != nil {
			return err
		}
		if version == 0 {
			return fmt.Errorf("%w: %s", ErrNotEncrypted, req.ChannelID)
		}
		if _, err := tx.ChannelKeys().Get(ctx, fulfiller, req.ChannelID, version); err != nil {
			if errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("%w: fulfiller does not hold version %d", ErrNoAccess, version)
			}
			return err
		}
		if err := s.requesterEligible(ctx, tx, req); err != nil {
			return err
		}

		ok, err := tx.KeyRequests().Transition(ctx, requestID, domain.KeyRequestFulfilled, &fulfiller, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrStaleRequest, requestID)
		}
		_, err = tx.ChannelKeys().InsertIgnore(ctx, domain.WrappedChannelKey{
			RecipientIdentity: req.RequesterIdentity,
			ChannelID:         req.ChannelID,
			Version:           version,
			Ciphertext:        wrappedBlob,
			WrappedBy:         fulfiller,
		})
		return err
	})
	if err != nil {
		return err
	}

	metrics.KeyRequestTransitions.WithLabelValues(string(domain.KeyRequestFulfilled)).Inc()
	metrics.WrappedKeysIssued.WithLabelValues("channel").Inc()
	s.log.Info("key request fulfilled", "tenant", st.Tenant, "channel_id", channelID, "request_id", requestID, "version", version, "fulfilled_by", fulfiller)
	return nil
}

func (s *Service) requesterEligible(ctx context.Context, tx *store.Store, req *domain.KeyRequest) error {
	ok, err := access.HasAccess(ctx, tx, req.RequesterIdentity, req.ChannelID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if req.InviteCodeHash != nil {
		ok, err = tx.Invites().HasRedemptionByHash(ctx, *req.InviteCodeHash, req.RequesterIdentity)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: requester %s", ErrNoAccess, req.RequesterIdentity)
}

// RejectKeyRequest settles a pending request as rejected. Rejecting an
// already rejected request succeeds without change.
func (s *Service) RejectKeyRequest(ctx context.Context, st *store.Store, requestID uuid.UUID) error {
	ok, err := st.KeyRequests().Transition(ctx, requestID, domain.KeyRequestRejected, nil, s.now())
	if err != nil {
		return err
	}
	if ok {
		metrics.KeyRequestTransitions.WithLabelValues(string(domain.KeyRequestRejected)).Inc()
		s.log.Info("key request rejected", "tenant", st.Tenant, "request_id", requestID)
		return nil
	}

	req, err := st.KeyRequests().Get(ctx, requestID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	if err != nil {
		return err
	}
	if req.Status == domain.KeyRequestRejected {
		return nil
	}
	return fmt.Errorf("%w: %s is %s", ErrStaleRequest, requestID, req.Status)
}

func (s *Service) PendingRequests(ctx context.Context, st *store.Store, channelID string) ([]domain.KeyRequest, error) {
	if err := s.channel(ctx, st, channelID); err != nil {
		return nil, err
	}
	return st.KeyRequests().ListPending(ctx, channelID)
}
