package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"channelkeys/internal/keywrap"
	"channelkeys/internal/store"
)

// Service runs key lifecycle operations against whichever tenant store the
// caller hands it. It keeps no tenant state beyond the rotation locks.
type Service struct {
	log   *slog.Logger
	now   func() time.Time
	locks *keyedMutex
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

func New(opts ...Option) *Service {
	s := &Service{
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
		locks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issued describes a freshly minted key version. ContentKey is the plaintext
// key, returned only to the initiator that generated it.
type Issued struct {
	ChannelID  string
	Version    int
	Recipients []string
	ContentKey []byte
}

func (s *Service) channel(ctx context.Context, st *store.Store, channelID string) error {
	_, err := st.Channels().Get(ctx, channelID)
	if errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return err
}

func wrapForAll(holder *keywrap.Identity, recipients []string, key []byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(recipients))
	for _, r := range recipients {
		blob, err := keywrap.WrapKey(holder, r, key)
		if err != nil {
			return nil, fmt.Errorf("%w: wrap for %s: %v", ErrInvalidRequest, r, err)
		}
		out[r] = blob
	}
	return out, nil
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex { return &keyedMutex{locks: map[string]*refMutex{}} }

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
