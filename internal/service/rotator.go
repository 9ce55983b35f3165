package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"gate-service/internal/domain/gate"
)

type CredentialStore interface {
	AcquireLeastUsed(ctx context.Context) (gate.Credential, error)
}

// CredentialRotator hands out the least-used active credential. Acquisitions
// are serialized in-process; the database store additionally row-locks.
type CredentialRotator struct {
	mu    sync.Mutex
	store CredentialStore
	log   zerolog.Logger
}

func NewCredentialRotator(store CredentialStore, log zerolog.Logger) *CredentialRotator {
	return &CredentialRotator{
		store: store,
		log:   log.With().Str("component", "rotator").Logger(),
	}
}

func (r *CredentialRotator) Acquire(ctx context.Context) (gate.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cred, err := r.store.AcquireLeastUsed(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveCredential) {
			r.log.Error().Msg("no active OCR credential available")
			return gate.Credential{}, err
		}
		r.log.Error().Err(err).Msg("failed to acquire credential")
		return gate.Credential{}, fmt.Errorf("failed to acquire credential: %w", err)
	}

	r.log.Debug().
		Str("credential", cred.Identifier).
		Int64("usage_count", cred.UsageCount).
		Msg("credential acquired")
	return cred, nil
}
