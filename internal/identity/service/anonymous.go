// Package service resolves the identity a pipeline is constructed with.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"telemetree/sdk/internal/identity/domain"
	"telemetree/sdk/internal/identity/repository"
)

// AnonymousIDKey is the store key holding the persisted anonymous id.
const AnonymousIDKey = "telemetree.id"

const (
	anonymousIDMin = 1
	anonymousIDMax = 1_000_000_000_000
)

// Resolver builds WebAppData for clients running outside Telegram.
type Resolver struct {
	store repository.Store
	now   func() time.Time
	newID func() int64
}

// NewResolver returns a Resolver persisting the anonymous id in store.
func NewResolver(store repository.Store) *Resolver {
	return &Resolver{
		store: store,
		now:   time.Now,
		newID: func() int64 { return anonymousIDMin + rand.Int64N(anonymousIDMax-anonymousIDMin) },
	}
}

// AnonymousID returns the persisted anonymous id, generating and storing one on first use.
func (r *Resolver) AnonymousID(ctx context.Context) (int64, error) {
	v, err := r.store.Get(ctx, AnonymousIDKey)
	switch {
	case err == nil:
		id, perr := strconv.ParseInt(v, 10, 64)
		if perr == nil && id > 0 {
			return id, nil
		}
		// Unparseable values are replaced below.
	case !errors.Is(err, repository.ErrNotFound):
		return 0, fmt.Errorf("identity: load anonymous id: %w", err)
	}
	id := r.newID()
	if err := r.store.Set(ctx, AnonymousIDKey, strconv.FormatInt(id, 10)); err != nil {
		return 0, fmt.Errorf("identity: persist anonymous id: %w", err)
	}
	return id, nil
}

// Resolve returns telegramData when running inside Telegram; otherwise a synthetic
// "web" identity keyed by the anonymous id.
func (r *Resolver) Resolve(ctx context.Context, telegramData *domain.WebAppData) (domain.WebAppData, error) {
	if telegramData != nil {
		return *telegramData, nil
	}
	id, err := r.AnonymousID(ctx)
	if err != nil {
		return domain.WebAppData{}, err
	}
	s := strconv.FormatInt(id, 10)
	return domain.WebAppData{
		AuthDate: r.now().UnixMilli(),
		User: &domain.WebAppUser{
			ID:        id,
			FirstName: s,
		},
		Platform: domain.PlatformWeb,
	}, nil
}
