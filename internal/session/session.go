// Package session resolves opaque session tokens to user identities.
// Token issuance belongs to the credential store; this package only
// consumes it.
package session

import (
	"context"
	"errors"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/domain"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
)

// ErrUnauthenticated is returned for missing, unknown, and expired
// session tokens alike; callers cannot distinguish which.
var ErrUnauthenticated = errors.New("unknown or expired session")

// Store is the slice of the job store the resolver needs.
type Store interface {
	GetSession(ctx context.Context, token string) (domain.User, error)
}

// Resolver authenticates session tokens against the session table.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver backed by the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the user behind a live session token.
func (r *Resolver) Resolve(ctx context.Context, token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, ErrUnauthenticated
	}
	user, err := r.store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUnauthenticated
	}
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}
