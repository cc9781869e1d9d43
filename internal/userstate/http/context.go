// Package http provides the trusted-gateway identity middleware backed by the
// user-state cache.
package http

import (
	"context"

	"github.com/google/uuid"
)

// Identity is the caller identity resolved from gateway headers and verified
// against the user-state cache.
type Identity struct {
	UserID     uuid.UUID
	Roles      []string
	AuthMethod string
}

// identityKey is a context key type for storing the resolved identity.
type identityKey struct{}

// WithIdentity stores a resolved identity in the context.
// This is typically called by the identity middleware after verification.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// GetIdentity retrieves the resolved identity from the context.
// Returns (identity, true) if present, or (nil, false) if no identity was set.
func GetIdentity(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok
}
