package usermap

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.GetByExternalID when no user carries
// the external identity key.
var ErrNotFound = errors.New("user not found")

// Store persists local users keyed by their provider identity.
// Implementations must enforce uniqueness of ExternalID.
type Store interface {
	// GetByExternalID returns the user for the provider identity key,
	// including soft-deleted and disabled users. ErrNotFound when absent.
	GetByExternalID(ctx context.Context, externalID string) (*User, error)

	// Create persists a new user and returns it with its assigned ID.
	Create(ctx context.Context, u *User) (*User, error)

	// Update persists changed attributes of an existing user.
	Update(ctx context.Context, u *User) error
}
