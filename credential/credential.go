// Package credential holds the identity records authcore authenticates
// against: the [Store] contract the engine depends on, plus in-memory and
// PostgreSQL implementations.
package credential

import (
	"context"
	"errors"
)

// ErrIdentityNotFound is returned by GetIdentity for an unknown ID.
var ErrIdentityNotFound = errors.New("identity not found")

// ErrUnavailable wraps transient backend failures.
var ErrUnavailable = errors.New("credential store unavailable")

// Identity is an authenticatable principal.
type Identity struct {
	ID           string
	TenantID     string
	PasswordHash string
	Locked       bool
	Disabled     bool
}

// Store verifies passwords and loads identities.
//
// VerifyPassword must return (false, nil) both for an unknown identity and
// for a wrong password, and should take comparable time in both cases.
type Store interface {
	VerifyPassword(ctx context.Context, identityID, password string) (bool, error)
	GetIdentity(ctx context.Context, identityID string) (Identity, error)
}

// Rehasher is implemented by stores that can replace a stored hash, so
// legacy or under-strength hashes are upgraded after a successful login.
type Rehasher interface {
	NeedsRehash(ctx context.Context, identityID string) (bool, error)
	SetPassword(ctx context.Context, identityID, password string) error
}
