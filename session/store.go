package session

import (
	"context"
	"time"
)

// Store persists session records. Implementations must be safe for
// concurrent use and must return copies, never shared pointers.
type Store interface {
	// Create inserts a new record. It fails with ErrAlreadyExists for a
	// duplicate ID.
	Create(ctx context.Context, rec *Record) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Swap replaces parent with the given state if its stored version still
	// equals expectedVersion and, in the same atomic step, inserts child
	// (which may be nil). It fails with ErrVersionConflict otherwise.
	Swap(ctx context.Context, parent *Record, expectedVersion int64, child *Record) error
	// RevokeMany marks the listed records revoked. Already revoked or
	// missing records are skipped. It returns how many records changed.
	RevokeMany(ctx context.Context, ids []string, reason RevokeReason, at time.Time) (int, error)
	// ListByIdentity returns every stored record of an identity.
	ListByIdentity(ctx context.Context, identityID string) ([]*Record, error)
	// ListByRoot returns every stored record of a lineage.
	ListByRoot(ctx context.Context, rootID string) ([]*Record, error)
	// DeleteExpired removes records whose ExpiresAt is before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
	// Ping reports backend availability.
	Ping(ctx context.Context) error
}
