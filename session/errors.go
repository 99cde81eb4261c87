package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when no record exists for a session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked is returned when a revoked record is redeemed.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionExpired is returned when an expired record is redeemed.
	ErrSessionExpired = fmt.Errorf("%w: expired", ErrSessionRevoked)
	// ErrLineageExhausted is returned when a lineage reached its configured depth.
	ErrLineageExhausted = fmt.Errorf("%w: lineage depth exhausted", ErrSessionRevoked)
	// ErrTokenReuseDetected is returned when a refresh token that no longer
	// matches its record is presented. The whole lineage is revoked first.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrDeviceMismatch is returned when device binding is enabled and the
	// presented fingerprint differs from the recorded one.
	ErrDeviceMismatch = errors.New("device fingerprint mismatch")
	// ErrFingerprintRequired is returned when a session is created without a
	// fingerprint while fingerprints are mandatory.
	ErrFingerprintRequired = errors.New("device fingerprint required")

	// ErrNotFound is the store-level miss.
	ErrNotFound = errors.New("session record not found")
	// ErrAlreadyExists is returned by Store.Create for a duplicate ID.
	ErrAlreadyExists = errors.New("session record already exists")
	// ErrVersionConflict is returned by Store.Swap when the parent changed
	// since it was read.
	ErrVersionConflict = errors.New("session record version conflict")
	// ErrStoreUnavailable wraps transient backend failures.
	ErrStoreUnavailable = errors.New("session store unavailable")
)
