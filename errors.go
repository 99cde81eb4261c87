package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for an unknown identity and for a
	// wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned when the credentials verify but the
	// identity is locked.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned when the credentials verify but the
	// identity is disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrRateLimited is matched by every [*RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidToken is returned for a token that fails signature or expiry
	// checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMalformedToken is returned for a token that cannot be decoded, or
	// a token of the wrong kind.
	ErrMalformedToken = errors.New("malformed token")
	// ErrSessionRevoked is returned when a refresh token's session is
	// revoked, expired, unknown, or lost a concurrent rotation.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrTokenReuseDetected is returned when a superseded refresh token is
	// replayed. Its whole lineage has been revoked.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrDeviceMismatch is returned when device binding rejects a refresh.
	ErrDeviceMismatch = errors.New("device fingerprint mismatch")
	// ErrFingerprintRequired is returned by Login without a fingerprint when
	// fingerprints are mandatory.
	ErrFingerprintRequired = errors.New("device fingerprint required")
	// ErrUnavailable is returned when a backing store stays unreachable
	// after retries.
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned by a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// RateLimitError reports a rate-limit denial and how long to wait.
type RateLimitError struct {
	// Scope names the exhausted budget, e.g. "login:id" or "refresh:ip".
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (%s): retry after %s", e.Scope, e.RetryAfter)
}

// Unwrap lets errors.Is match [ErrRateLimited].
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter extracts the wait from a rate-limit error, or 0.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
