package token

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when the token signature does not verify
	// against any configured key, or the signing algorithm is not the configured one.
	ErrInvalidSignature = errors.New("token signature invalid")
	// ErrExpired is returned when the token expiry (plus leeway) has passed.
	ErrExpired = errors.New("token expired")
	// ErrMalformedToken is returned when the token cannot be decoded or carries
	// an unusable claim set.
	ErrMalformedToken = errors.New("token malformed")
	// ErrWrongKind is returned when an access token is presented where a refresh
	// token is required, or vice versa.
	ErrWrongKind = fmt.Errorf("%w: unexpected token kind", ErrMalformedToken)
	// ErrFutureIssuedAt is returned when iat lies further in the future than
	// the configured tolerance.
	ErrFutureIssuedAt = fmt.Errorf("%w: iat too far in the future", ErrMalformedToken)
)
