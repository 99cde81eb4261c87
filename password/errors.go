package password

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHash is returned for an encoded hash that cannot be parsed.
	ErrInvalidHash = errors.New("password: invalid hash")
	// ErrUnverifiableHash is returned for legacy hashes that cannot be checked.
	ErrUnverifiableHash = fmt.Errorf("%w: legacy digest cannot be verified", ErrInvalidHash)
	// ErrTooShort is returned by Hash for passwords under the minimum length.
	ErrTooShort = errors.New("password: too short")
)
