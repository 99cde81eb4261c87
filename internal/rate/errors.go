package rate

import "errors"

var (
	// ErrUnavailable wraps backend failures. The counters fail closed: the
	// engine treats an unavailable limiter as a transient error.
	ErrUnavailable = errors.New("rate limiter unavailable")
	// ErrInvalidPolicy is returned by constructors for a non-positive limit or window.
	ErrInvalidPolicy = errors.New("rate limiter: limit and window must be positive")
)
