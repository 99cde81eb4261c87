package rate

import (
	"context"
	"time"
)

// Policy bounds the attempts a key may record in any span of Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) validate() error {
	if p.Limit <= 0 || p.Window <= 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// Decision is the outcome of [Limiter.Admit].
type Decision struct {
	// Allowed reports whether the attempt fits in the window. For a cost of
	// zero it reports whether one more attempt would fit.
	Allowed bool
	// RetryAfter is how long until enough recorded attempts leave the
	// window for the attempt to fit. Zero when Allowed.
	RetryAfter time.Duration
	// Count is the number of attempts in the window after this call.
	Count int
}

// Limiter records attempts against keys.
type Limiter interface {
	// Admit records cost attempts against key if they fit in the window
	// ending now. A denied attempt is not recorded. A cost of zero records
	// nothing.
	Admit(ctx context.Context, key string, cost int) (Decision, error)
	// Reset clears key.
	Reset(ctx context.Context, key string) error
	// Flush clears every key.
	Flush(ctx context.Context) error
}

// slide decides cost more attempts against hits, the live attempt times of
// a key in ascending order. Count is len(hits); callers add cost when the
// attempt is recorded.
func slide(p Policy, hits []time.Time, cost int, now time.Time) Decision {
	need := cost
	if need <= 0 {
		need = 1
	}
	d := Decision{Count: len(hits), Allowed: len(hits)+need <= p.Limit}
	if d.Allowed {
		return d
	}
	// The attempt fits once the hit at idx leaves the window.
	idx := len(hits) + need - p.Limit - 1
	if idx >= len(hits) {
		d.RetryAfter = p.Window
		return d
	}
	d.RetryAfter = hits[idx].Add(p.Window).Sub(now)
	return d
}

// LoginIdentityKey is the login counter of one identity. It does not
// include the tenant: the tenant comes from the client and must not be able
// to open a fresh budget.
func LoginIdentityKey(identityID string) string {
	return "login:id:" + identityID
}

// LoginIPKey is the login counter of one client IP.
func LoginIPKey(ip string) string {
	return "login:ip:" + ip
}

// RefreshIdentityKey is the refresh counter of one identity across all of
// its sessions and their rotations.
func RefreshIdentityKey(identityID string) string {
	return "refresh:id:" + identityID
}

// RefreshIPKey is the refresh counter of one client IP.
func RefreshIPKey(ip string) string {
	return "refresh:ip:" + ip
}
