package session

import "time"

// RevokeReason records why a session record stopped being redeemable.
type RevokeReason string

const (
	// ReasonNone marks an active record.
	ReasonNone RevokeReason = ""
	// ReasonRotated marks a parent superseded by a successful refresh.
	ReasonRotated RevokeReason = "rotated"
	// ReasonLogout marks a record revoked by its holder.
	ReasonLogout RevokeReason = "logout"
	// ReasonReuse marks every record of a lineage torn down after replay of a stale token.
	ReasonReuse RevokeReason = "reuse"
	// ReasonRevokeAll marks records revoked by "log out everywhere".
	ReasonRevokeAll RevokeReason = "revoke_all"
	// ReasonAdmin marks records revoked administratively.
	ReasonAdmin RevokeReason = "admin"
)

// Record is one link of a refresh-token lineage.
type Record struct {
	ID                string
	IdentityID        string
	DeviceFingerprint string
	// RefreshHash is the SHA-256 of the refresh token currently bound to this record.
	RefreshHash [32]byte
	// ParentID is empty for the record created at login.
	ParentID string
	// RootID names the lineage: the ID of the record created at login.
	RootID       string
	Generation   int
	IssuedAt     time.Time
	RotatedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    time.Time
	RevokeReason RevokeReason
	// Version is the optimistic-lock counter, bumped by every mutation.
	Version int64
}

// Clone returns a copy safe to hand out of a store.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// Expired reports whether the record's refresh lifetime has elapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// Active reports whether the record can still be redeemed at now.
func (r *Record) Active(now time.Time) bool {
	return r != nil && !r.Revoked && !r.Expired(now)
}

// NewSession describes the record created at login.
type NewSession struct {
	ID                string
	IdentityID        string
	DeviceFingerprint string
	RefreshHash       [32]byte
	ExpiresAt         time.Time
}

// Successor describes the child record created by a rotation. Its ID must be
// minted (see [Ledger.NewSessionID]) before the refresh token is signed, since
// the token embeds it.
type Successor struct {
	ID          string
	RefreshHash [32]byte
	ExpiresAt   time.Time
}

// RotateRequest is the input of [Ledger.Rotate].
type RotateRequest struct {
	SessionID         string
	PresentedHash     [32]byte
	DeviceFingerprint string
	Next              Successor
}
