package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const lockShards = 256

// Config tunes lineage policy.
type Config struct {
	// MaxLineageDepth caps the number of rotations of one lineage; 0 means unlimited.
	MaxLineageDepth int
	// RequireDeviceFingerprint rejects session creation without a fingerprint.
	RequireDeviceFingerprint bool
	// BindDevice rejects rotation when the presented fingerprint differs from
	// the one recorded at login.
	BindDevice bool
	Now        func() time.Time
}

// Ledger implements session creation, rotation with reuse detection, and
// revocation on top of a [Store].
//
// Rotation of a given session ID is serialized in-process by a sharded
// mutex; across processes the Store's versioned Swap guarantees a single
// winner.
type Ledger struct {
	store  Store
	config Config
	now    func() time.Time
	locks  [lockShards]sync.Mutex
}

// NewLedger returns a Ledger over store.
func NewLedger(store Store, cfg Config) *Ledger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, config: cfg, now: now}
}

// NewSessionID mints a session ID.
func (l *Ledger) NewSessionID() string {
	return uuid.NewString()
}

func (l *Ledger) lockFor(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &l.locks[h.Sum32()%lockShards]
}

// CreateSession records the root of a new lineage.
func (l *Ledger) CreateSession(ctx context.Context, ns NewSession) (*Record, error) {
	if ns.ID == "" || ns.IdentityID == "" {
		return nil, errors.New("session: ID and identity are required")
	}
	if l.config.RequireDeviceFingerprint && ns.DeviceFingerprint == "" {
		return nil, ErrFingerprintRequired
	}
	now := l.now()
	if !ns.ExpiresAt.After(now) {
		return nil, errors.New("session: expiry must be in the future")
	}

	rec := &Record{
		ID:                ns.ID,
		IdentityID:        ns.IdentityID,
		DeviceFingerprint: ns.DeviceFingerprint,
		RefreshHash:       ns.RefreshHash,
		RootID:            ns.ID,
		IssuedAt:          now,
		ExpiresAt:         ns.ExpiresAt,
		Version:           1,
	}
	if err := l.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Rotate redeems the refresh token whose hash is req.PresentedHash and
// returns the child record bound to req.Next.
//
// A presented hash that does not match an active record, or that matches a
// record already redeemed, is treated as token theft: every record of the
// lineage is revoked and ErrTokenReuseDetected is returned.
func (l *Ledger) Rotate(ctx context.Context, req RotateRequest) (*Record, error) {
	if req.SessionID == "" || req.Next.ID == "" {
		return nil, errors.New("session: rotate requires session and successor IDs")
	}

	mu := l.lockFor(req.SessionID)
	mu.Lock()
	defer mu.Unlock()

	now := l.now()
	rec, err := l.store.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	matches := subtle.ConstantTimeCompare(rec.RefreshHash[:], req.PresentedHash[:]) == 1
	if rec.Revoked {
		if rec.RevokeReason == ReasonRotated && matches {
			return nil, l.tearDown(ctx, rec, now)
		}
		return nil, ErrSessionRevoked
	}
	if !matches {
		return nil, l.tearDown(ctx, rec, now)
	}
	if rec.Expired(now) {
		return nil, ErrSessionExpired
	}
	if l.config.BindDevice && rec.DeviceFingerprint != "" &&
		subtle.ConstantTimeCompare([]byte(rec.DeviceFingerprint), []byte(req.DeviceFingerprint)) != 1 {
		return nil, ErrDeviceMismatch
	}
	if l.config.MaxLineageDepth > 0 && rec.Generation >= l.config.MaxLineageDepth {
		return nil, ErrLineageExhausted
	}
	if !req.Next.ExpiresAt.After(now) {
		return nil, errors.New("session: successor expiry must be in the future")
	}

	parent := rec.Clone()
	parent.Revoked = true
	parent.RevokedAt = now
	parent.RevokeReason = ReasonRotated
	parent.RotatedAt = now
	parent.Version = rec.Version + 1

	child := &Record{
		ID:                req.Next.ID,
		IdentityID:        rec.IdentityID,
		DeviceFingerprint: rec.DeviceFingerprint,
		RefreshHash:       req.Next.RefreshHash,
		ParentID:          rec.ID,
		RootID:            rec.RootID,
		Generation:        rec.Generation + 1,
		IssuedAt:          now,
		ExpiresAt:         req.Next.ExpiresAt,
		Version:           1,
	}

	if err := l.store.Swap(ctx, parent, rec.Version, child); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Another process redeemed or revoked the record first.
			return nil, ErrSessionRevoked
		}
		return nil, err
	}
	return child.Clone(), nil
}

func (l *Ledger) tearDown(ctx context.Context, rec *Record, now time.Time) error {
	if _, err := l.revokeRoot(ctx, rec.RootID, rec.ID, ReasonReuse, now); err != nil {
		return errors.Join(ErrTokenReuseDetected, fmt.Errorf("revoke lineage %s: %w", rec.RootID, err))
	}
	return ErrTokenReuseDetected
}

func (l *Ledger) revokeRoot(ctx context.Context, rootID, knownID string, reason RevokeReason, now time.Time) (int, error) {
	members, err := l.store.ListByRoot(ctx, rootID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(members)+1)
	seen := make(map[string]struct{}, len(members)+1)
	for _, m := range members {
		if _, dup := seen[m.ID]; dup || m.Revoked {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	if _, ok := seen[knownID]; !ok && knownID != "" {
		ids = append(ids, knownID)
	}
	return l.store.RevokeMany(ctx, ids, reason, now)
}

// Revoke revokes a single record. Unknown or already revoked IDs are not an error.
func (l *Ledger) Revoke(ctx context.Context, sessionID string, reason RevokeReason) error {
	if sessionID == "" {
		return nil
	}
	mu := l.lockFor(sessionID)
	mu.Lock()
	defer mu.Unlock()

	_, err := l.store.RevokeMany(ctx, []string{sessionID}, reason, l.now())
	return err
}

// RevokeLineage revokes every record sharing the lineage of sessionID and
// returns how many records changed.
func (l *Ledger) RevokeLineage(ctx context.Context, sessionID string, reason RevokeReason) (int, error) {
	rec, err := l.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return l.revokeRoot(ctx, rec.RootID, rec.ID, reason, l.now())
}

// RevokeAll revokes every record of an identity and returns how many changed.
func (l *Ledger) RevokeAll(ctx context.Context, identityID string, reason RevokeReason) (int, error) {
	records, err := l.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if !rec.Revoked {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return l.store.RevokeMany(ctx, ids, reason, l.now())
}

// IsActive reports whether sessionID names an unrevoked, unexpired record.
func (l *Ledger) IsActive(ctx context.Context, sessionID string) (bool, error) {
	rec, err := l.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.Active(l.now()), nil
}

// Get returns the record for sessionID or ErrSessionNotFound.
func (l *Ledger) Get(ctx context.Context, sessionID string) (*Record, error) {
	rec, err := l.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	return rec, err
}

// ListActive returns the redeemable records of an identity.
func (l *Ledger) ListActive(ctx context.Context, identityID string) ([]*Record, error) {
	records, err := l.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	active := records[:0]
	for _, rec := range records {
		if rec.Active(now) {
			active = append(active, rec)
		}
	}
	return active, nil
}

// Purge deletes records whose refresh lifetime has elapsed.
func (l *Ledger) Purge(ctx context.Context) (int, error) {
	return l.store.DeleteExpired(ctx, l.now())
}

// Ping reports store availability.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
