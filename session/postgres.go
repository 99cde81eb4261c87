package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// DB is the subset of *pgxpool.Pool used by [PostgresStore].
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] over the auth_sessions table. Swap runs the
// parent update and the child insert in one transaction; the update is
// conditioned on the version read by the caller.
type PostgresStore struct {
	db DB
}

// NewPostgresStore returns a PostgresStore using db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, identity_id, device_fingerprint, refresh_hash, COALESCE(parent_id, ''), root_id,
	generation, issued_at, rotated_at, expires_at, revoked, revoked_at, revoke_reason, version`

const insertRecordSQL = `INSERT INTO auth_sessions (id, identity_id, device_fingerprint, refresh_hash, parent_id, root_id,
	generation, issued_at, rotated_at, expires_at, revoked, revoked_at, revoke_reason, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func insertArgs(rec *Record) []any {
	return []any{
		rec.ID, rec.IdentityID, rec.DeviceFingerprint, rec.RefreshHash[:], nullString(rec.ParentID), rec.RootID,
		rec.Generation, rec.IssuedAt, nullTime(rec.RotatedAt), rec.ExpiresAt,
		rec.Revoked, nullTime(rec.RevokedAt), string(rec.RevokeReason), rec.Version,
	}
}

// pgFailure marks err as transient unless it is a constraint violation.
func pgFailure(code string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) {
		return oops.Code(code).With("sqlstate", pgErr.Code).Wrap(err)
	}
	return oops.Code(code).Wrap(fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec       Record
		hash      []byte
		reason    string
		rotatedAt *time.Time
		revokedAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.IdentityID, &rec.DeviceFingerprint, &hash, &rec.ParentID, &rec.RootID,
		&rec.Generation, &rec.IssuedAt, &rotatedAt, &rec.ExpiresAt,
		&rec.Revoked, &revokedAt, &reason, &rec.Version,
	)
	if err != nil {
		return nil, err
	}
	if len(hash) != len(rec.RefreshHash) {
		return nil, oops.Code("SESSION_CORRUPT").With("session_id", rec.ID).Errorf("refresh hash has %d bytes", len(hash))
	}
	copy(rec.RefreshHash[:], hash)
	if rotatedAt != nil {
		rec.RotatedAt = *rotatedAt
	}
	if revokedAt != nil {
		rec.RevokedAt = *revokedAt
	}
	rec.RevokeReason = RevokeReason(reason)
	return &rec, nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	if _, err := s.db.Exec(ctx, insertRecordSQL, insertArgs(rec)...); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return pgFailure("SESSION_CREATE_FAILED", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM auth_sessions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, pgFailure("SESSION_GET_FAILED", err)
	}
	return rec, nil
}

// Swap implements [Store].
func (s *PostgresStore) Swap(ctx context.Context, parent *Record, expectedVersion int64, child *Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return pgFailure("SESSION_SWAP_FAILED", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	tag, err := tx.Exec(ctx, `UPDATE auth_sessions
		SET refresh_hash = $2, rotated_at = $3, revoked = $4, revoked_at = $5, revoke_reason = $6, version = $7
		WHERE id = $1 AND version = $8`,
		parent.ID, parent.RefreshHash[:], nullTime(parent.RotatedAt), parent.Revoked,
		nullTime(parent.RevokedAt), string(parent.RevokeReason), parent.Version, expectedVersion)
	if err != nil {
		return pgFailure("SESSION_SWAP_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if child != nil {
		if _, err := tx.Exec(ctx, insertRecordSQL, insertArgs(child)...); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return pgFailure("SESSION_SWAP_FAILED", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return pgFailure("SESSION_SWAP_FAILED", err)
	}
	return nil
}

// RevokeMany implements [Store].
func (s *PostgresStore) RevokeMany(ctx context.Context, ids []string, reason RevokeReason, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `UPDATE auth_sessions
		SET revoked = TRUE, revoked_at = $2, revoke_reason = $3, version = version + 1
		WHERE id = ANY($1) AND NOT revoked`, ids, at, string(reason))
	if err != nil {
		return 0, pgFailure("SESSION_REVOKE_FAILED", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByIdentity implements [Store].
func (s *PostgresStore) ListByIdentity(ctx context.Context, identityID string) ([]*Record, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM auth_sessions WHERE identity_id = $1 ORDER BY issued_at`, identityID)
}

// ListByRoot implements [Store].
func (s *PostgresStore) ListByRoot(ctx context.Context, rootID string) ([]*Record, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM auth_sessions WHERE root_id = $1 ORDER BY generation`, rootID)
}

func (s *PostgresStore) list(ctx context.Context, query, arg string) ([]*Record, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, pgFailure("SESSION_LIST_FAILED", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pgFailure("SESSION_LIST_FAILED", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pgFailure("SESSION_LIST_FAILED", err)
	}
	return out, nil
}

// DeleteExpired implements [Store].
func (s *PostgresStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, pgFailure("SESSION_PURGE_FAILED", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return pgFailure("SESSION_PING_FAILED", err)
	}
	return nil
}
