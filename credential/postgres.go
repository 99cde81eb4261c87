package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/educ8africa/authcore/password"
)

// DB is the subset of *pgxpool.Pool used by [PostgresStore].
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrIdentityExists is returned by Create for a duplicate ID.
var ErrIdentityExists = errors.New("identity already exists")

// PostgresStore is a [Store] and [Rehasher] over the identities table.
type PostgresStore struct {
	db     DB
	hasher *password.Hasher
	dummy  string
}

// NewPostgresStore returns a store over db hashing with hasher.
func NewPostgresStore(db DB, hasher *password.Hasher) (*PostgresStore, error) {
	dummy, err := hasher.Hash("unknown-identity-placeholder")
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, hasher: hasher, dummy: dummy}, nil
}

func failure(code string, err error) error {
	return oops.Code(code).Wrap(fmt.Errorf("%w: %v", ErrUnavailable, err))
}

// Create inserts an identity with the given plaintext password.
func (s *PostgresStore) Create(ctx context.Context, ident Identity, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO identities (id, tenant_id, password_hash, locked, disabled) VALUES ($1, $2, $3, $4, $5)`,
		ident.ID, ident.TenantID, hash, ident.Locked, ident.Disabled)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrIdentityExists
		}
		return failure("IDENTITY_CREATE_FAILED", err)
	}
	return nil
}

// VerifyPassword implements [Store].
func (s *PostgresStore) VerifyPassword(ctx context.Context, identityID, plaintext string) (bool, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM identities WHERE id = $1`, identityID).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, _ = s.hasher.Verify(plaintext, s.dummy)
			return false, nil
		}
		return false, failure("IDENTITY_VERIFY_FAILED", err)
	}
	return verify(s.hasher, plaintext, hash)
}

// GetIdentity implements [Store].
func (s *PostgresStore) GetIdentity(ctx context.Context, identityID string) (Identity, error) {
	var ident Identity
	err := s.db.QueryRow(ctx,
		`SELECT id, tenant_id, password_hash, locked, disabled FROM identities WHERE id = $1`, identityID).
		Scan(&ident.ID, &ident.TenantID, &ident.PasswordHash, &ident.Locked, &ident.Disabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, failure("IDENTITY_GET_FAILED", err)
	}
	return ident, nil
}

// NeedsRehash implements [Rehasher].
func (s *PostgresStore) NeedsRehash(ctx context.Context, identityID string) (bool, error) {
	ident, err := s.GetIdentity(ctx, identityID)
	if err != nil {
		return false, err
	}
	return s.hasher.NeedsUpgrade(ident.PasswordHash), nil
}

// SetPassword implements [Rehasher].
func (s *PostgresStore) SetPassword(ctx context.Context, identityID, plaintext string) error {
	hash, err := s.hasher.Hash(plaintext)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`, identityID, hash)
	if err != nil {
		return failure("IDENTITY_REHASH_FAILED", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrIdentityNotFound
	}
	return nil
}
