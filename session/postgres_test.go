package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordColumnNames = []string{
	"id", "identity_id", "device_fingerprint", "refresh_hash", "parent_id", "root_id",
	"generation", "issued_at", "rotated_at", "expires_at", "revoked", "revoked_at", "revoke_reason", "version",
}

func sampleRecord(now time.Time) *Record {
	return &Record{
		ID:                "s-2",
		IdentityID:        "alice",
		DeviceFingerprint: "device-1",
		RefreshHash:       hashOf("r2"),
		ParentID:          "s-1",
		RootID:            "s-1",
		Generation:        1,
		IssuedAt:          now,
		ExpiresAt:         now.Add(time.Hour),
		Version:           1,
	}
}

func TestPostgresStore_Get(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	revokedAt := now.Add(time.Minute)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		want      *Record
		wantErr   error
	}{
		{
			name: "active record",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				hash := hashOf("r2")
				rows := pgxmock.NewRows(recordColumnNames).AddRow(
					"s-2", "alice", "device-1", hash[:], "s-1", "s-1",
					1, now, (*time.Time)(nil), now.Add(time.Hour), false, (*time.Time)(nil), "", int64(1),
				)
				mock.ExpectQuery(`SELECT .+ FROM auth_sessions WHERE id = \$1`).
					WithArgs("s-2").
					WillReturnRows(rows)
			},
			want: sampleRecord(now),
		},
		{
			name: "revoked record",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				hash := hashOf("r2")
				rows := pgxmock.NewRows(recordColumnNames).AddRow(
					"s-2", "alice", "device-1", hash[:], "s-1", "s-1",
					1, now, &revokedAt, now.Add(time.Hour), true, &revokedAt, "rotated", int64(2),
				)
				mock.ExpectQuery(`SELECT .+ FROM auth_sessions WHERE id = \$1`).
					WithArgs("s-2").
					WillReturnRows(rows)
			},
			want: func() *Record {
				rec := sampleRecord(now)
				rec.Revoked = true
				rec.RevokedAt = revokedAt
				rec.RotatedAt = revokedAt
				rec.RevokeReason = ReasonRotated
				rec.Version = 2
				return rec
			}(),
		},
		{
			name: "missing record",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .+ FROM auth_sessions WHERE id = \$1`).
					WithArgs("s-2").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "connection failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .+ FROM auth_sessions WHERE id = \$1`).
					WithArgs("s-2").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			store := NewPostgresStore(mock)
			got, err := store.Get(context.Background(), "s-2")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_Create(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   error
	}{
		{
			name: "insert",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO auth_sessions`).
					WithArgs("s-2", "alice", "device-1", pgxmock.AnyArg(), "s-1", "s-1",
						1, now, nil, now.Add(time.Hour), false, nil, "", int64(1)).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "duplicate id",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO auth_sessions`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantErr: ErrAlreadyExists,
		},
		{
			name: "transient failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO auth_sessions`).
					WillReturnError(errors.New("broken pipe"))
			},
			wantErr: ErrStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			err = NewPostgresStore(mock).Create(context.Background(), sampleRecord(now))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestPostgresStore_Swap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	parent := &Record{
		ID: "s-1", IdentityID: "alice", RefreshHash: hashOf("r1"), RootID: "s-1",
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		Revoked: true, RevokedAt: now, RotatedAt: now, RevokeReason: ReasonRotated, Version: 2,
	}

	t.Run("commits parent update and child insert", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE auth_sessions`).
			WithArgs("s-1", pgxmock.AnyArg(), now, true, now, "rotated", int64(2), int64(1)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO auth_sessions`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		err = NewPostgresStore(mock).Swap(context.Background(), parent, 1, sampleRecord(now))
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version rolls back", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE auth_sessions`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		err = NewPostgresStore(mock).Swap(context.Background(), parent, 1, sampleRecord(now))
		require.ErrorIs(t, err, ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure is transient", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err = NewPostgresStore(mock).Swap(context.Background(), parent, 1, sampleRecord(now))
		require.ErrorIs(t, err, ErrStoreUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_RevokeManyAndPurge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`UPDATE auth_sessions\s+SET revoked = TRUE`).
		WithArgs([]string{"s-1", "s-2"}, now, "revoke_all").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectExec(`DELETE FROM auth_sessions WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	store := NewPostgresStore(mock)
	n, err := store.RevokeMany(context.Background(), []string{"s-1", "s-2"}, ReasonRevokeAll, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.RevokeMany(context.Background(), nil, ReasonRevokeAll, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListByRoot(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h1, h2 := hashOf("r1"), hashOf("r2")
	rows := pgxmock.NewRows(recordColumnNames).
		AddRow("s-1", "alice", "device-1", h1[:], "", "s-1",
			0, now, &now, now.Add(time.Hour), true, &now, "rotated", int64(2)).
		AddRow("s-2", "alice", "device-1", h2[:], "s-1", "s-1",
			1, now, (*time.Time)(nil), now.Add(time.Hour), false, (*time.Time)(nil), "", int64(1))
	mock.ExpectQuery(`SELECT .+ FROM auth_sessions WHERE root_id = \$1`).
		WithArgs("s-1").
		WillReturnRows(rows)

	got, err := NewPostgresStore(mock).ListByRoot(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Revoked)
	assert.Equal(t, ReasonRotated, got[0].RevokeReason)
	assert.Equal(t, "s-1", got[1].ParentID)
	assert.Equal(t, 1, got[1].Generation)
	assert.NoError(t, mock.ExpectationsWereMet())
}
