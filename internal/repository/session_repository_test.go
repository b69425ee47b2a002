package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newSessionRepoMock(t *testing.T) (*SessionRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SessionRepo{DB: db, Now: func() time.Time { return fixedNow }}, mock
}

func TestSessionRepo_SetRefreshToken_Upserts(t *testing.T) {
	repo, mock := newSessionRepoMock(t)
	exp := fixedNow.Add(24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions (user_id, token_hash, expires_at, updated_at) VALUES (?,?,?,?) ON DUPLICATE KEY UPDATE")).
		WithArgs("u1", "hash-1", exp, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetRefreshToken(context.Background(), "u1", "hash-1", exp))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_SetRefreshToken_EmptyClears(t *testing.T) {
	repo, mock := newSessionRepoMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE user_id=?")).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetRefreshToken(context.Background(), "u1", "", time.Time{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepo_GetRefreshToken(t *testing.T) {
	query := regexp.QuoteMeta("SELECT token_hash, expires_at FROM sessions WHERE user_id=? LIMIT 1")

	t.Run("live slot", func(t *testing.T) {
		repo, mock := newSessionRepoMock(t)
		mock.ExpectQuery(query).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"token_hash", "expires_at"}).AddRow("hash-1", fixedNow.Add(time.Hour)))

		got, err := repo.GetRefreshToken(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "hash-1", got)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("expired slot reads as empty", func(t *testing.T) {
		repo, mock := newSessionRepoMock(t)
		mock.ExpectQuery(query).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"token_hash", "expires_at"}).AddRow("hash-1", fixedNow))

		got, err := repo.GetRefreshToken(context.Background(), "u1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("no row", func(t *testing.T) {
		repo, mock := newSessionRepoMock(t)
		mock.ExpectQuery(query).WithArgs("u1").WillReturnError(sql.ErrNoRows)

		got, err := repo.GetRefreshToken(context.Background(), "u1")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("driver error", func(t *testing.T) {
		repo, mock := newSessionRepoMock(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery(query).WithArgs("u1").WillReturnError(boom)

		_, err := repo.GetRefreshToken(context.Background(), "u1")
		assert.ErrorIs(t, err, boom)
	})
}

func TestSessionRepo_ClearRefreshToken_Idempotent(t *testing.T) {
	repo, mock := newSessionRepoMock(t)
	del := regexp.QuoteMeta("DELETE FROM sessions WHERE user_id=?")
	mock.ExpectExec(del).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(del).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.ClearRefreshToken(context.Background(), "u1"))
	require.NoError(t, repo.ClearRefreshToken(context.Background(), "u1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
