package repository

import (
	"context"      // deadlines and cancellation for SQL calls
	"database/sql" // MySQL access through the go-sql-driver/mysql driver
	"errors"       // matching sql.ErrNoRows
	"time"         // expiry and update timestamps
)

// SessionsSchema creates the single-slot session table. user_id is the
// primary key, so each user owns at most one row.
const SessionsSchema = `CREATE TABLE IF NOT EXISTS sessions (
	user_id    VARCHAR(64) NOT NULL PRIMARY KEY,
	token_hash CHAR(64)    NOT NULL,
	expires_at DATETIME    NOT NULL,
	updated_at DATETIME    NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// SessionRepo persists the current refresh token hash per user in MySQL.
// Only the SHA-256 digest of the token is ever written; the raw token lives
// in the client's cookie or request body. Each user has exactly one row, so
// issuing a new refresh token implicitly revokes the previous one. Now is
// overridable in tests.
type SessionRepo struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewSessionRepo returns a SessionRepo over db using the wall clock.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db, Now: time.Now} }

// SetRefreshToken upserts the user's slot; the last write wins. An empty
// tokenHash clears the slot.
func (r *SessionRepo) SetRefreshToken(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	if tokenHash == "" {
		return r.ClearRefreshToken(ctx, userID)
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO sessions (user_id, token_hash, expires_at, updated_at) VALUES (?,?,?,?) "+
			"ON DUPLICATE KEY UPDATE token_hash=VALUES(token_hash), expires_at=VALUES(expires_at), updated_at=VALUES(updated_at)",
		userID, tokenHash, exp.UTC(), r.now())
	return err
}

// GetRefreshToken returns the stored hash, or "" when the slot is empty or
// its expiry has passed. Expired rows are left in place; the next login
// overwrites them. A driver error is returned as-is so the caller can log
// it and answer with a generic failure.
func (r *SessionRepo) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	var (
		tokenHash string
		expiresAt time.Time
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT token_hash, expires_at FROM sessions WHERE user_id=? LIMIT 1",
		userID).Scan(&tokenHash, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !r.now().Before(expiresAt) {
		return "", nil
	}
	return tokenHash, nil
}

// ClearRefreshToken removes the user's slot. Clearing an empty slot is not
// an error.
func (r *SessionRepo) ClearRefreshToken(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE user_id=?", userID)
	return err
}

func (r *SessionRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}
