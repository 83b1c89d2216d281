package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskora/taskora-api/internal/models"
)

// ErrSessionConsumed signals that the conditional revoke during rotation
// matched no row: the session was already rotated, revoked, or expired.
var ErrSessionConsumed = errors.New("session already rotated, revoked, or expired")

// SessionRepository provides database access for refresh-credential records.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO sessions (id, account_id, token_hash, expires_at, created_at, revoked_at) VALUES (:id, :account_id, :token_hash, :expires_at, :created_at, :revoked_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByTokenHash returns a session by the hash of its refresh credential.
func (r *SessionRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	const query = `SELECT id, account_id, token_hash, expires_at, created_at, revoked_at FROM sessions WHERE token_hash = $1 LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, tokenHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by token hash: %w", err)
	}
	return &session, nil
}

// Revoke marks a still-active session as revoked. It reports whether a row
// was actually revoked; revoking an already-inactive session is a no-op.
func (r *SessionRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) (bool, error) {
	const query = `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`
	res, err := r.db.ExecContext(ctx, query, id, revokedAt)
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke session: %w", err)
	}
	return affected == 1, nil
}

// Rotate atomically supersedes one session with another. The revoke is a
// single conditional update, so two concurrent rotations of the same session
// produce exactly one winner; the loser gets ErrSessionConsumed.
func (r *SessionRepository) Rotate(ctx context.Context, oldID string, rotatedAt time.Time, next *models.Session) error {
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = rotatedAt
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const revokeQuery = `UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2`
	res, err := tx.ExecContext(ctx, revokeQuery, oldID, rotatedAt)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}
	if affected != 1 {
		return ErrSessionConsumed
	}

	const insertQuery = `INSERT INTO sessions (id, account_id, token_hash, expires_at, created_at, revoked_at) VALUES (:id, :account_id, :token_hash, :expires_at, :created_at, :revoked_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, next); err != nil {
		return fmt.Errorf("rotate session insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// RevokeAllForAccount revokes every active session owned by the account.
func (r *SessionRepository) RevokeAllForAccount(ctx context.Context, accountID string, revokedAt time.Time) error {
	const query = `UPDATE sessions SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, accountID, revokedAt); err != nil {
		return fmt.Errorf("revoke account sessions: %w", err)
	}
	return nil
}

// DeleteExpiredBefore garbage-collects sessions whose expiry is older than
// the cutoff. Rotated and revoked rows are kept until they age out too.
func (r *SessionRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return affected, nil
}
