package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskora/taskora-api/internal/models"
)

func TestSessionCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.Session{AccountID: "acct-1", TokenHash: "hash", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.Create(context.Background(), session)
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionFindByTokenHash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "account_id", "token_hash", "expires_at", "created_at", "revoked_at"}).
		AddRow("s1", "acct-1", "hash", now.Add(time.Hour), now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id, token_hash, expires_at, created_at, revoked_at FROM sessions WHERE token_hash = $1 LIMIT 1")).
		WithArgs("hash").
		WillReturnRows(rows)

	session, err := repo.FindByTokenHash(context.Background(), "hash")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", session.AccountID)
	assert.Nil(t, session.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRevoke(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL AND expires_at > $2")).
		WithArgs("s1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	revoked, err := repo.Revoke(context.Background(), "s1", at)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRevokeAlreadyInactive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WithArgs("s1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	revoked, err := repo.Revoke(context.Background(), "s1", at)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRotate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WithArgs("old", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next := &models.Session{AccountID: "acct-1", TokenHash: "newhash", ExpiresAt: at.Add(time.Hour)}
	err := repo.Rotate(context.Background(), "old", at, next)
	require.NoError(t, err)
	assert.NotEmpty(t, next.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRotateConsumed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WithArgs("old", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	next := &models.Session{AccountID: "acct-1", TokenHash: "newhash", ExpiresAt: at.Add(time.Hour)}
	err := repo.Rotate(context.Background(), "old", at, next)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionConsumed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRevokeAllForAccount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET revoked_at = $2 WHERE account_id = $1 AND revoked_at IS NULL")).
		WithArgs("acct-1", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := repo.RevokeAllForAccount(context.Background(), "acct-1", at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionDeleteExpiredBefore(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	deleted, err := repo.DeleteExpiredBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
