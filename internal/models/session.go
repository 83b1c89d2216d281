package models

import "time"

// Session represents one issued refresh credential. Only the SHA-256 hash of
// the credential is persisted, never the raw value. A session with a non-nil
// RevokedAt or a past ExpiresAt can never mint new tokens.
type Session struct {
	ID        string     `db:"id" json:"id"`
	AccountID string     `db:"account_id" json:"account_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// Usable reports whether the session may still be exchanged for new tokens.
func (s *Session) Usable(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
