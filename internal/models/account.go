package models

import "time"

// Role represents the account role flag.
type Role string

const (
	RoleStandard Role = "STANDARD"
	RoleAdmin    Role = "ADMIN"
)

// Account represents a registered account stored in the accounts table.
// Email uniqueness is enforced by a unique index at the storage layer.
type Account struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         Role      `db:"role" json:"role"`
	Verified     bool      `db:"verified" json:"verified"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
