package models

import "time"

// SignupRequest registers a new account.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginRequest holds credentials for authenticating an account.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest exchanges a refresh credential for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest revokes the session behind a refresh credential.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// AccountInfo describes the authenticated account in responses.
type AccountInfo struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	Verified bool   `json:"verified"`
}

// TokenPairResponse returns freshly issued credentials.
type TokenPairResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Account      *AccountInfo `json:"account,omitempty"`
}
