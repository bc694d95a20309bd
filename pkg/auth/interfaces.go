// Package auth provides authentication and authorization functionality.
package auth

import (
	"errors"
	"time"
)

// Errors returned by account services
var (
	ErrInvalidCredentials = errors.New("authentication failed")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("invalid username")
)

// AccountService manages accounts and authentication
type AccountService interface {
	// Authenticate verifies credentials and returns the account
	Authenticate(username, password string) (Account, error)

	// ValidateToken verifies a bearer token (JWT or API token) and returns the account
	ValidateToken(token string) (Account, error)

	// CreateAccount creates a new account and returns its ID
	CreateAccount(username, password string) (string, error)

	// GetAccount retrieves account information
	GetAccount(accountID string) (Account, error)

	// Login verifies credentials and issues a session token
	Login(username, password string) (string, Account, error)
}

// Account represents a user of the studio
type Account struct {
	// ID of the account
	ID string `json:"id"`

	// Username for the account; also names the user's vector index
	Username string `json:"username"`

	// PasswordHash is the hashed password (not exposed via API)
	PasswordHash string `json:"-"`

	// APIToken for authentication
	APIToken string `json:"-"`

	// CreatedAt is when the account was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the account was last updated
	UpdatedAt time.Time `json:"updated_at"`
}
