// Package identity owns accounts: registration, password verification, and
// version-salted auto-login tokens. It is deliberately separate from chat
// data; the account record is the only artifact it persists.
package identity

import (
	"context"
	"errors"
	"regexp"
)

// Account is the persisted credential record for one user.
// PasswordHash is a bcrypt hash; the plain password is never stored.
type Account struct {
	Username       string `json:"username"`
	PasswordHash   string `json:"password_hash"`
	AutoLoginToken string `json:"auto_login_token,omitempty"`
}

// Sentinel errors shared by all Store implementations.
var (
	ErrExists   = errors.New("identity: username already exists")
	ErrNotFound = errors.New("identity: account not found")
)

// Store is the account persistence boundary.
type Store interface {
	// Create inserts a new account. Returns ErrExists if the username is taken.
	Create(ctx context.Context, a Account) error

	// Get returns the account for a username. Returns ErrNotFound if absent.
	Get(ctx context.Context, username string) (Account, error)

	// SetAutoLoginToken replaces the stored auto-login token.
	SetAutoLoginToken(ctx context.Context, username, token string) error

	// FindByAutoLoginToken returns the account holding the given token.
	// Returns ErrNotFound if no account holds it.
	FindByAutoLoginToken(ctx context.Context, token string) (Account, error)

	Close() error
}

var credentialRE = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ValidCredential reports whether s is a non-empty alphanumeric string.
// Both usernames and passwords are restricted to this alphabet.
func ValidCredential(s string) bool {
	return credentialRE.MatchString(s)
}
