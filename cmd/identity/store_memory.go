package identity

import (
	"context"
	"sync"
)

// InMemoryStore is a dev/test account Store.
type InMemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
}

// NewInMemoryStore constructs an in-memory Store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{accounts: make(map[string]Account)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Create inserts a new account; ErrExists if the username is taken.
func (s *InMemoryStore) Create(ctx context.Context, a Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.Username]; ok {
		return ErrExists
	}
	s.accounts[a.Username] = a
	return nil
}

// Get returns the account for a username; ErrNotFound if absent.
func (s *InMemoryStore) Get(ctx context.Context, username string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

// SetAutoLoginToken replaces the stored token for a username.
func (s *InMemoryStore) SetAutoLoginToken(ctx context.Context, username, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[username]
	if !ok {
		return ErrNotFound
	}
	a.AutoLoginToken = token
	s.accounts[username] = a
	return nil
}

// FindByAutoLoginToken returns the account holding token; ErrNotFound otherwise.
func (s *InMemoryStore) FindByAutoLoginToken(ctx context.Context, token string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if token == "" {
		return Account{}, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.AutoLoginToken == token {
			return a, nil
		}
	}
	return Account{}, ErrNotFound
}
