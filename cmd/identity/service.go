package identity

import (
	"context"
	"errors"
	"log/slog"
)

// Response messages. Authentication failures keep a constant shape: login
// never distinguishes "unknown user" from "wrong password". The two
// auto-login failures are deliberately distinct so a client can tell a
// stale token apart from garbage.
const (
	msgEmptyCredentials  = "username or password is empty"
	msgInvalidCharacters = "only letters and digits are allowed"
	msgUsernameTaken     = "username is already taken"
	msgRegistered        = "registration complete"
	msgLoginFailed       = "login failed"
	msgTokenInvalid      = "auto-login failed: invalid token"
	msgTokenVersionStale = "auto-login failed: version mismatch"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the status/message pair returned to the transport layer.
type Result struct {
	Status  string
	Message string

	// Set on successful login / auto-login.
	Username       string
	AutoLoginToken string
}

// Service implements registration and both login paths over a Store.
type Service struct {
	log         *slog.Logger
	store       Store
	versionSalt string
}

// NewService constructs an identity Service.
func NewService(log *slog.Logger, store Store, versionSalt string) *Service {
	return &Service{log: log, store: store, versionSalt: versionSalt}
}

// Register creates a new account. Validation failures and duplicate
// usernames report as status=error with a caller-facing message.
func (s *Service) Register(ctx context.Context, username, password string) (Result, error) {
	if username == "" || password == "" {
		return Result{Status: StatusError, Message: msgEmptyCredentials}, nil
	}
	if !ValidCredential(username) || !ValidCredential(password) {
		return Result{Status: StatusError, Message: msgInvalidCharacters}, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return Result{}, err
	}

	err = s.store.Create(ctx, Account{Username: username, PasswordHash: hash})
	if errors.Is(err, ErrExists) {
		return Result{Status: StatusError, Message: msgUsernameTaken}, nil
	}
	if err != nil {
		return Result{}, err
	}

	s.log.Info("identity.register", "username", username)
	return Result{Status: StatusSuccess, Message: msgRegistered}, nil
}

// Login verifies credentials and, on success, mints and persists a fresh
// auto-login token. All failures share one response shape.
func (s *Service) Login(ctx context.Context, username, password string) (Result, error) {
	fail := Result{Status: StatusError, Message: msgLoginFailed}

	acct, err := s.store.Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return fail, nil
	}
	if err != nil {
		return Result{}, err
	}

	if !VerifyPassword(password, acct.PasswordHash) {
		return fail, nil
	}

	token := AutoLoginToken(username, s.versionSalt)
	if err := s.store.SetAutoLoginToken(ctx, username, token); err != nil {
		return Result{}, err
	}

	s.log.Info("identity.login", "username", username)
	return Result{
		Status:         StatusSuccess,
		Username:       username,
		AutoLoginToken: token,
	}, nil
}

// AutoLogin validates a client-held token. An unknown token and a token that
// no longer matches the current version salt fail with distinct messages,
// both with status=error.
func (s *Service) AutoLogin(ctx context.Context, token string) (Result, error) {
	acct, err := s.store.FindByAutoLoginToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return Result{Status: StatusError, Message: msgTokenInvalid}, nil
	}
	if err != nil {
		return Result{}, err
	}

	// Recompute under the current salt; a stale token means the salt moved.
	if AutoLoginToken(acct.Username, s.versionSalt) != acct.AutoLoginToken {
		return Result{Status: StatusError, Message: msgTokenVersionStale}, nil
	}

	s.log.Info("identity.auto_login", "username", acct.Username)
	return Result{
		Status:         StatusSuccess,
		Username:       acct.Username,
		AutoLoginToken: acct.AutoLoginToken,
	}, nil
}
