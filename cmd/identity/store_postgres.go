package identity

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is an account Store backed by PostgreSQL, selected when a
// database URL is configured.
//
// Expected schema (managed outside the server):
//
//	CREATE TABLE loom.accounts (
//	    username         text PRIMARY KEY,
//	    password_hash    text NOT NULL,
//	    auto_login_token text
//	);
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool; Close() is a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a Postgres-backed account Store.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "loom"
	}
	return &PostgresStore{pool: pool, schema: schema}, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) table() string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{s.schema, "accounts"}.Sanitize()
}

// Create inserts a new account; a unique violation maps to ErrExists.
func (s *PostgresStore) Create(ctx context.Context, a Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (username, password_hash, auto_login_token) VALUES ($1, $2, NULLIF($3, ''))`,
		a.Username, a.PasswordHash, a.AutoLoginToken,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	}
	return nil
}

// Get returns the account for a username; ErrNotFound if absent.
func (s *PostgresStore) Get(ctx context.Context, username string) (Account, error) {
	var (
		a     Account
		token *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT username, password_hash, auto_login_token FROM `+s.table()+` WHERE username = $1`,
		username,
	).Scan(&a.Username, &a.PasswordHash, &token)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	if token != nil {
		a.AutoLoginToken = *token
	}
	return a, nil
}

// SetAutoLoginToken replaces the stored token for a username.
func (s *PostgresStore) SetAutoLoginToken(ctx context.Context, username, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET auto_login_token = $2 WHERE username = $1`,
		username, token,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByAutoLoginToken returns the account holding token; ErrNotFound otherwise.
func (s *PostgresStore) FindByAutoLoginToken(ctx context.Context, token string) (Account, error) {
	if token == "" {
		return Account{}, ErrNotFound
	}

	var a Account
	err := s.pool.QueryRow(ctx,
		`SELECT username, password_hash, auto_login_token FROM `+s.table()+` WHERE auto_login_token = $1`,
		token,
	).Scan(&a.Username, &a.PasswordHash, &a.AutoLoginToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}
