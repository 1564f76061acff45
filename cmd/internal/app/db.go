package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Timeout applied to the startup connectivity check and to /readyz pings.
const dbPingTimeout = 3 * time.Second

// NewDBPool builds the pgx pool shared by the chat-history and account
// stores. The pool stays schema-agnostic: the stores qualify their queries
// with the "loom" schema themselves, and the tables are managed outside the
// server (no migrations run here).
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	// Fail startup on an unreachable database rather than at the first
	// conversation load.
	if err := PingDB(ctx, pool, dbPingTimeout); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// PingDB reports whether a connection can be acquired within timeout.
// Backs the /readyz probe when the server runs against Postgres.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
