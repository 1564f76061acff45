// Package app wires the loom server runtime: config, logging, HTTP routes,
// persistence, and the chat gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"loom/cmd/identity"
	"loom/cmd/internal/chat"
	"loom/cmd/internal/genai"
	"loom/cmd/internal/history"
)

// stores bundles the persistence backends behind one lifecycle handle.
//
// Ownership model:
// - app owns the pgx pool (when configured); the Postgres stores never close it
// - in embedded mode each bolt store owns its own file
type stores struct {
	history  history.Store
	accounts identity.Store
	pool     *pgxpool.Pool
}

func (s stores) Close(_ context.Context) error {
	if s.history != nil {
		_ = s.history.Close()
	}
	if s.accounts != nil {
		_ = s.accounts.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// App is the loom server runtime: it owns HTTP server wiring and the chat
// gateway dependencies.
type App struct {
	cfg Config
	log Logger

	st        stores
	dbEnabled bool

	repo     *history.Repository
	accounts *identity.Service
	ws       *chat.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbEnabled, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	repo := history.NewRepository(st.history)
	accounts := identity.NewService(log, st.accounts, cfg.VersionSalt)

	client, err := genai.NewClient(genai.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.GenAIBaseURL,
		StaticModels:      cfg.StaticModels,
		SystemInstruction: cfg.SystemInstruction,
		RequestTimeout:    cfg.GenAITimeout,
	})
	if err != nil {
		_ = st.Close(context.Background())
		return nil, err
	}

	ws := chat.NewGateway(log, accounts, repo, client)

	return &App{
		cfg:       cfg,
		log:       log,
		st:        st,
		dbEnabled: dbEnabled,
		repo:      repo,
		accounts:  accounts,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.st.pool, a.dbEnabled, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 30*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.st.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and embedded bolt files.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.embedded_store", "dir", cfg.DataDir)

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return stores{}, false, err
		}

		hs, err := history.NewBoltStore(filepath.Join(cfg.DataDir, "chats.db"))
		if err != nil {
			return stores{}, false, err
		}
		as, err := identity.NewBoltStore(filepath.Join(cfg.DataDir, "accounts.db"))
		if err != nil {
			_ = hs.Close()
			return stores{}, false, err
		}
		return stores{history: hs, accounts: as}, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, false, err
	}

	log.Info("db.enabled.postgres_store")

	hs, err := history.NewPostgresStore(pool) // default schema "loom"
	if err != nil {
		pool.Close()
		return stores{}, false, err
	}
	as, err := identity.NewPostgresStore(pool, "loom")
	if err != nil {
		pool.Close()
		return stores{}, false, err
	}

	return stores{history: hs, accounts: as, pool: pool}, true, nil
}
