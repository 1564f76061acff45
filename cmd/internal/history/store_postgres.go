package history

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL, selected when a database URL
// is configured.
//
// Expected schema (managed outside the server; no migrations are run here):
//
//	CREATE TABLE loom.chat_meta (
//	    username   text NOT NULL,
//	    chat_id    text NOT NULL,
//	    title      text NOT NULL,
//	    bookmarked boolean NOT NULL DEFAULT false,
//	    PRIMARY KEY (username, chat_id)
//	);
//	CREATE TABLE loom.chat_logs (
//	    username    text NOT NULL,
//	    chat_id     text NOT NULL,
//	    display_log jsonb NOT NULL DEFAULT '[]',
//	    model_log   jsonb NOT NULL DEFAULT '[]',
//	    PRIMARY KEY (username, chat_id)
//	);
//
// Ownership model:
//   - PostgresStore does NOT own the pgx pool. The caller must close the pool.
//   - Close() is therefore a no-op.
//
// Concurrency model:
//   - Write transactions take a per-conversation advisory lock so two server
//     processes sharing one database cannot interleave paired log writes.
//     In-process serialization of load-modify-save cycles is Repository's job.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "loom").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("history: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("history: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "loom",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("history: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// LoadMeta returns the user's conversation metadata map (empty if absent).
func (s *PostgresStore) LoadMeta(ctx context.Context, user string) (map[string]ChatMeta, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("history: nil store")
	}
	if user == "" {
		return nil, errors.New("missing user")
	}

	meta := pgIdent(s.schema, "chat_meta")

	rows, err := s.pool.Query(ctx,
		`SELECT chat_id, title, bookmarked FROM `+meta+` WHERE username = $1`,
		user,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]ChatMeta{}
	for rows.Next() {
		var (
			id string
			m  ChatMeta
		)
		if err := rows.Scan(&id, &m.Title, &m.Bookmarked); err != nil {
			return nil, err
		}
		out[id] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveMeta replaces the user's conversation metadata map in one transaction.
func (s *PostgresStore) SaveMeta(ctx context.Context, user string, meta map[string]ChatMeta) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if user == "" {
		return errors.New("missing user")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	metaTable := pgIdent(s.schema, "chat_meta")

	if err := lockUserTx(ctx, tx, user); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+metaTable+` WHERE username = $1`, user); err != nil {
		return err
	}
	for id, m := range meta {
		if _, err := tx.Exec(ctx,
			`INSERT INTO `+metaTable+` (username, chat_id, title, bookmarked) VALUES ($1, $2, $3, $4)`,
			user, id, m.Title, m.Bookmarked,
		); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// LoadDisplay returns the display log (empty if absent).
func (s *PostgresStore) LoadDisplay(ctx context.Context, user, chatID string) ([]DisplayMessage, error) {
	var out []DisplayMessage
	if err := s.loadLogColumn(ctx, user, chatID, "display_log", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveDisplay replaces the display log.
func (s *PostgresStore) SaveDisplay(ctx context.Context, user, chatID string, msgs []DisplayMessage) error {
	if msgs == nil {
		msgs = []DisplayMessage{}
	}
	return s.saveLogColumn(ctx, user, chatID, "display_log", msgs)
}

// LoadModel returns the model-native log (empty if absent).
func (s *PostgresStore) LoadModel(ctx context.Context, user, chatID string) ([]ModelTurn, error) {
	var out []ModelTurn
	if err := s.loadLogColumn(ctx, user, chatID, "model_log", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveModel replaces the model-native log.
func (s *PostgresStore) SaveModel(ctx context.Context, user, chatID string, turns []ModelTurn) error {
	if turns == nil {
		turns = []ModelTurn{}
	}
	return s.saveLogColumn(ctx, user, chatID, "model_log", turns)
}

// SaveLogs persists both logs in a single statement (single-row upsert, so a
// crash cannot leave one column updated and the other not).
func (s *PostgresStore) SaveLogs(ctx context.Context, user, chatID string, msgs []DisplayMessage, turns []ModelTurn) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if user == "" || chatID == "" {
		return errors.New("invalid input")
	}
	if msgs == nil {
		msgs = []DisplayMessage{}
	}
	if turns == nil {
		turns = []ModelTurn{}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversationTx(ctx, tx, user, chatID); err != nil {
		return err
	}

	logs := pgIdent(s.schema, "chat_logs")
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+logs+` (username, chat_id, display_log, model_log)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username, chat_id)
		 DO UPDATE SET display_log = EXCLUDED.display_log, model_log = EXCLUDED.model_log`,
		user, chatID, msgs, turns,
	); err != nil {
		return fmt.Errorf("upsert logs: %w", err)
	}

	return tx.Commit(ctx)
}

// DeleteChat removes both logs and the metadata row in one transaction.
func (s *PostgresStore) DeleteChat(ctx context.Context, user, chatID string) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if user == "" || chatID == "" {
		return errors.New("invalid input")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversationTx(ctx, tx, user, chatID); err != nil {
		return err
	}

	logs := pgIdent(s.schema, "chat_logs")
	meta := pgIdent(s.schema, "chat_meta")

	if _, err := tx.Exec(ctx, `DELETE FROM `+logs+` WHERE username = $1 AND chat_id = $2`, user, chatID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM `+meta+` WHERE username = $1 AND chat_id = $2`, user, chatID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) loadLogColumn(ctx context.Context, user, chatID, column string, dst any) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if user == "" || chatID == "" {
		return errors.New("invalid input")
	}
	if !isValidPGIdent(column) {
		return errors.New("history: invalid column identifier")
	}

	logs := pgIdent(s.schema, "chat_logs")

	err := s.pool.QueryRow(ctx,
		`SELECT `+column+` FROM `+logs+` WHERE username = $1 AND chat_id = $2`,
		user, chatID,
	).Scan(dst)
	if errors.Is(err, pgx.ErrNoRows) {
		// Absence is the legal empty-history case.
		return nil
	}
	return err
}

func (s *PostgresStore) saveLogColumn(ctx context.Context, user, chatID, column string, value any) error {
	if s == nil || s.pool == nil {
		return errors.New("history: nil store")
	}
	if user == "" || chatID == "" {
		return errors.New("invalid input")
	}
	if !isValidPGIdent(column) {
		return errors.New("history: invalid column identifier")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockConversationTx(ctx, tx, user, chatID); err != nil {
		return err
	}

	logs := pgIdent(s.schema, "chat_logs")
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+logs+` (username, chat_id, `+column+`)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username, chat_id)
		 DO UPDATE SET `+column+` = EXCLUDED.`+column,
		user, chatID, value,
	); err != nil {
		return fmt.Errorf("upsert %s: %w", column, err)
	}

	return tx.Commit(ctx)
}

// lockConversationTx serializes cross-process writers of one conversation.
// hashtextextended reduces collision risk vs hashtext (still a hash, but better).
func lockConversationTx(ctx context.Context, tx pgx.Tx, user, chatID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, user+"/"+chatID); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func lockUserTx(ctx context.Context, tx pgx.Tx, user string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "meta/"+user); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
