package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"replydraft/internal/model"
)

// Store is the run ledger: an append-only record of pipeline outcomes plus
// the last change cursor seen per account. It is observational only; the
// mailbox's processed marker remains the idempotency witness.
type Store struct {
	db       *sql.DB
	postgres bool
}

// Open picks a backend from the DSN: postgres:// or postgresql:// use
// lib/pq, anything else is treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("ledger dsn is required")
	}
	if u, err := url.Parse(dsn); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "postgres", "postgresql":
			return NewPostgresStore(dsn)
		case "sqlite", "file":
			return NewSQLiteStore(strings.TrimPrefix(strings.TrimPrefix(dsn, u.Scheme+"://"), u.Scheme+":"))
		}
	}
	return NewSQLiteStore(dsn)
}

// NewSQLiteStore opens (or creates) the database at the given path and runs migrations.
func NewSQLiteStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore connects to Postgres and runs migrations.
func NewPostgresStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{db: db, postgres: true}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	run_id     TEXT PRIMARY KEY,
	account    TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	thread_id  TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	from_addr  TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	draft_id   TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	permanent  INTEGER NOT NULL DEFAULT 0,
	warning    TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	ended_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS outcomes_account ON outcomes(account, started_at);

CREATE TABLE IF NOT EXISTS cursors (
	account    TEXT PRIMARY KEY,
	history_id BIGINT NOT NULL
);
`
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordOutcome appends one run to the ledger.
func (s *Store) RecordOutcome(ctx context.Context, o model.Outcome) error {
	permanent := 0
	if o.Permanent {
		permanent = 1
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO outcomes (run_id, account, message_id, thread_id, subject, from_addr, state, reason,
			draft_id, error, permanent, warning, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`), o.RunID, o.AccountID, o.MessageID, o.ThreadID, o.Subject, o.From, string(o.State), o.Reason,
		o.DraftID, o.ErrString(), permanent, o.Warning,
		o.StartedAt.UTC().Format(time.RFC3339Nano), o.EndedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.RunID, err)
	}
	return nil
}

// ListOutcomes returns the most recent runs, newest first. An empty account
// lists every account.
func (s *Store) ListOutcomes(ctx context.Context, account string, limit int) ([]model.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT run_id, account, message_id, thread_id, subject, from_addr, state, reason,
		draft_id, error, permanent, warning, started_at, ended_at FROM outcomes`
	var args []any
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Outcome
	for rows.Next() {
		var (
			o              model.Outcome
			state, errText string
			permanent      int
			started, ended string
		)
		if err := rows.Scan(&o.RunID, &o.AccountID, &o.MessageID, &o.ThreadID, &o.Subject, &o.From, &state, &o.Reason,
			&o.DraftID, &errText, &permanent, &o.Warning, &started, &ended); err != nil {
			return nil, err
		}
		o.State = model.State(state)
		o.Permanent = permanent == 1
		if errText != "" {
			o.Err = errors.New(errText)
		}
		o.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		o.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetCursor returns the last cursor recorded for account, or 0.
func (s *Store) GetCursor(ctx context.Context, account string) (uint64, error) {
	var val int64
	err := s.db.QueryRowContext(ctx, s.rebind("SELECT history_id FROM cursors WHERE account = ?"), account).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(val), nil
}

// AdvanceCursor stores cursor for account unless a later one is already recorded.
func (s *Store) AdvanceCursor(ctx context.Context, account string, cursor uint64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO cursors (account, history_id) VALUES (?, ?)
		ON CONFLICT(account) DO UPDATE SET history_id = excluded.history_id
		WHERE cursors.history_id < excluded.history_id
	`), account, int64(cursor))
	return err
}
