// Package store is the Durable Store Gateway: a scoped transactional handle
// to the relational store, abstracting entity load/save for Chats, Messages,
// ScheduledTasks, TaskExecutions, and UserSettings (spec §2, §4).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chatstreamd/internal/cryptutil"
)

const (
	schemaVersion  = 1
	schemaChecksum = "chatstreamd-v1-core-schema"
)

// Store is the Durable Store Gateway. One Store is shared process-wide; all
// methods open short transactions, matching spec §5 ("short transactions;
// only Chat, the assistant Message, and TaskExecution are written during
// streaming; no cross-row locking").
type Store struct {
	db     *sql.DB
	sealer *cryptutil.Sealer
}

// SetSealer installs the AEAD sealer used to encrypt/decrypt
// UserSettings.provider_credentials and custom_providers (spec §3, §9). A
// nil sealer (the default) stores those columns as plaintext JSON, which
// OpenJSON's legacy fallback also accepts on read.
func (s *Store) SetSealer(sealer *cryptutil.Sealer) {
	s.sealer = sealer
}

// DefaultDBPath returns the default sqlite file location under the user's
// home directory, matching the teacher's XDG-style data-dir convention.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".chatstreamd", "chatstreamd.db")
}

// Open creates/migrates the sqlite-backed store at path ("" uses
// DefaultDBPath).
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB for callers that need raw access (tests,
// administrative tooling).
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) configurePragmas(ctx context.Context) error {
	for _, q := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("store: set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("store: create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("store: read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("store: db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			provider_credentials BLOB,
			custom_providers BLOB,
			sandbox_provider TEXT NOT NULL DEFAULT '',
			sandbox_id TEXT NOT NULL DEFAULT '',
			feature_toggles TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT '',
			sandbox_id TEXT NOT NULL DEFAULT '',
			sandbox_provider TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			context_token_usage INTEGER,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats(user_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			role TEXT NOT NULL CHECK (role IN ('user','assistant')),
			content TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			stream_status TEXT NOT NULL DEFAULT '',
			total_cost_usd REAL,
			session_id TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			file_url TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			task_name TEXT NOT NULL,
			prompt_message TEXT NOT NULL,
			model_id TEXT NOT NULL,
			recurrence_type TEXT NOT NULL,
			scheduled_time TEXT NOT NULL,
			scheduled_day INTEGER,
			status TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			next_execution DATETIME,
			execution_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_execution DATETIME,
			last_error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_user_id ON scheduled_tasks(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks(enabled, status, next_execution);`,
		`CREATE TABLE IF NOT EXISTS task_executions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES scheduled_tasks(id) ON DELETE CASCADE,
			executed_at DATETIME NOT NULL,
			completed_at DATETIME,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_executions_task_id ON task_executions(task_id, executed_at DESC);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL,
			expires_at DATETIME NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expiry ON refresh_tokens(expires_at);`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}

	if maxVersion < schemaVersion {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)`,
			schemaVersion, schemaChecksum,
		); err != nil {
			return fmt.Errorf("store: record schema version: %w", err)
		}
	}
	return tx.Commit()
}

// retryOnBusy retries f when sqlite returns BUSY/LOCKED, matching the
// teacher's backoff-with-jitter idiom (internal/persistence/store.go).
func retryOnBusy(ctx context.Context, f func() error) error {
	const maxRetries = 5
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay/2) + 1))
		delay = delay - delay/4 + jitter
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// withTx runs f inside a transaction, retrying the whole attempt on
// SQLITE_BUSY/LOCKED.
func (s *Store) withTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := f(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// ErrNotFound is returned by single-row lookups that find nothing, or whose
// owner (user_id) does not match the requesting user — spec §4.2's
// "mismatched owner -> not-found".
var ErrNotFound = sql.ErrNoRows
