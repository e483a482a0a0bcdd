// Package localstore is the durable device-local cache: attempts, questions,
// the outbound sync queue, daily goals, the streak singleton and identity preferences.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver" // database/sql driver "sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"  // bundled SQLite build
)

// Store wraps one SQLite database. A single connection serializes all callers.
type Store struct {
	db *sql.DB
}

type migration struct {
	version    int
	statements []string
}

// Migrations are additive only: later versions add collections, never drop or reinterpret them.
var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS attempts (
				id TEXT PRIMARY KEY,
				device_id TEXT NOT NULL,
				question_id TEXT NOT NULL,
				selected_answer TEXT NOT NULL,
				is_correct INTEGER NOT NULL,
				time_taken_seconds INTEGER,
				created_at INTEGER NOT NULL,
				synced INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS attempts_by_synced ON attempts(synced)`,
			`CREATE INDEX IF NOT EXISTS attempts_by_question ON attempts(question_id)`,
			`CREATE INDEX IF NOT EXISTS attempts_by_created ON attempts(created_at)`,
			`CREATE TABLE IF NOT EXISTS questions (
				id TEXT PRIMARY KEY,
				subject TEXT NOT NULL,
				topic TEXT NOT NULL,
				question_text TEXT NOT NULL,
				question_type TEXT NOT NULL,
				options TEXT NOT NULL,
				correct_answer TEXT NOT NULL,
				explanation TEXT,
				difficulty INTEGER NOT NULL,
				svg_data TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS sync_queue (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				action TEXT NOT NULL,
				table_name TEXT NOT NULL,
				data BLOB NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			)`,
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS daily_goal (
				id TEXT PRIMARY KEY,
				date TEXT NOT NULL,
				target INTEGER NOT NULL,
				completed INTEGER NOT NULL,
				type TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS streak (
				id TEXT PRIMARY KEY,
				current_streak INTEGER NOT NULL,
				longest_streak INTEGER NOT NULL,
				last_active_date TEXT NOT NULL
			)`,
		},
	},
	{
		version: 3,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS preferences (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
		},
	},
}

// SchemaVersion is the version Open migrates to.
func SchemaVersion() int {
	return migrations[len(migrations)-1].version
}

// Open opens (creating if needed) the cache at path and applies pending migrations.
// Opening an up-to-date store is a no-op beyond the connection itself.
func Open(ctx context.Context, path string) (*Store, error) {
	return openVersion(ctx, path, SchemaVersion())
}

func openVersion(ctx context.Context, path string, target int) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(full)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx, target); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Version returns the schema version recorded in the database.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *Store) migrate(ctx context.Context, target int) error {
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
