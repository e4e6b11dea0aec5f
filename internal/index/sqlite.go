package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// migration is one ordered schema change
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Artifact sets keyed by recording and parameter hash",
		SQL: `
CREATE TABLE IF NOT EXISTS artifact_sets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    source_basename TEXT NOT NULL,
    subject TEXT NOT NULL,
    session TEXT,
    task TEXT,
    run TEXT,
    reference TEXT NOT NULL,
    params TEXT NOT NULL,
    deriv_dir TEXT,
    run_id TEXT,
    artifacts TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_artifact_sets_subject ON artifact_sets(subject);
CREATE INDEX IF NOT EXISTS idx_artifact_sets_run_id ON artifact_sets(run_id);
`,
	},
}

// SQLite is a Registry backed by a SQLite database.
type SQLite struct {
	db     *sql.DB
	dbPath string
}

// NewSQLite opens (creating if needed) the registry database at dbPath.
// ":memory:" opens a private in-memory database.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db, dbPath: dbPath}
	if err := s.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

func (s *SQLite) applyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    description TEXT,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := s.SchemaVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, description) VALUES (?, ?)`, m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a new database.
func (s *SQLite) SchemaVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Exists implements Registry.
func (s *SQLite) Exists(ctx context.Context, key Key) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifact_sets WHERE key = ?`, key.ID()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query artifact set: %w", err)
	}
	return count > 0, nil
}

// Record implements Registry. Recording the same key again replaces the entry.
func (s *SQLite) Record(ctx context.Context, entry Entry) error {
	artifacts, err := json.Marshal(entry.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	k := entry.Key
	_, err = s.db.ExecContext(ctx, `INSERT INTO artifact_sets
		(key, source_basename, subject, session, task, run, reference, params, deriv_dir, run_id, artifacts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			deriv_dir = excluded.deriv_dir,
			run_id = excluded.run_id,
			artifacts = excluded.artifacts,
			created_at = excluded.created_at`,
		k.ID(), k.SourceBasename, k.Recording.Subject, k.Recording.Session, k.Recording.Task, k.Recording.Run,
		k.Reference, k.Params.Key(), k.Dir, entry.RunID, string(artifacts), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("record artifact set: %w", err)
	}
	return nil
}

// Lookup returns the recorded entry for key, or nil when none exists.
func (s *SQLite) Lookup(ctx context.Context, key Key) (*Entry, error) {
	var (
		runID     sql.NullString
		artifacts sql.NullString
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, artifacts, created_at FROM artifact_sets WHERE key = ?`, key.ID()).
		Scan(&runID, &artifacts, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup artifact set: %w", err)
	}

	entry := &Entry{Key: key, RunID: runID.String, CreatedAt: createdAt}
	if artifacts.Valid && artifacts.String != "" {
		if err := json.Unmarshal([]byte(artifacts.String), &entry.Artifacts); err != nil {
			return nil, fmt.Errorf("decode artifacts: %w", err)
		}
	}
	return entry, nil
}

// CountBySubject returns how many artifact sets each subject has.
func (s *SQLite) CountBySubject(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject, COUNT(*) FROM artifact_sets GROUP BY subject`)
	if err != nil {
		return nil, fmt.Errorf("count artifact sets: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var subject string
		var n int
		if err := rows.Scan(&subject, &n); err != nil {
			return nil, fmt.Errorf("scan artifact count: %w", err)
		}
		counts[subject] = n
	}
	return counts, rows.Err()
}
