// Package store provides the durable mapping state for Tether using
// SQLite: discovered projects and their linked repos, issue pair mappings
// with canonical snapshots, correlated users, and the Redmine reference
// cache. Store handles database migrations automatically on initialization.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database holding all sync state.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at the given connection string and
// runs migrations. The parent directory is created if missing.
func New(connectionString string) (*Store, error) {
	if dir := filepath.Dir(dsnPath(connectionString)); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite locks the whole file on write; one connection serializes
	// writers instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates necessary tables
func (s *Store) migrate() error {
	migrations := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			redmine_project_id INTEGER NOT NULL UNIQUE,
			redmine_key TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			last_sync_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS gitlab_repos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			path TEXT NOT NULL,
			gitlab_project_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS issue_mappings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			redmine_issue_id INTEGER NOT NULL,
			gitlab_issue_id INTEGER NOT NULL,
			gitlab_issue_iid INTEGER NOT NULL,
			canonical BLOB,
			last_event_id INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_redmine ON issue_mappings(redmine_issue_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_gitlab ON issue_mappings(gitlab_issue_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_project ON issue_mappings(project_id)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			redmine_user_id INTEGER,
			gitlab_user_id INTEGER,
			display_key TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_redmine ON users(redmine_user_id) WHERE redmine_user_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_gitlab ON users(gitlab_user_id) WHERE gitlab_user_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS redmine_trackers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE IF NOT EXISTS redmine_statuses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			external_id INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			// Ignore "duplicate column" errors from ALTER TABLE migrations
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// Close closes the database connection and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err is a uniqueness constraint
// failure, e.g. a mapping insert for an already-paired issue id.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// dsnPath extracts the filesystem path from a SQLite connection string,
// dropping a file: scheme and DSN parameters.
func dsnPath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
