// Package digest persists per-pass activity to a small secondary SQLite
// database and renders scheduled summaries of it. The store is separate
// from the mapping store so a digest-only wipe never touches sync state,
// and it uses the cgo-free driver since nothing here is hot.
package digest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alekspetrov/tether/internal/engine"
)

// Store wraps the digest database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the digest database at the given path and runs
// migrations. The parent directory is created if missing. Use ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create digest directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open digest database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set digest database pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate digest database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS passes (
			pass_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			projects INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS pass_projects (
			pass_id TEXT NOT NULL REFERENCES passes(pass_id) ON DELETE CASCADE,
			project TEXT NOT NULL,
			users_paired INTEGER NOT NULL DEFAULT 0,
			mappings_seeded INTEGER NOT NULL DEFAULT 0,
			created_forge INTEGER NOT NULL DEFAULT 0,
			created_tracker INTEGER NOT NULL DEFAULT 0,
			mappings_deleted INTEGER NOT NULL DEFAULT 0,
			patches_applied INTEGER NOT NULL DEFAULT 0,
			conflicts INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (pass_id, project)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started_at)`,
		`CREATE TABLE IF NOT EXISTS digests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			generated_at DATETIME NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			stats TEXT NOT NULL,
			projects TEXT NOT NULL DEFAULT '[]',
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_digests_generated ON digests(generated_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordPass stores one pass report with its per-project breakdown.
// Dry runs are not recorded; the digest reflects applied changes only.
func (s *Store) RecordPass(ctx context.Context, report *engine.PassReport) error {
	if report == nil || report.DryRun {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	durationMs := report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO passes (pass_id, started_at, finished_at, duration_ms, error, projects)
		VALUES (?, ?, ?, ?, ?, ?)
	`, report.PassID, report.StartedAt.UTC(), report.FinishedAt.UTC(), durationMs, report.Error, len(report.Projects))
	if err != nil {
		return fmt.Errorf("failed to record pass: %w", err)
	}

	for _, pr := range report.Projects {
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO pass_projects
				(pass_id, project, users_paired, mappings_seeded, created_forge,
				 created_tracker, mappings_deleted, patches_applied, conflicts, failures, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, report.PassID, pr.Project, pr.UsersPaired, pr.MappingsSeeded, pr.CreatedForge,
			pr.CreatedTracker, pr.MappingsDeleted, pr.PatchesApplied, pr.Conflicts, pr.Failures, pr.Error)
		if err != nil {
			return fmt.Errorf("failed to record project activity: %w", err)
		}
	}

	return tx.Commit()
}

// ActivityBetween aggregates recorded passes whose start time falls in
// [start, end). Projects come back ordered by mutation volume.
func (s *Store) ActivityBetween(ctx context.Context, start, end time.Time) (Stats, []ProjectActivity, error) {
	var stats Stats
	var avgMs sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN error != '' THEN 1 ELSE 0 END), 0),
		       AVG(duration_ms)
		FROM passes
		WHERE started_at >= ? AND started_at < ?
	`, start.UTC(), end.UTC()).Scan(&stats.Passes, &stats.FailedPasses, &avgMs)
	if err != nil {
		return Stats{}, nil, fmt.Errorf("failed to aggregate passes: %w", err)
	}
	if avgMs.Valid {
		stats.AvgPassMs = int64(avgMs.Float64)
	}
	if stats.Passes > 0 {
		stats.SuccessRate = float64(stats.Passes-stats.FailedPasses) / float64(stats.Passes)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pp.project,
		       COALESCE(SUM(pp.mappings_seeded), 0),
		       COALESCE(SUM(pp.created_forge), 0),
		       COALESCE(SUM(pp.created_tracker), 0),
		       COALESCE(SUM(pp.mappings_deleted), 0),
		       COALESCE(SUM(pp.patches_applied), 0),
		       COALESCE(SUM(pp.conflicts), 0),
		       COALESCE(SUM(pp.failures), 0)
		FROM pass_projects pp
		JOIN passes p ON p.pass_id = pp.pass_id
		WHERE p.started_at >= ? AND p.started_at < ?
		GROUP BY pp.project
		ORDER BY SUM(pp.patches_applied) + SUM(pp.created_forge) + SUM(pp.created_tracker) +
		         SUM(pp.mappings_seeded) + SUM(pp.mappings_deleted) DESC, pp.project
	`, start.UTC(), end.UTC())
	if err != nil {
		return Stats{}, nil, fmt.Errorf("failed to aggregate project activity: %w", err)
	}
	defer rows.Close()

	var projects []ProjectActivity
	for rows.Next() {
		var pa ProjectActivity
		if err := rows.Scan(&pa.Project, &pa.MappingsSeeded, &pa.CreatedForge, &pa.CreatedTracker,
			&pa.MappingsDeleted, &pa.PatchesApplied, &pa.Conflicts, &pa.Failures); err != nil {
			return Stats{}, nil, fmt.Errorf("failed to scan project activity: %w", err)
		}
		stats.MappingsSeeded += pa.MappingsSeeded
		stats.CreatedForge += pa.CreatedForge
		stats.CreatedTracker += pa.CreatedTracker
		stats.MappingsDeleted += pa.MappingsDeleted
		stats.PatchesApplied += pa.PatchesApplied
		stats.Conflicts += pa.Conflicts
		stats.Failures += pa.Failures
		projects = append(projects, pa)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, nil, err
	}

	return stats, projects, nil
}

// SaveDigest persists a rendered digest.
func (s *Store) SaveDigest(ctx context.Context, d *Digest) error {
	statsJSON, err := json.Marshal(d.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal digest stats: %w", err)
	}
	projects := d.Projects
	if projects == nil {
		projects = []ProjectActivity{}
	}
	projectsJSON, err := json.Marshal(projects)
	if err != nil {
		return fmt.Errorf("failed to marshal digest projects: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO digests (generated_at, period_start, period_end, stats, projects, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.GeneratedAt.UTC(), d.Period.Start.UTC(), d.Period.End.UTC(),
		string(statsJSON), string(projectsJSON), d.Body)
	if err != nil {
		return fmt.Errorf("failed to save digest: %w", err)
	}
	return nil
}

// Latest returns the most recently generated digest, or nil when none
// has been generated yet.
func (s *Store) Latest(ctx context.Context) (*Digest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT generated_at, period_start, period_end, stats, projects, body
		FROM digests ORDER BY generated_at DESC, id DESC LIMIT 1
	`)

	var d Digest
	var statsJSON, projectsJSON string
	err := row.Scan(&d.GeneratedAt, &d.Period.Start, &d.Period.End, &statsJSON, &projectsJSON, &d.Body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest digest: %w", err)
	}

	if err := json.Unmarshal([]byte(statsJSON), &d.Stats); err != nil {
		return nil, fmt.Errorf("failed to parse digest stats: %w", err)
	}
	if err := json.Unmarshal([]byte(projectsJSON), &d.Projects); err != nil {
		return nil, fmt.Errorf("failed to parse digest projects: %w", err)
	}
	return &d, nil
}

// PrunePasses deletes pass rows started before the cutoff. Saved digests
// are never pruned.
func (s *Store) PrunePasses(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM passes WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune passes: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM pass_projects WHERE pass_id NOT IN (SELECT pass_id FROM passes)
	`); err != nil {
		return 0, fmt.Errorf("failed to prune project activity: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
