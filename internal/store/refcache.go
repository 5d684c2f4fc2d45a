package store

import (
	"context"
	"database/sql"
	"fmt"
)

// RefRow is one entry of the Redmine reference cache: a tracker or an
// issue status, keyed by its Redmine id.
type RefRow struct {
	ExternalID int64
	Name       string
}

// RefreshTrackers replaces the tracker cache with the given rows.
func (s *Store) RefreshTrackers(ctx context.Context, refs []RefRow) error {
	return s.refreshRefs(ctx, "redmine_trackers", refs)
}

// RefreshStatuses replaces the status cache with the given rows.
func (s *Store) RefreshStatuses(ctx context.Context, refs []RefRow) error {
	return s.refreshRefs(ctx, "redmine_statuses", refs)
}

// refreshRefs swaps a reference table's contents inside one transaction.
// Truth lives in Redmine; a wholesale replace keeps both unique indexes
// (id and name) consistent across renames and swaps.
func (s *Store) refreshRefs(ctx context.Context, table string, refs []RefRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (external_id, name) VALUES (?, ?)`, ref.ExternalID, ref.Name); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}

	return tx.Commit()
}

// TrackerIDByName resolves a tracker name to its Redmine id,
// case-insensitively. The second return is false when the name is not in
// the cache.
func (s *Store) TrackerIDByName(ctx context.Context, name string) (int64, bool, error) {
	return s.refIDByName(ctx, "redmine_trackers", name)
}

// StatusIDByName resolves a status name to its Redmine id,
// case-insensitively.
func (s *Store) StatusIDByName(ctx context.Context, name string) (int64, bool, error) {
	return s.refIDByName(ctx, "redmine_statuses", name)
}

func (s *Store) refIDByName(ctx context.Context, table, name string) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT external_id FROM `+table+` WHERE name = ? COLLATE NOCASE`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Trackers returns the cached tracker rows ordered by Redmine id.
func (s *Store) Trackers(ctx context.Context) ([]RefRow, error) {
	return s.refRows(ctx, "redmine_trackers")
}

// Statuses returns the cached status rows ordered by Redmine id.
func (s *Store) Statuses(ctx context.Context) ([]RefRow, error) {
	return s.refRows(ctx, "redmine_statuses")
}

func (s *Store) refRows(ctx context.Context, table string) ([]RefRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT external_id, name FROM `+table+` ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var refs []RefRow
	for rows.Next() {
		var ref RefRow
		if err := rows.Scan(&ref.ExternalID, &ref.Name); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
