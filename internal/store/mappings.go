package store

import (
	"context"
	"database/sql"
	"time"
)

// Mapping pairs a Redmine issue with its GitLab counterpart. Canonical
// holds the serialized snapshot of the last state both sides agreed on;
// it is nil only between mapping creation and the first successful
// reconciliation. Both remote issue ids are globally unique: an issue
// belongs to exactly one pair at any time.
type Mapping struct {
	ID             int64
	ProjectID      int64
	RedmineIssueID int64
	GitLabIssueID  int64 // instance-global id, uniquely indexed
	GitLabIssueIID int64 // project-scoped counter used for API calls and links
	Canonical      []byte
	LastEventID    *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CreateMapping inserts a new pair. A uniqueness violation (either side
// already paired) surfaces as an error the caller detects with
// IsUniqueViolation and skips.
func (s *Store) CreateMapping(ctx context.Context, m *Mapping) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_mappings (project_id, redmine_issue_id, gitlab_issue_id, gitlab_issue_iid, canonical)
		VALUES (?, ?, ?, ?, ?)
	`, m.ProjectID, m.RedmineIssueID, m.GitLabIssueID, m.GitLabIssueIID, m.Canonical)
	if err != nil {
		return err
	}
	id, _ := result.LastInsertId()
	m.ID = id
	return nil
}

// MappingsForProject returns every mapping of a project ordered by the
// Redmine issue id.
func (s *Store) MappingsForProject(ctx context.Context, projectID int64) ([]*Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, redmine_issue_id, gitlab_issue_id, gitlab_issue_iid, canonical, last_event_id, created_at, updated_at
		FROM issue_mappings
		WHERE project_id = ?
		ORDER BY redmine_issue_id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var mappings []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// MappingByRedmineIssue returns the mapping holding the given Redmine
// issue id, or nil when the issue is unmapped.
func (s *Store) MappingByRedmineIssue(ctx context.Context, redmineIssueID int64) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, redmine_issue_id, gitlab_issue_id, gitlab_issue_iid, canonical, last_event_id, created_at, updated_at
		FROM issue_mappings WHERE redmine_issue_id = ?
	`, redmineIssueID)
	m, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// MappingByGitLabIssue returns the mapping holding the given GitLab
// global issue id, or nil when the issue is unmapped.
func (s *Store) MappingByGitLabIssue(ctx context.Context, gitlabIssueID int64) (*Mapping, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, redmine_issue_id, gitlab_issue_id, gitlab_issue_iid, canonical, last_event_id, created_at, updated_at
		FROM issue_mappings WHERE gitlab_issue_id = ?
	`, gitlabIssueID)
	m, err := scanMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// AdvanceCanonical replaces the mapping's canonical snapshot. The single
// UPDATE commits as its own transaction, which is the write boundary the
// reconciler relies on.
func (s *Store) AdvanceCanonical(ctx context.Context, mappingID int64, canonical []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE issue_mappings
		SET canonical = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, canonical, mappingID)
	return err
}

// DeleteMapping removes a pair. The counterpart issues themselves are
// never touched; deletion does not propagate across platforms.
func (s *Store) DeleteMapping(ctx context.Context, mappingID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM issue_mappings WHERE id = ?`, mappingID)
	return err
}

// CountMappings returns the number of stored pairs, optionally scoped to
// one project (projectID 0 means all).
func (s *Store) CountMappings(ctx context.Context, projectID int64) (int, error) {
	var count int
	var err error
	if projectID > 0 {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_mappings WHERE project_id = ?`, projectID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issue_mappings`).Scan(&count)
	}
	return count, err
}

func scanMapping(row rowScanner) (*Mapping, error) {
	var m Mapping
	var lastEvent sql.NullInt64
	if err := row.Scan(&m.ID, &m.ProjectID, &m.RedmineIssueID, &m.GitLabIssueID, &m.GitLabIssueIID, &m.Canonical, &lastEvent, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	if lastEvent.Valid {
		v := lastEvent.Int64
		m.LastEventID = &v
	}
	return &m, nil
}
