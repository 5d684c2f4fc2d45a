package store

import (
	"context"
	"database/sql"
	"time"
)

// Project is a discovered Redmine project. Repo is its one-to-one GitLab
// counterpart; a project whose repo has no resolved GitLabProjectID is
// unlinked and skipped by reconciliation.
type Project struct {
	ID               int64
	RedmineProjectID int64
	RedmineKey       string
	Name             string
	LastSyncAt       *time.Time
	Repo             *Repo
}

// Repo is the GitLab side of a project link.
type Repo struct {
	ProjectID       int64
	URL             string
	Path            string // namespace/name
	GitLabProjectID *int64 // nil until resolved
}

// Linked reports whether the project has a resolved GitLab project id.
func (p *Project) Linked() bool {
	return p.Repo != nil && p.Repo.GitLabProjectID != nil
}

// UpsertProject inserts or updates a project row by its Redmine id and
// returns the stored row.
func (s *Store) UpsertProject(ctx context.Context, redmineProjectID int64, key, name string) (*Project, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (redmine_project_id, redmine_key, name)
		VALUES (?, ?, ?)
		ON CONFLICT(redmine_project_id) DO UPDATE SET
			redmine_key = excluded.redmine_key,
			name = excluded.name,
			updated_at = CURRENT_TIMESTAMP
	`, redmineProjectID, key, name)
	if err != nil {
		return nil, err
	}

	return s.projectByRedmineID(ctx, redmineProjectID)
}

// UpsertRepo inserts or updates the project's repo link. A path change
// clears the resolved GitLab project id so discovery re-resolves it.
func (s *Store) UpsertRepo(ctx context.Context, projectID int64, url, path string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gitlab_repos (project_id, url, path)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			url = excluded.url,
			gitlab_project_id = CASE
				WHEN gitlab_repos.path != excluded.path THEN NULL
				ELSE gitlab_repos.gitlab_project_id
			END,
			path = excluded.path,
			updated_at = CURRENT_TIMESTAMP
	`, projectID, url, path)
	return err
}

// SetRepoGitLabID stores the resolved numeric GitLab project id.
func (s *Store) SetRepoGitLabID(ctx context.Context, projectID, gitlabProjectID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE gitlab_repos
		SET gitlab_project_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE project_id = ?
	`, gitlabProjectID, projectID)
	return err
}

// TouchProjectSync records a completed sync for the project.
func (s *Store) TouchProjectSync(ctx context.Context, projectID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET last_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, at.UTC(), projectID)
	return err
}

// LinkedProjects returns all projects whose repo has a resolved GitLab
// project id, ordered by Redmine project id.
func (s *Store) LinkedProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.redmine_project_id, p.redmine_key, p.name, p.last_sync_at,
		       r.url, r.path, r.gitlab_project_id
		FROM projects p
		JOIN gitlab_repos r ON r.project_id = p.id
		WHERE r.gitlab_project_id IS NOT NULL
		ORDER BY p.redmine_project_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProjectWithRepo(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AllProjects returns every discovered project with its repo link when
// present. Used by status reporting.
func (s *Store) AllProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.redmine_project_id, p.redmine_key, p.name, p.last_sync_at,
		       r.url, r.path, r.gitlab_project_id
		FROM projects p
		LEFT JOIN gitlab_repos r ON r.project_id = p.id
		ORDER BY p.redmine_project_id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		var p Project
		var lastSync sql.NullTime
		var url, path sql.NullString
		var gitlabID sql.NullInt64
		if err := rows.Scan(&p.ID, &p.RedmineProjectID, &p.RedmineKey, &p.Name, &lastSync, &url, &path, &gitlabID); err != nil {
			return nil, err
		}
		if lastSync.Valid {
			t := lastSync.Time
			p.LastSyncAt = &t
		}
		if url.Valid {
			repo := &Repo{ProjectID: p.ID, URL: url.String, Path: path.String}
			if gitlabID.Valid {
				id := gitlabID.Int64
				repo.GitLabProjectID = &id
			}
			p.Repo = repo
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// projectByRedmineID loads a project row and its repo child.
func (s *Store) projectByRedmineID(ctx context.Context, redmineProjectID int64) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.redmine_project_id, p.redmine_key, p.name, p.last_sync_at,
		       r.url, r.path, r.gitlab_project_id
		FROM projects p
		LEFT JOIN gitlab_repos r ON r.project_id = p.id
		WHERE p.redmine_project_id = ?
	`, redmineProjectID)

	var p Project
	var lastSync sql.NullTime
	var url, path sql.NullString
	var gitlabID sql.NullInt64
	if err := row.Scan(&p.ID, &p.RedmineProjectID, &p.RedmineKey, &p.Name, &lastSync, &url, &path, &gitlabID); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		p.LastSyncAt = &t
	}
	if url.Valid {
		repo := &Repo{ProjectID: p.ID, URL: url.String, Path: path.String}
		if gitlabID.Valid {
			id := gitlabID.Int64
			repo.GitLabProjectID = &id
		}
		p.Repo = repo
	}
	return &p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanProjectWithRepo scans a joined project+repo row where the repo is
// known to exist.
func scanProjectWithRepo(row rowScanner) (*Project, error) {
	var p Project
	var lastSync sql.NullTime
	var repo Repo
	var gitlabID sql.NullInt64
	if err := row.Scan(&p.ID, &p.RedmineProjectID, &p.RedmineKey, &p.Name, &lastSync, &repo.URL, &repo.Path, &gitlabID); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		t := lastSync.Time
		p.LastSyncAt = &t
	}
	repo.ProjectID = p.ID
	if gitlabID.Valid {
		id := gitlabID.Int64
		repo.GitLabProjectID = &id
	}
	p.Repo = &repo
	return &p, nil
}
