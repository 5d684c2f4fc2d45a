package store

import (
	"context"
	"database/sql"
)

// User correlates a Redmine account with a GitLab account. DisplayKey
// records the handle the correlation heuristic matched on. Rows are
// append-mostly: once written they are never re-evaluated.
type User struct {
	ID            int64
	RedmineUserID *int64
	GitLabUserID  *int64
	DisplayKey    string
}

// PairUser inserts a correlation row if neither platform id is already
// paired; on conflict it leaves the existing row alone (first write
// wins). Returns whether a row was inserted.
func (s *Store) PairUser(ctx context.Context, redmineUserID, gitlabUserID int64, displayKey string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (redmine_user_id, gitlab_user_id, display_key)
		VALUES (?, ?, ?)
	`, redmineUserID, gitlabUserID, displayKey)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UserByRedmineID returns the correlation row holding the given Redmine
// user id, or nil when none exists.
func (s *Store) UserByRedmineID(ctx context.Context, redmineUserID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, redmine_user_id, gitlab_user_id, display_key
		FROM users WHERE redmine_user_id = ?
	`, redmineUserID)
	return scanUser(row)
}

// UserByGitLabID returns the correlation row holding the given GitLab
// user id, or nil when none exists.
func (s *Store) UserByGitLabID(ctx context.Context, gitlabUserID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, redmine_user_id, gitlab_user_id, display_key
		FROM users WHERE gitlab_user_id = ?
	`, gitlabUserID)
	return scanUser(row)
}

// Users returns every correlation row ordered by id.
func (s *Store) Users(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, redmine_user_id, gitlab_user_id, display_key
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the number of correlation rows.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var redmineID, gitlabID sql.NullInt64
	err := row.Scan(&u.ID, &redmineID, &gitlabID, &u.DisplayKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if redmineID.Valid {
		v := redmineID.Int64
		u.RedmineUserID = &v
	}
	if gitlabID.Valid {
		v := gitlabID.Int64
		u.GitLabUserID = &v
	}
	return &u, nil
}
