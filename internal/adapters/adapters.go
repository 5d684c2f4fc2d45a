// Package adapters defines the neutral issue model and the two platform
// contracts the sync engine works against. The redmine and gitlab
// subpackages implement them; engine tests substitute fakes.
package adapters

import "context"

// Tracker is the read/write contract over the tracker-style platform
// (Redmine): projects carry a configurable custom field pointing at the
// forge repo, categories are first-class trackers, and mutations require
// numeric tracker/status ids.
type Tracker interface {
	// ListProjects returns all visible projects with their custom fields.
	ListProjects(ctx context.Context) ([]ProjectInfo, error)

	// ListMembers returns the members of a project.
	ListMembers(ctx context.Context, projectID int64) ([]Member, error)

	// ListIssues returns all issues of a project in any state, paged
	// until exhaustion.
	ListIssues(ctx context.Context, projectID int64) ([]IssueView, error)

	// GetIssue fetches a single issue by its global id.
	GetIssue(ctx context.Context, issueID int64) (*IssueView, error)

	// CreateIssue creates an issue and returns its live view.
	CreateIssue(ctx context.Context, projectID int64, draft TrackerDraft) (*IssueView, error)

	// UpdateIssue applies a partial update. A patch with no set fields
	// is a no-op and must not produce a request.
	UpdateIssue(ctx context.Context, issueID int64, patch TrackerPatch) error

	// ListTrackers returns the global tracker (category) vocabulary.
	ListTrackers(ctx context.Context) ([]Ref, error)

	// ListIssueStatuses returns the global status vocabulary.
	ListIssueStatuses(ctx context.Context) ([]Ref, error)
}

// Forge is the read/write contract over the forge-style platform
// (GitLab): issues live under namespaced repos, categories are labels,
// and state transitions go through close/reopen events.
type Forge interface {
	// ResolveProjectID resolves a namespace/name path to the numeric
	// project id. Returns ErrNotFound when the path does not exist.
	ResolveProjectID(ctx context.Context, path string) (int64, error)

	// ListMembers returns all members of a project, inherited included.
	ListMembers(ctx context.Context, projectID int64) ([]Member, error)

	// ListIssues returns all issues of a project in any state, paged
	// until exhaustion.
	ListIssues(ctx context.Context, projectID int64) ([]IssueView, error)

	// GetIssue fetches a single issue by its project-scoped iid.
	GetIssue(ctx context.Context, projectID, iid int64) (*IssueView, error)

	// CreateIssue creates an issue and returns its live view.
	CreateIssue(ctx context.Context, projectID int64, draft ForgeDraft) (*IssueView, error)

	// UpdateIssue applies a partial update. A patch with no set fields
	// is a no-op and must not produce a request.
	UpdateIssue(ctx context.Context, projectID, iid int64, patch ForgePatch) error
}
