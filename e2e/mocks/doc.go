// Package mocks provides stateful fakes of the two remote APIs for
// end-to-end testing.
//
// This package provides:
//   - RedmineMock: a tracker API server with projects, memberships,
//     issues, and the tracker/status vocabularies
//   - GitLabMock: a forge API server with path resolution, members,
//     and issue CRUD under /api/v4
//
// Both keep issue state across requests, so a test can run several
// sync passes against them and watch the remotes converge the way
// real instances would.
//
// Example usage:
//
//	rm := mocks.NewRedmineMock()
//	defer rm.Close()
//	gl := mocks.NewGitLabMock()
//	defer gl.Close()
//
//	rm.AddProject(7, "backlog", "Backlog", "https://gitlab.example.com/team/backlog")
//	gl.AddProject(42, "team/backlog")
//	rm.AddIssue(7, "Fix login crash", "Crash on empty password", "Bug", "New", 0)
package mocks
