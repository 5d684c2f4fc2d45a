package mocks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alekspetrov/tether/internal/adapters/redmine"
)

// RedmineMock is a stateful tracker API server. It seeds the standard
// tracker and status vocabularies and serves the paged envelopes the
// real API uses, so adapter paging runs against something faithful.
type RedmineMock struct {
	server *httptest.Server

	mu          sync.RWMutex
	projects    map[int64]*redmine.Project
	memberships map[int64][]redmine.Membership
	issues      map[int64]*redmine.Issue
	userNames   map[int64]string
	trackers    []redmine.Tracker
	statuses    []redmine.IssueStatus
	nextIssue   int64

	// Callbacks for test assertions
	OnIssueCreated func(issue *redmine.Issue)
	OnIssueUpdated func(issueID int64)
}

// NewRedmineMock creates a tracker mock with the default vocabularies:
// trackers Feature/Bug/Task/Support and statuses New/In Progress/Closed.
func NewRedmineMock() *RedmineMock {
	m := &RedmineMock{
		projects:    make(map[int64]*redmine.Project),
		memberships: make(map[int64][]redmine.Membership),
		issues:      make(map[int64]*redmine.Issue),
		userNames:   make(map[int64]string),
		trackers: []redmine.Tracker{
			{ID: 1, Name: "Feature"},
			{ID: 2, Name: "Bug"},
			{ID: 3, Name: "Task"},
			{ID: 9, Name: "Support"},
		},
		statuses: []redmine.IssueStatus{
			{ID: 1, Name: "New"},
			{ID: 2, Name: "In Progress"},
			{ID: 5, Name: "Closed", IsClosed: true},
		},
		nextIssue: 1,
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

// URL returns the base URL of the mock server.
func (m *RedmineMock) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *RedmineMock) Close() {
	m.server.Close()
}

// AddProject registers a project. repoURL becomes the value of the
// "Gitlab Repo" custom field; pass "" for a project with no linked repo.
func (m *RedmineMock) AddProject(id int64, identifier, name, repoURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &redmine.Project{ID: id, Name: name, Identifier: identifier}
	if repoURL != "" {
		p.CustomFields = []redmine.CustomField{{ID: 1, Name: "Gitlab Repo", Value: repoURL}}
	}
	m.projects[id] = p
}

// AddMember registers a user membership on a project.
func (m *RedmineMock) AddMember(projectID, userID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.userNames[userID] = name
	m.memberships[projectID] = append(m.memberships[projectID], redmine.Membership{
		ID:      int64(len(m.memberships[projectID]) + 1),
		Project: redmine.NamedRef{ID: projectID},
		User:    &redmine.NamedRef{ID: userID, Name: name},
	})
}

// AddIssue creates an issue directly in the mock's state and returns a
// copy of it. tracker and status are vocabulary names; assigneeID 0
// leaves the issue unassigned.
func (m *RedmineMock) AddIssue(projectID int64, subject, description, tracker, status string, assigneeID int64) *redmine.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue := &redmine.Issue{
		ID:          m.nextIssue,
		Project:     m.projectRefLocked(projectID),
		Tracker:     m.trackerByNameLocked(tracker),
		Status:      m.statusByNameLocked(status),
		Subject:     subject,
		Description: description,
		CreatedOn:   time.Now().UTC(),
		UpdatedOn:   time.Now().UTC(),
	}
	if assigneeID > 0 {
		issue.AssignedTo = &redmine.NamedRef{ID: assigneeID, Name: m.userNames[assigneeID]}
	}
	m.issues[m.nextIssue] = issue
	m.nextIssue++

	c := *issue
	return &c
}

// Issue returns a copy of an issue, or nil when it does not exist.
func (m *RedmineMock) Issue(id int64) *redmine.Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, ok := m.issues[id]
	if !ok {
		return nil
	}
	c := *issue
	return &c
}

// IssueCount returns how many issues exist across all projects.
func (m *RedmineMock) IssueCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.issues)
}

// MutateIssue edits an issue in place and bumps its update time, the
// way an interactive edit on the real platform would.
func (m *RedmineMock) MutateIssue(id int64, fn func(*redmine.Issue)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue, ok := m.issues[id]; ok {
		fn(issue)
		issue.UpdatedOn = time.Now().UTC()
	}
}

// DeleteIssue removes an issue entirely. Listings omit it and direct
// fetches return 404 afterwards.
func (m *RedmineMock) DeleteIssue(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.issues, id)
}

func (m *RedmineMock) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && path == "/trackers.json":
		m.handleTrackers(w)

	case r.Method == http.MethodGet && path == "/issue_statuses.json":
		m.handleStatuses(w)

	case r.Method == http.MethodGet && path == "/projects.json":
		m.handleListProjects(w, r)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/projects/") && strings.HasSuffix(path, "/memberships.json"):
		m.handleMemberships(w, r)

	case r.Method == http.MethodGet && path == "/issues.json":
		m.handleListIssues(w, r)

	case r.Method == http.MethodPost && path == "/issues.json":
		m.handleCreateIssue(w, r)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/issues/"):
		m.handleGetIssue(w, r)

	case r.Method == http.MethodPut && strings.HasPrefix(path, "/issues/"):
		m.handleUpdateIssue(w, r)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *RedmineMock) handleTrackers(w http.ResponseWriter) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"trackers": m.trackers})
}

func (m *RedmineMock) handleStatuses(w http.ResponseWriter) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"issue_statuses": m.statuses})
}

func (m *RedmineMock) handleListProjects(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	all := make([]redmine.Project, 0, len(m.projects))
	for _, p := range m.projects {
		all = append(all, *p)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	limit, offset := pageParams(r)
	page := slicePage(len(all), limit, offset)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"projects":    all[page.start:page.end],
		"total_count": len(all),
		"offset":      offset,
		"limit":       limit,
	})
}

func (m *RedmineMock) handleMemberships(w http.ResponseWriter, r *http.Request) {
	projectID := extractID(r.URL.Path, "projects")

	m.mu.RLock()
	all := append([]redmine.Membership(nil), m.memberships[projectID]...)
	m.mu.RUnlock()

	limit, offset := pageParams(r)
	page := slicePage(len(all), limit, offset)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memberships": all[page.start:page.end],
		"total_count": len(all),
		"offset":      offset,
		"limit":       limit,
	})
}

func (m *RedmineMock) handleListIssues(w http.ResponseWriter, r *http.Request) {
	projectID, _ := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)

	m.mu.RLock()
	all := make([]redmine.Issue, 0, len(m.issues))
	for _, issue := range m.issues {
		if projectID == 0 || issue.Project.ID == projectID {
			all = append(all, *issue)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	limit, offset := pageParams(r)
	page := slicePage(len(all), limit, offset)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issues":      all[page.start:page.end],
		"total_count": len(all),
		"offset":      offset,
		"limit":       limit,
	})
}

func (m *RedmineMock) handleGetIssue(w http.ResponseWriter, r *http.Request) {
	id := extractID(strings.TrimSuffix(r.URL.Path, ".json"), "issues")

	m.mu.RLock()
	issue, ok := m.issues[id]
	var c redmine.Issue
	if ok {
		c = *issue
	}
	m.mu.RUnlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"issue": c})
}

func (m *RedmineMock) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Issue map[string]json.RawMessage `json:"issue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	m.mu.Lock()
	var projectID int64
	_ = json.Unmarshal(req.Issue["project_id"], &projectID)

	issue := &redmine.Issue{
		ID:        m.nextIssue,
		Project:   m.projectRefLocked(projectID),
		Tracker:   redmine.NamedRef{ID: m.trackers[0].ID, Name: m.trackers[0].Name},
		Status:    m.statuses[0],
		CreatedOn: time.Now().UTC(),
		UpdatedOn: time.Now().UTC(),
	}
	m.applyFieldsLocked(issue, req.Issue)
	m.issues[m.nextIssue] = issue
	m.nextIssue++
	c := *issue
	m.mu.Unlock()

	if m.OnIssueCreated != nil {
		m.OnIssueCreated(&c)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"issue": c})
}

func (m *RedmineMock) handleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	id := extractID(strings.TrimSuffix(r.URL.Path, ".json"), "issues")

	var req struct {
		Issue map[string]json.RawMessage `json:"issue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	m.mu.Lock()
	issue, ok := m.issues[id]
	if ok {
		m.applyFieldsLocked(issue, req.Issue)
		issue.UpdatedOn = time.Now().UTC()
	}
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if m.OnIssueUpdated != nil {
		m.OnIssueUpdated(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyFieldsLocked merges an issue payload into the stored issue. The
// empty string on assigned_to_id and due_date clears the field, the way
// the real API treats it.
func (m *RedmineMock) applyFieldsLocked(issue *redmine.Issue, fields map[string]json.RawMessage) {
	if raw, ok := fields["subject"]; ok {
		_ = json.Unmarshal(raw, &issue.Subject)
	}
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &issue.Description)
	}
	if raw, ok := fields["tracker_id"]; ok {
		var id int64
		if json.Unmarshal(raw, &id) == nil {
			issue.Tracker = m.trackerRefLocked(id)
		}
	}
	if raw, ok := fields["status_id"]; ok {
		var id int64
		if json.Unmarshal(raw, &id) == nil {
			issue.Status = m.statusRefLocked(id)
		}
	}
	if raw, ok := fields["assigned_to_id"]; ok {
		var id int64
		if json.Unmarshal(raw, &id) == nil && id > 0 {
			issue.AssignedTo = &redmine.NamedRef{ID: id, Name: m.userNames[id]}
		} else {
			issue.AssignedTo = nil
		}
	}
	if raw, ok := fields["due_date"]; ok {
		var d string
		_ = json.Unmarshal(raw, &d)
		issue.DueDate = d
	}
}

func (m *RedmineMock) projectRefLocked(id int64) redmine.NamedRef {
	if p, ok := m.projects[id]; ok {
		return redmine.NamedRef{ID: p.ID, Name: p.Name}
	}
	return redmine.NamedRef{ID: id}
}

func (m *RedmineMock) trackerByNameLocked(name string) redmine.NamedRef {
	for _, t := range m.trackers {
		if strings.EqualFold(t.Name, name) {
			return redmine.NamedRef{ID: t.ID, Name: t.Name}
		}
	}
	return redmine.NamedRef{ID: m.trackers[0].ID, Name: m.trackers[0].Name}
}

func (m *RedmineMock) trackerRefLocked(id int64) redmine.NamedRef {
	for _, t := range m.trackers {
		if t.ID == id {
			return redmine.NamedRef{ID: t.ID, Name: t.Name}
		}
	}
	return redmine.NamedRef{ID: id, Name: fmt.Sprintf("tracker-%d", id)}
}

func (m *RedmineMock) statusByNameLocked(name string) redmine.IssueStatus {
	for _, s := range m.statuses {
		if strings.EqualFold(s.Name, name) {
			return s
		}
	}
	return m.statuses[0]
}

func (m *RedmineMock) statusRefLocked(id int64) redmine.IssueStatus {
	for _, s := range m.statuses {
		if s.ID == id {
			return s
		}
	}
	return m.statuses[0]
}

// Shared helpers

type pageBounds struct {
	start, end int
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 25
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func slicePage(total, limit, offset int) pageBounds {
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return pageBounds{start: start, end: end}
}

// extractID pulls the numeric id following a path segment, e.g.
// /projects/7/memberships.json with segment "projects" yields 7.
func extractID(path, segment string) int64 {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == segment && i+1 < len(parts) {
			id, _ := strconv.ParseInt(parts[i+1], 10, 64)
			return id
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
