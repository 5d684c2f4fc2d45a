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

	"github.com/alekspetrov/tether/internal/adapters/gitlab"
)

// GitLabMock is a stateful forge API server under /api/v4. Issue ids are
// instance-global and iids project-scoped, and list endpoints page with
// the X-Next-Page header, matching the real platform.
type GitLabMock struct {
	server *httptest.Server

	mu         sync.RWMutex
	tokenOwner gitlab.User
	projects   map[string]gitlab.Project
	members    map[int64][]gitlab.User
	issues     map[int64]map[int64]*gitlab.Issue
	nextID     int64
	nextIID    map[int64]int64

	// Callbacks for test assertions
	OnIssueCreated func(issue *gitlab.Issue)
	OnStateEvent   func(projectID, iid int64, event string)
}

// NewGitLabMock creates a forge mock. The token authenticates as a
// service account named sync-bot.
func NewGitLabMock() *GitLabMock {
	m := &GitLabMock{
		tokenOwner: gitlab.User{ID: 999, Username: "sync-bot", Name: "Sync Bot", State: "active"},
		projects:   make(map[string]gitlab.Project),
		members:    make(map[int64][]gitlab.User),
		issues:     make(map[int64]map[int64]*gitlab.Issue),
		nextID:     1,
		nextIID:    make(map[int64]int64),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

// URL returns the base URL of the mock server.
func (m *GitLabMock) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *GitLabMock) Close() {
	m.server.Close()
}

// AddProject registers a project reachable by its namespace path.
func (m *GitLabMock) AddProject(id int64, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projects[path] = gitlab.Project{
		ID:                id,
		Name:              path[strings.LastIndex(path, "/")+1:],
		PathWithNamespace: path,
		WebURL:            m.server.URL + "/" + path,
	}
	if _, ok := m.issues[id]; !ok {
		m.issues[id] = make(map[int64]*gitlab.Issue)
		m.nextIID[id] = 1
	}
}

// AddMember registers a project member.
func (m *GitLabMock) AddMember(projectID, userID int64, username, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.members[projectID] = append(m.members[projectID], gitlab.User{
		ID: userID, Username: username, Name: name, State: "active",
	})
}

// AddIssue creates an issue directly in the mock's state and returns a
// copy of it. assigneeID 0 leaves the issue unassigned.
func (m *GitLabMock) AddIssue(projectID int64, title, description string, labels []string, assigneeID int64) *gitlab.Issue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addIssueLocked(projectID, title, description, labels, assigneeID)
}

func (m *GitLabMock) addIssueLocked(projectID int64, title, description string, labels []string, assigneeID int64) *gitlab.Issue {
	if _, ok := m.issues[projectID]; !ok {
		m.issues[projectID] = make(map[int64]*gitlab.Issue)
		m.nextIID[projectID] = 1
	}

	issue := &gitlab.Issue{
		ID:          m.nextID,
		IID:         m.nextIID[projectID],
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		State:       gitlab.StateOpened,
		Labels:      append([]string(nil), labels...),
		WebURL:      fmt.Sprintf("%s/%s/-/issues/%d", m.server.URL, m.pathForLocked(projectID), m.nextIID[projectID]),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if assigneeID > 0 {
		u := m.memberLocked(projectID, assigneeID)
		issue.Assignees = []*gitlab.User{&u}
	}
	m.issues[projectID][issue.IID] = issue
	m.nextID++
	m.nextIID[projectID]++

	c := *issue
	return &c
}

// Issue returns a copy of an issue, or nil when it does not exist.
func (m *GitLabMock) Issue(projectID, iid int64) *gitlab.Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	issue, ok := m.issues[projectID][iid]
	if !ok {
		return nil
	}
	c := *issue
	return &c
}

// IssueCount returns how many issues a project holds.
func (m *GitLabMock) IssueCount(projectID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.issues[projectID])
}

// MutateIssue edits an issue in place and bumps its update time, the
// way an interactive edit on the real platform would.
func (m *GitLabMock) MutateIssue(projectID, iid int64, fn func(*gitlab.Issue)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if issue, ok := m.issues[projectID][iid]; ok {
		fn(issue)
		issue.UpdatedAt = time.Now().UTC()
	}
}

// DeleteIssue removes an issue entirely. Listings omit it and direct
// fetches return 404 afterwards.
func (m *GitLabMock) DeleteIssue(projectID, iid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.issues[projectID], iid)
}

func (m *GitLabMock) handleRequest(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v4")

	switch {
	case r.Method == http.MethodGet && path == "/user":
		m.mu.RLock()
		owner := m.tokenOwner
		m.mu.RUnlock()
		writeJSON(w, http.StatusOK, owner)

	case r.Method == http.MethodGet && strings.Contains(path, "/members/all"):
		m.handleMembers(w, r, path)

	case strings.Contains(path, "/issues"):
		m.handleIssues(w, r, path)

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/projects/"):
		m.handleResolveProject(w, path)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleResolveProject serves GET /projects/{path}. The request path
// arrives percent-encoded and is decoded by the HTTP layer, so the
// namespace path is everything after the prefix.
func (m *GitLabMock) handleResolveProject(w http.ResponseWriter, path string) {
	reqPath := strings.TrimPrefix(path, "/projects/")

	m.mu.RLock()
	project, ok := m.projects[reqPath]
	m.mu.RUnlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (m *GitLabMock) handleMembers(w http.ResponseWriter, r *http.Request, path string) {
	projectID := extractID(path, "projects")

	m.mu.RLock()
	all := append([]gitlab.User(nil), m.members[projectID]...)
	m.mu.RUnlock()

	m.writePaged(w, r, len(all), func(start, end int) interface{} { return all[start:end] })
}

func (m *GitLabMock) handleIssues(w http.ResponseWriter, r *http.Request, path string) {
	projectID := extractID(path, "projects")
	iid := extractID(path, "issues")

	switch {
	case r.Method == http.MethodGet && iid == 0:
		m.handleListProjectIssues(w, r, projectID)
	case r.Method == http.MethodGet:
		m.handleGetProjectIssue(w, projectID, iid)
	case r.Method == http.MethodPost:
		m.handleCreateProjectIssue(w, r, projectID)
	case r.Method == http.MethodPut:
		m.handleUpdateProjectIssue(w, r, projectID, iid)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *GitLabMock) handleListProjectIssues(w http.ResponseWriter, r *http.Request, projectID int64) {
	m.mu.RLock()
	all := make([]gitlab.Issue, 0, len(m.issues[projectID]))
	for _, issue := range m.issues[projectID] {
		all = append(all, *issue)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].IID < all[j].IID })
	m.writePaged(w, r, len(all), func(start, end int) interface{} { return all[start:end] })
}

// writePaged slices a listing by per_page/page and emits the
// X-Next-Page header before the body.
func (m *GitLabMock) writePaged(w http.ResponseWriter, r *http.Request, total int, slice func(start, end int) interface{}) {
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	w.Header().Set("Content-Type", "application/json")
	if end < total {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(slice(start, end))
}

func (m *GitLabMock) handleGetProjectIssue(w http.ResponseWriter, projectID, iid int64) {
	m.mu.RLock()
	issue, ok := m.issues[projectID][iid]
	var c gitlab.Issue
	if ok {
		c = *issue
	}
	m.mu.RUnlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (m *GitLabMock) handleCreateProjectIssue(w http.ResponseWriter, r *http.Request, projectID int64) {
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Labels      string  `json:"labels"`
		AssigneeIDs []int64 `json:"assignee_ids"`
		DueDate     *string `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	var assignee int64
	if len(req.AssigneeIDs) > 0 {
		assignee = req.AssigneeIDs[0]
	}
	issue := m.addIssueLocked(projectID, req.Title, req.Description, splitLabels(req.Labels), assignee)
	if req.DueDate != nil {
		m.issues[projectID][issue.IID].DueDate = *req.DueDate
		issue.DueDate = *req.DueDate
	}
	m.mu.Unlock()

	if m.OnIssueCreated != nil {
		m.OnIssueCreated(issue)
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (m *GitLabMock) handleUpdateProjectIssue(w http.ResponseWriter, r *http.Request, projectID, iid int64) {
	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var stateEvent string

	m.mu.Lock()
	issue, ok := m.issues[projectID][iid]
	if ok {
		if raw, has := fields["title"]; has {
			_ = json.Unmarshal(raw, &issue.Title)
		}
		if raw, has := fields["description"]; has {
			_ = json.Unmarshal(raw, &issue.Description)
		}
		if raw, has := fields["labels"]; has {
			var labels string
			_ = json.Unmarshal(raw, &labels)
			issue.Labels = splitLabels(labels)
		}
		if raw, has := fields["assignee_ids"]; has {
			var ids []int64
			_ = json.Unmarshal(raw, &ids)
			issue.Assignees = nil
			for _, id := range ids {
				u := m.memberLocked(projectID, id)
				issue.Assignees = append(issue.Assignees, &u)
			}
		}
		if raw, has := fields["due_date"]; has {
			_ = json.Unmarshal(raw, &issue.DueDate)
		}
		if raw, has := fields["state_event"]; has {
			_ = json.Unmarshal(raw, &stateEvent)
			switch stateEvent {
			case "close":
				issue.State = gitlab.StateClosed
			case "reopen":
				issue.State = gitlab.StateOpened
			}
		}
		issue.UpdatedAt = time.Now().UTC()
	}
	var c gitlab.Issue
	if ok {
		c = *issue
	}
	m.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if stateEvent != "" && m.OnStateEvent != nil {
		m.OnStateEvent(projectID, iid, stateEvent)
	}
	writeJSON(w, http.StatusOK, c)
}

func (m *GitLabMock) memberLocked(projectID, userID int64) gitlab.User {
	for _, u := range m.members[projectID] {
		if u.ID == userID {
			return u
		}
	}
	return gitlab.User{ID: userID, State: "active"}
}

func (m *GitLabMock) pathForLocked(projectID int64) string {
	for path, p := range m.projects {
		if p.ID == projectID {
			return path
		}
	}
	return fmt.Sprintf("project-%d", projectID)
}

func splitLabels(joined string) []string {
	if joined == "" {
		return nil
	}
	parts := strings.Split(joined, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
