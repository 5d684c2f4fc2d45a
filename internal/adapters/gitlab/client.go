// Package gitlab implements the forge-side adapter over the GitLab REST
// API (/api/v4): token auth via PRIVATE-TOKEN, page-header pagination,
// labels as categories, and close/reopen state events.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/httpx"
)

const perPage = 100

// Client is a GitLab API client
type Client struct {
	cfg          Config
	categoryKeys []string
	http         *httpx.Client
}

// NewClient creates a new GitLab client. categoryKeys is the label
// vocabulary issues are folded onto when read.
func NewClient(cfg Config, categoryKeys []string) *Client {
	return &Client{
		cfg:          cfg,
		categoryKeys: categoryKeys,
		http:         httpx.New(),
	}
}

// NewClientWithHTTP creates a client on a caller-supplied transport
// (for testing)
func NewClientWithHTTP(cfg Config, categoryKeys []string, h *httpx.Client) *Client {
	return &Client{cfg: cfg, categoryKeys: categoryKeys, http: h}
}

// doRequest performs an HTTP request to the GitLab API and returns the
// response header so list calls can follow X-Next-Page.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) (http.Header, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	resp, err := c.http.Do(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, c.cfg.BaseURL+"/api/v4"+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("PRIVATE-TOKEN", c.cfg.Token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, adapters.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &adapters.RemoteError{StatusCode: resp.StatusCode, Body: trim(resp.Body)}
	}

	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return resp.Header, nil
}

// CurrentUser returns the user the token authenticates as. Doubles as a
// connectivity and credential check.
func (c *Client) CurrentUser(ctx context.Context) (*adapters.Member, error) {
	var user User
	if _, err := c.doRequest(ctx, http.MethodGet, "/user", nil, &user); err != nil {
		return nil, err
	}
	return &adapters.Member{ID: user.ID, Handle: user.Username, Name: user.Name}, nil
}

// ResolveProjectID resolves a namespace/name path to the numeric project
// id. Returns ErrNotFound when the path does not exist or is invisible to
// the token.
func (c *Client) ResolveProjectID(ctx context.Context, path string) (int64, error) {
	var project Project
	if _, err := c.doRequest(ctx, http.MethodGet, "/projects/"+url.PathEscape(path), nil, &project); err != nil {
		return 0, err
	}
	return project.ID, nil
}

// ListMembers returns all members of a project, inherited included.
func (c *Client) ListMembers(ctx context.Context, projectID int64) ([]adapters.Member, error) {
	var out []adapters.Member
	page := 1
	for page > 0 {
		path := fmt.Sprintf("/projects/%d/members/all?per_page=%d&page=%d", projectID, perPage, page)
		var users []User
		header, err := c.doRequest(ctx, http.MethodGet, path, nil, &users)
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			out = append(out, adapters.Member{ID: u.ID, Handle: u.Username, Name: u.Name})
		}
		page = nextPage(header)
	}
	return out, nil
}

// ListIssues returns all issues of a project. The endpoint returns every
// state when no state filter is given.
func (c *Client) ListIssues(ctx context.Context, projectID int64) ([]adapters.IssueView, error) {
	var out []adapters.IssueView
	page := 1
	for page > 0 {
		path := fmt.Sprintf("/projects/%d/issues?per_page=%d&page=%d", projectID, perPage, page)
		var issues []Issue
		header, err := c.doRequest(ctx, http.MethodGet, path, nil, &issues)
		if err != nil {
			return nil, err
		}
		for i := range issues {
			out = append(out, *c.toView(&issues[i]))
		}
		page = nextPage(header)
	}
	return out, nil
}

// GetIssue fetches a single issue by its project-scoped iid.
func (c *Client) GetIssue(ctx context.Context, projectID, iid int64) (*adapters.IssueView, error) {
	path := fmt.Sprintf("/projects/%d/issues/%d", projectID, iid)
	var issue Issue
	if _, err := c.doRequest(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, err
	}
	return c.toView(&issue), nil
}

// CreateIssue creates an issue and returns its live view. GitLab always
// creates issues opened; callers close them with a follow-up update.
func (c *Client) CreateIssue(ctx context.Context, projectID int64, draft adapters.ForgeDraft) (*adapters.IssueView, error) {
	fields := map[string]interface{}{
		"title":       draft.Title,
		"description": draft.Description,
	}
	if len(draft.Labels) > 0 {
		fields["labels"] = joinLabels(draft.Labels)
	}
	if len(draft.AssigneeIDs) > 0 {
		fields["assignee_ids"] = draft.AssigneeIDs
	}
	if draft.DueDate != nil {
		fields["due_date"] = *draft.DueDate
	}

	path := fmt.Sprintf("/projects/%d/issues", projectID)
	var issue Issue
	if _, err := c.doRequest(ctx, http.MethodPost, path, fields, &issue); err != nil {
		return nil, err
	}
	return c.toView(&issue), nil
}

// UpdateIssue applies a partial update. An empty assignee list clears the
// assignee; an empty due date clears the due date.
func (c *Client) UpdateIssue(ctx context.Context, projectID, iid int64, patch adapters.ForgePatch) error {
	if !patch.HasChanges() {
		return nil
	}

	fields := map[string]interface{}{}
	if patch.Title != nil {
		fields["title"] = *patch.Title
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Labels != nil {
		fields["labels"] = joinLabels(*patch.Labels)
	}
	if patch.AssigneeIDs != nil {
		ids := *patch.AssigneeIDs
		if ids == nil {
			ids = []int64{}
		}
		fields["assignee_ids"] = ids
	}
	if patch.DueDate != nil {
		fields["due_date"] = *patch.DueDate
	}
	if patch.StateEvent != nil {
		fields["state_event"] = *patch.StateEvent
	}

	path := fmt.Sprintf("/projects/%d/issues/%d", projectID, iid)
	_, err := c.doRequest(ctx, http.MethodPut, path, fields, nil)
	return err
}

// toView folds a wire issue onto the neutral view using the configured
// category keys.
func (c *Client) toView(in *Issue) *adapters.IssueView {
	return toIssueView(in, c.categoryKeys)
}

// joinLabels renders labels the way the API expects: comma-separated and
// lowercase. Lowercase is the forge-side convention for category labels;
// reads compare case-insensitively.
func joinLabels(labels []string) string {
	lowered := make([]string, len(labels))
	for i, l := range labels {
		lowered[i] = strings.ToLower(l)
	}
	return strings.Join(lowered, ",")
}

// nextPage reads the X-Next-Page header; 0 means the listing is done.
func nextPage(header http.Header) int {
	v := header.Get("X-Next-Page")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// trim bounds error bodies kept in RemoteError.
func trim(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
