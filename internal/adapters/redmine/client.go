// Package redmine implements the tracker-side adapter over the Redmine
// REST API: key auth via X-Redmine-API-Key, offset/limit pagination, and
// numeric tracker/status ids on every mutation.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/httpx"
)

const pageLimit = 100

// Client is a Redmine API client
type Client struct {
	cfg  Config
	http *httpx.Client
}

// NewClient creates a new Redmine client
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: httpx.New(),
	}
}

// NewClientWithHTTP creates a client on a caller-supplied transport
// (for testing)
func NewClientWithHTTP(cfg Config, h *httpx.Client) *Client {
	return &Client{cfg: cfg, http: h}
}

// doRequest performs an HTTP request to the Redmine API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	resp, err := c.http.Do(ctx, func() (*http.Request, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequest(method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Redmine-API-Key", c.cfg.APIKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		return adapters.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &adapters.RemoteError{StatusCode: resp.StatusCode, Body: trim(resp.Body)}
	}

	if result != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// ListProjects returns all visible projects with their custom fields.
func (c *Client) ListProjects(ctx context.Context) ([]adapters.ProjectInfo, error) {
	var out []adapters.ProjectInfo
	offset := 0
	for {
		path := fmt.Sprintf("/projects.json?limit=%d&offset=%d", pageLimit, offset)
		var page projectsResponse
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Projects {
			out = append(out, toProjectInfo(&page.Projects[i]))
		}
		offset += len(page.Projects)
		if len(page.Projects) == 0 || offset >= page.TotalCount {
			break
		}
	}
	return out, nil
}

// ListMembers returns the user members of a project. Group memberships
// are filtered out.
func (c *Client) ListMembers(ctx context.Context, projectID int64) ([]adapters.Member, error) {
	var out []adapters.Member
	offset := 0
	for {
		path := fmt.Sprintf("/projects/%d/memberships.json?limit=%d&offset=%d", projectID, pageLimit, offset)
		var page membershipsResponse
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Memberships {
			if m := toMember(&page.Memberships[i]); m != nil {
				out = append(out, *m)
			}
		}
		offset += len(page.Memberships)
		if len(page.Memberships) == 0 || offset >= page.TotalCount {
			break
		}
	}
	return out, nil
}

// ListIssues returns all issues of a project in any state. status_id=*
// keeps closed issues in the result set.
func (c *Client) ListIssues(ctx context.Context, projectID int64) ([]adapters.IssueView, error) {
	var out []adapters.IssueView
	offset := 0
	for {
		path := fmt.Sprintf("/issues.json?project_id=%d&status_id=*&limit=%d&offset=%d", projectID, pageLimit, offset)
		var page issuesResponse
		if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for i := range page.Issues {
			out = append(out, *toIssueView(&page.Issues[i], c.cfg.LinkBase()))
		}
		offset += len(page.Issues)
		if len(page.Issues) == 0 || offset >= page.TotalCount {
			break
		}
	}
	return out, nil
}

// GetIssue fetches a single issue by its global id.
func (c *Client) GetIssue(ctx context.Context, issueID int64) (*adapters.IssueView, error) {
	path := fmt.Sprintf("/issues/%d.json", issueID)
	var resp issueResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return toIssueView(&resp.Issue, c.cfg.LinkBase()), nil
}

// CreateIssue creates an issue and returns its live view.
func (c *Client) CreateIssue(ctx context.Context, projectID int64, draft adapters.TrackerDraft) (*adapters.IssueView, error) {
	fields := map[string]interface{}{
		"project_id":  projectID,
		"subject":     draft.Subject,
		"description": draft.Description,
	}
	if draft.TrackerID != nil {
		fields["tracker_id"] = *draft.TrackerID
	}
	if draft.StatusID != nil {
		fields["status_id"] = *draft.StatusID
	}
	if draft.AssignedToID != nil {
		fields["assigned_to_id"] = *draft.AssignedToID
	}
	if draft.DueDate != nil {
		fields["due_date"] = *draft.DueDate
	}

	var resp issueResponse
	if err := c.doRequest(ctx, http.MethodPost, "/issues.json", issuePayload{Issue: fields}, &resp); err != nil {
		return nil, err
	}
	return toIssueView(&resp.Issue, c.cfg.LinkBase()), nil
}

// UpdateIssue applies a partial update. Pointer-to-zero fields clear the
// assignee and due date by sending the empty string Redmine expects.
func (c *Client) UpdateIssue(ctx context.Context, issueID int64, patch adapters.TrackerPatch) error {
	if !patch.HasChanges() {
		return nil
	}

	fields := map[string]interface{}{}
	if patch.Subject != nil {
		fields["subject"] = *patch.Subject
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.TrackerID != nil {
		fields["tracker_id"] = *patch.TrackerID
	}
	if patch.StatusID != nil {
		fields["status_id"] = *patch.StatusID
	}
	if patch.AssignedToID != nil {
		if *patch.AssignedToID == 0 {
			fields["assigned_to_id"] = ""
		} else {
			fields["assigned_to_id"] = *patch.AssignedToID
		}
	}
	if patch.DueDate != nil {
		fields["due_date"] = *patch.DueDate
	}

	path := fmt.Sprintf("/issues/%d.json", issueID)
	return c.doRequest(ctx, http.MethodPut, path, issuePayload{Issue: fields}, nil)
}

// ListTrackers returns the global tracker vocabulary.
func (c *Client) ListTrackers(ctx context.Context) ([]adapters.Ref, error) {
	var resp trackersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/trackers.json", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]adapters.Ref, 0, len(resp.Trackers))
	for _, t := range resp.Trackers {
		out = append(out, adapters.Ref{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

// ListIssueStatuses returns the global status vocabulary.
func (c *Client) ListIssueStatuses(ctx context.Context) ([]adapters.Ref, error) {
	var resp statusesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/issue_statuses.json", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]adapters.Ref, 0, len(resp.IssueStatuses))
	for _, s := range resp.IssueStatuses {
		out = append(out, adapters.Ref{ID: s.ID, Name: s.Name})
	}
	return out, nil
}

// trim bounds error bodies kept in RemoteError.
func trim(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
