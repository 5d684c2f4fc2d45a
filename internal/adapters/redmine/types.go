package redmine

import "time"

// Config holds Redmine adapter configuration
type Config struct {
	BaseURL         string `yaml:"base_url"`          // API endpoint, e.g. https://redmine.example.com
	APIKey          string `yaml:"api_key"`           // Sent as X-Redmine-API-Key
	PublicURL       string `yaml:"public_url"`        // Browser-facing URL for backlinks; defaults to BaseURL
	CustomFieldName string `yaml:"custom_field_name"` // Project custom field holding the GitLab repo URL
}

// DefaultConfig returns default Redmine configuration
func DefaultConfig() *Config {
	return &Config{
		CustomFieldName: "Gitlab Repo",
	}
}

// LinkBase returns the URL issue backlinks are built from.
func (c *Config) LinkBase() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return c.BaseURL
}

// Issue represents a Redmine issue
type Issue struct {
	ID           int64         `json:"id"`
	Project      NamedRef      `json:"project"`
	Tracker      NamedRef      `json:"tracker"`
	Status       IssueStatus   `json:"status"`
	Subject      string        `json:"subject"`
	Description  string        `json:"description"`
	AssignedTo   *NamedRef     `json:"assigned_to,omitempty"`
	DueDate      string        `json:"due_date,omitempty"` // YYYY-MM-DD, empty when unset
	CustomFields []CustomField `json:"custom_fields,omitempty"`
	CreatedOn    time.Time     `json:"created_on"`
	UpdatedOn    time.Time     `json:"updated_on"`
}

// NamedRef is Redmine's {id, name} reference shape
type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// IssueStatus is a status entry from /issue_statuses.json
type IssueStatus struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsClosed bool   `json:"is_closed,omitempty"`
}

// Tracker is a tracker entry from /trackers.json
type Tracker struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Project represents a Redmine project
type Project struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Identifier   string        `json:"identifier"`
	CustomFields []CustomField `json:"custom_fields,omitempty"`
}

// CustomField is a project or issue custom field value
type CustomField struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Membership is an entry from /projects/{id}/memberships.json. Group
// memberships carry no user and are skipped.
type Membership struct {
	ID      int64      `json:"id"`
	Project NamedRef   `json:"project"`
	User    *NamedRef  `json:"user,omitempty"`
	Group   *NamedRef  `json:"group,omitempty"`
	Roles   []NamedRef `json:"roles,omitempty"`
}

// Paged response envelopes. Redmine pages with offset/limit/total_count.
type issuesResponse struct {
	Issues     []Issue `json:"issues"`
	TotalCount int     `json:"total_count"`
	Offset     int     `json:"offset"`
	Limit      int     `json:"limit"`
}

type issueResponse struct {
	Issue Issue `json:"issue"`
}

type projectsResponse struct {
	Projects   []Project `json:"projects"`
	TotalCount int       `json:"total_count"`
	Offset     int       `json:"offset"`
	Limit      int       `json:"limit"`
}

type membershipsResponse struct {
	Memberships []Membership `json:"memberships"`
	TotalCount  int          `json:"total_count"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
}

type trackersResponse struct {
	Trackers []Tracker `json:"trackers"`
}

type statusesResponse struct {
	IssueStatuses []IssueStatus `json:"issue_statuses"`
}

// issuePayload wraps create/update bodies the way Redmine expects.
type issuePayload struct {
	Issue map[string]interface{} `json:"issue"`
}
