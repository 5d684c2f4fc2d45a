package gitlab

import "time"

// Config selects the GitLab instance the forge adapter talks to.
type Config struct {
	BaseURL   string `yaml:"base_url"`   // Default: https://gitlab.com
	Token     string `yaml:"token"`      // Personal Access Token, sent as PRIVATE-TOKEN
	PublicURL string `yaml:"public_url"` // Browser-facing URL for backlinks; defaults to BaseURL
}

// DefaultConfig points the adapter at gitlab.com.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://gitlab.com",
	}
}

// LinkBase returns the URL issue backlinks are built from.
func (c *Config) LinkBase() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return c.BaseURL
}

// GitLab issue states. The API also accepts "all" as a list filter.
const (
	StateOpened = "opened"
	StateClosed = "closed"
)

// Issue is a GitLab issue as /api/v4 returns it.
type Issue struct {
	ID          int64     `json:"id"`  // Instance-global id
	IID         int64     `json:"iid"` // Project-scoped id
	ProjectID   int64     `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"` // opened, closed
	Labels      []string  `json:"labels"`
	Assignee    *User     `json:"assignee,omitempty"`
	Assignees   []*User   `json:"assignees,omitempty"`
	DueDate     string    `json:"due_date,omitempty"` // YYYY-MM-DD, empty when unset
	WebURL      string    `json:"web_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is a GitLab account. Username is the handle member pairing
// correlates against.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	State    string `json:"state"`
}

// Project is the repository container issues live in.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}
