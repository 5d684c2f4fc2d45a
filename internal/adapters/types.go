package adapters

import "time"

// Status is the neutral open/closed vocabulary both platforms map onto.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// IssueView is the neutral snapshot of a remote issue. Adapters translate
// their wire shapes into it: Redmine's subject becomes Title and its
// tracker name becomes the single label; GitLab's first label that lies in
// the configured category keys becomes the single label. AssigneeID stays
// platform-native; the engine translates it to a correlated user row.
type IssueView struct {
	ID          int64  // global id on either platform
	IID         int64  // project-scoped counter, forge only
	ProjectID   int64  // remote project id the issue belongs to
	Title       string
	Description string
	Labels      []string
	AssigneeID  *int64
	DueDate     *string // calendar date, YYYY-MM-DD
	Status      Status
	UpdatedAt   time.Time // UTC
	WebURL      string
}

// ProjectInfo describes a tracker-side project and its custom fields.
type ProjectInfo struct {
	ID           int64
	Key          string // string handle (Redmine identifier)
	Name         string
	CustomFields map[string]string
}

// Member is a project member on either platform. Handle carries the login
// (forge side); Name carries the display name (tracker side).
type Member struct {
	ID     int64
	Handle string
	Name   string
}

// Ref is a named reference-data entry (tracker or issue status).
type Ref struct {
	ID   int64
	Name string
}

// TrackerDraft is the creation payload for the tracker side. Numeric
// tracker/status ids are resolved by the caller from the reference cache.
type TrackerDraft struct {
	Subject      string
	Description  string
	TrackerID    *int64
	StatusID     *int64
	AssignedToID *int64
	DueDate      *string
}

// TrackerPatch is a partial update for the tracker side. A nil field means
// "do not touch". A pointer to the zero value clears the field where the
// platform supports clearing (assignee, due date).
type TrackerPatch struct {
	Subject      *string
	Description  *string
	TrackerID    *int64
	StatusID     *int64
	AssignedToID *int64
	DueDate      *string
}

// HasChanges reports whether any field of the patch is set.
func (p *TrackerPatch) HasChanges() bool {
	return p.Subject != nil || p.Description != nil || p.TrackerID != nil ||
		p.StatusID != nil || p.AssignedToID != nil || p.DueDate != nil
}

// ForgeDraft is the creation payload for the forge side. Issues are always
// created open; the caller closes them afterwards when needed.
type ForgeDraft struct {
	Title       string
	Description string
	Labels      []string
	AssigneeIDs []int64
	DueDate     *string
}

// State events accepted by ForgePatch.StateEvent.
const (
	StateEventClose  = "close"
	StateEventReopen = "reopen"
)

// ForgePatch is a partial update for the forge side. A nil field means
// "do not touch"; an empty AssigneeIDs slice clears the assignee; an empty
// DueDate clears the due date. StateEvent is "close" or "reopen".
type ForgePatch struct {
	Title       *string
	Description *string
	Labels      *[]string
	AssigneeIDs *[]int64
	DueDate     *string
	StateEvent  *string
}

// HasChanges reports whether any field of the patch is set.
func (p *ForgePatch) HasChanges() bool {
	return p.Title != nil || p.Description != nil || p.Labels != nil ||
		p.AssigneeIDs != nil || p.DueDate != nil || p.StateEvent != nil
}
