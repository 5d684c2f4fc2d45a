package gitlab

import (
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
)

// toIssueView converts a wire issue into the neutral view. Of the issue's
// labels, the first one found in categoryKeys (case-insensitive) becomes
// the single neutral label; the rest are platform noise and dropped.
func toIssueView(in *Issue, categoryKeys []string) *adapters.IssueView {
	view := &adapters.IssueView{
		ID:          in.ID,
		IID:         in.IID,
		ProjectID:   in.ProjectID,
		Title:       in.Title,
		Description: in.Description,
		Status:      statusOf(in.State),
		UpdatedAt:   in.UpdatedAt.UTC(),
		WebURL:      in.WebURL,
	}

	if label := categoryLabel(in.Labels, categoryKeys); label != "" {
		view.Labels = []string{label}
	}
	if a := firstAssignee(in); a != nil {
		id := a.ID
		view.AssigneeID = &id
	}
	if in.DueDate != "" {
		d := in.DueDate
		view.DueDate = &d
	}

	return view
}

// statusOf maps a GitLab state onto the neutral vocabulary.
func statusOf(state string) adapters.Status {
	if state == StateClosed {
		return adapters.StatusClosed
	}
	return adapters.StatusOpen
}

// categoryLabel returns the first issue label that is a configured
// category key, compared case-insensitively.
func categoryLabel(labels, categoryKeys []string) string {
	for _, l := range labels {
		for _, key := range categoryKeys {
			if strings.EqualFold(l, key) {
				return l
			}
		}
	}
	return ""
}

// firstAssignee prefers the assignees list, falling back to the legacy
// single-assignee field.
func firstAssignee(in *Issue) *User {
	if len(in.Assignees) > 0 {
		return in.Assignees[0]
	}
	return in.Assignee
}
