package redmine

import (
	"fmt"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
)

// toIssueView converts a wire issue into the neutral view: subject becomes
// the title, the tracker name becomes the single label, and the status
// name folds onto open/closed.
func toIssueView(in *Issue, linkBase string) *adapters.IssueView {
	view := &adapters.IssueView{
		ID:          in.ID,
		ProjectID:   in.Project.ID,
		Title:       in.Subject,
		Description: in.Description,
		Status:      statusOf(in.Status.Name),
		UpdatedAt:   in.UpdatedOn.UTC(),
		WebURL:      fmt.Sprintf("%s/issues/%d", strings.TrimRight(linkBase, "/"), in.ID),
	}

	if in.Tracker.Name != "" {
		view.Labels = []string{in.Tracker.Name}
	}
	if in.AssignedTo != nil {
		id := in.AssignedTo.ID
		view.AssigneeID = &id
	}
	if in.DueDate != "" {
		d := in.DueDate
		view.DueDate = &d
	}

	return view
}

// statusOf maps a Redmine status name onto the neutral vocabulary. Only
// the status named "Closed" counts as closed; every other status is a
// flavor of open.
func statusOf(name string) adapters.Status {
	if strings.EqualFold(name, "Closed") {
		return adapters.StatusClosed
	}
	return adapters.StatusOpen
}

// toProjectInfo flattens a wire project, keying custom fields by name.
func toProjectInfo(in *Project) adapters.ProjectInfo {
	info := adapters.ProjectInfo{
		ID:   in.ID,
		Key:  in.Identifier,
		Name: in.Name,
	}
	if len(in.CustomFields) > 0 {
		info.CustomFields = make(map[string]string, len(in.CustomFields))
		for _, f := range in.CustomFields {
			info.CustomFields[f.Name] = f.Value
		}
	}
	return info
}

// toMember converts a membership entry, returning nil for group entries.
func toMember(in *Membership) *adapters.Member {
	if in.User == nil {
		return nil
	}
	return &adapters.Member{
		ID:   in.User.ID,
		Name: in.User.Name,
	}
}
