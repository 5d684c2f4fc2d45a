// Package health implements the doctor checks: configuration sanity,
// mapping store access, remote API reachability, and category vocabulary
// coverage on the tracker side.
package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/config"
	"github.com/alekspetrov/tether/internal/store"
)

// Status represents a check outcome
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Symbol returns the symbol for a status
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

// String returns the lowercase name of a status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusWarning:
		return "warning"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Check represents one health check result
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// Report contains all check results
type Report struct {
	Checks []Check
}

// Healthy reports whether no check failed outright. Warnings do not
// count against it.
func (r *Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.Status == StatusError {
			return false
		}
	}
	return true
}

// TrackerProbe is the slice of the tracker API the doctor needs.
type TrackerProbe interface {
	ListTrackers(ctx context.Context) ([]adapters.Ref, error)
	ListIssueStatuses(ctx context.Context) ([]adapters.Ref, error)
}

// ForgeProbe is the slice of the forge API the doctor needs.
type ForgeProbe interface {
	CurrentUser(ctx context.Context) (*adapters.Member, error)
}

// Doctor runs the checks against live configuration and remotes.
type Doctor struct {
	cfg     *config.Config
	tracker TrackerProbe
	forge   ForgeProbe
}

// NewDoctor creates a doctor. Either probe may be nil, in which case its
// checks report as disabled.
func NewDoctor(cfg *config.Config, tracker TrackerProbe, forge ForgeProbe) *Doctor {
	return &Doctor{cfg: cfg, tracker: tracker, forge: forge}
}

// Run performs all checks. Remote checks share the given context.
func (d *Doctor) Run(ctx context.Context) *Report {
	checks := []Check{
		d.checkConfig(),
		d.checkStorage(),
	}
	checks = append(checks, d.checkTracker(ctx)...)
	checks = append(checks, d.checkForge(ctx))
	return &Report{Checks: checks}
}

// checkConfig validates the loaded configuration.
func (d *Doctor) checkConfig() Check {
	if err := d.cfg.Validate(); err != nil {
		return Check{
			Name:    "config",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     fmt.Sprintf("edit %s", config.DefaultConfigPath()),
		}
	}
	return Check{
		Name:    "config",
		Status:  StatusOK,
		Message: "valid",
	}
}

// checkStorage opens the mapping database, which also runs migrations.
func (d *Doctor) checkStorage() Check {
	if d.cfg.Storage == nil || d.cfg.Storage.ConnectionString == "" {
		return Check{
			Name:    "storage",
			Status:  StatusError,
			Message: "no connection string configured",
			Fix:     "set storage.connection_string in the config",
		}
	}
	st, err := store.New(d.cfg.Storage.ConnectionString)
	if err != nil {
		return Check{
			Name:    "storage",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "check that the path is writable",
		}
	}
	_ = st.Close()
	return Check{
		Name:    "storage",
		Status:  StatusOK,
		Message: d.cfg.Storage.ConnectionString,
	}
}

// checkTracker probes the tracker API and verifies the configured
// category keys exist as live trackers. A closed status must exist for
// state sync to work in the tracker direction.
func (d *Doctor) checkTracker(ctx context.Context) []Check {
	if d.tracker == nil {
		return []Check{{
			Name:    "tracker api",
			Status:  StatusDisabled,
			Message: "no client",
		}}
	}

	trackers, err := d.tracker.ListTrackers(ctx)
	if err != nil {
		return []Check{{
			Name:    "tracker api",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "check redmine.base_url and redmine.api_key",
		}}
	}

	checks := []Check{{
		Name:    "tracker api",
		Status:  StatusOK,
		Message: fmt.Sprintf("%d trackers", len(trackers)),
	}}

	if missing := missingCategories(d.cfg.CategoryKeys, trackers); len(missing) > 0 {
		checks = append(checks, Check{
			Name:    "categories",
			Status:  StatusWarning,
			Message: fmt.Sprintf("not present as trackers: %s", strings.Join(missing, ", ")),
			Fix:     "create the missing trackers in Redmine or adjust category_keys",
		})
	} else {
		checks = append(checks, Check{
			Name:    "categories",
			Status:  StatusOK,
			Message: fmt.Sprintf("all %d category keys exist as trackers", len(d.cfg.CategoryKeys)),
		})
	}

	statuses, err := d.tracker.ListIssueStatuses(ctx)
	switch {
	case err != nil:
		checks = append(checks, Check{
			Name:    "statuses",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "check redmine.base_url and redmine.api_key",
		})
	case len(statuses) == 0:
		checks = append(checks, Check{
			Name:    "statuses",
			Status:  StatusWarning,
			Message: "no issue statuses visible",
			Fix:     "define issue statuses in Redmine administration",
		})
	default:
		checks = append(checks, Check{
			Name:    "statuses",
			Status:  StatusOK,
			Message: fmt.Sprintf("%d statuses", len(statuses)),
		})
	}

	return checks
}

// checkForge verifies the forge token authenticates.
func (d *Doctor) checkForge(ctx context.Context) Check {
	if d.forge == nil {
		return Check{
			Name:    "forge api",
			Status:  StatusDisabled,
			Message: "no client",
		}
	}
	user, err := d.forge.CurrentUser(ctx)
	if err != nil {
		return Check{
			Name:    "forge api",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "check gitlab.base_url and gitlab.token",
		}
	}
	return Check{
		Name:    "forge api",
		Status:  StatusOK,
		Message: fmt.Sprintf("authenticated as %s", user.Handle),
	}
}

// missingCategories returns the configured keys that have no tracker
// with the same name. Matching is case-insensitive, like the reference
// cache the engine resolves against.
func missingCategories(keys []string, trackers []adapters.Ref) []string {
	var missing []string
	for _, key := range keys {
		found := false
		for _, tr := range trackers {
			if strings.EqualFold(tr.Name, key) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, key)
		}
	}
	return missing
}
