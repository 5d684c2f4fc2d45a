package e2e

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/tether/e2e/mocks"
	"github.com/alekspetrov/tether/internal/adapters/gitlab"
	"github.com/alekspetrov/tether/internal/adapters/redmine"
	"github.com/alekspetrov/tether/internal/config"
	"github.com/alekspetrov/tether/internal/engine"
	"github.com/alekspetrov/tether/internal/tether"
)

const (
	trackerProjectID = int64(7)
	forgeProjectID   = int64(42)
	repoPath         = "team/backlog"
)

// fixture wires the real daemon against the two API mocks: one tracker
// project linked to one forge repo, with a matching member on each side.
type fixture struct {
	rm *mocks.RedmineMock
	gl *mocks.GitLabMock
	tt *tether.Tether
}

func newFixture(t *testing.T, opts ...tether.Option) *fixture {
	t.Helper()

	rm := mocks.NewRedmineMock()
	t.Cleanup(rm.Close)
	gl := mocks.NewGitLabMock()
	t.Cleanup(gl.Close)

	rm.AddProject(trackerProjectID, "backlog", "Backlog", "https://gitlab.example.com/"+repoPath)
	gl.AddProject(forgeProjectID, repoPath)
	rm.AddMember(trackerProjectID, 3, "Dana Moore")
	gl.AddMember(forgeProjectID, 9, "dana.moore", "Dana Moore")

	cfg := config.DefaultConfig()
	cfg.Redmine.BaseURL = rm.URL()
	cfg.Redmine.APIKey = "e2e-key"
	cfg.GitLab.BaseURL = gl.URL()
	cfg.GitLab.Token = "e2e-token"
	cfg.Storage.ConnectionString = filepath.Join(t.TempDir(), "tether.db")
	cfg.Polling.Enabled = false
	cfg.Server.Enabled = false
	cfg.Digest.Enabled = false

	tt, err := tether.New(cfg, opts...)
	if err != nil {
		t.Fatalf("tether.New() error = %v", err)
	}
	t.Cleanup(func() { _ = tt.Stop() })

	return &fixture{rm: rm, gl: gl, tt: tt}
}

// runPass executes one sync pass and fails the test on any pass-level
// or project-level error.
func (f *fixture) runPass(t *testing.T) *engine.ProjectReport {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := f.tt.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if report.Error != "" {
		t.Fatalf("pass failed: %s", report.Error)
	}
	for _, pr := range report.Projects {
		if pr.Project == "backlog" {
			if pr.Error != "" {
				t.Fatalf("project sync failed: %s", pr.Error)
			}
			return pr
		}
	}
	t.Fatal("no report for project backlog")
	return nil
}

func TestTrackerIssueFlowsToForge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t)
	// A bot membership must never correlate.
	f.gl.AddMember(forgeProjectID, 77, "project_42_bot", "Token Bot")

	issue := f.rm.AddIssue(trackerProjectID, "Fix login crash", "Crash on empty password", "Bug", "New", 3)
	// Out-of-vocabulary category, must stay tracker-only.
	f.rm.AddIssue(trackerProjectID, "Renew SSL cert", "Expires next month", "Support", "New", 0)

	pr := f.runPass(t)

	if pr.UsersPaired != 1 {
		t.Errorf("UsersPaired = %d, want 1", pr.UsersPaired)
	}
	if pr.CreatedForge != 1 {
		t.Errorf("CreatedForge = %d, want 1", pr.CreatedForge)
	}
	if pr.Failures != 0 {
		t.Errorf("Failures = %d, want 0", pr.Failures)
	}
	if n := f.gl.IssueCount(forgeProjectID); n != 1 {
		t.Fatalf("forge issue count = %d, want 1", n)
	}

	created := f.gl.Issue(forgeProjectID, 1)
	if created == nil {
		t.Fatal("forge issue 1 not found")
	}
	if created.Title != "Fix login crash" {
		t.Errorf("forge title = %q", created.Title)
	}
	wantDesc := "Source: " + f.rm.URL() + "/issues/1\n\nCrash on empty password"
	if created.Description != wantDesc {
		t.Errorf("forge description = %q, want %q", created.Description, wantDesc)
	}
	if len(created.Labels) != 1 || created.Labels[0] != "bug" {
		t.Errorf("forge labels = %v, want [bug]", created.Labels)
	}
	if len(created.Assignees) != 1 || created.Assignees[0].ID != 9 {
		t.Errorf("forge assignees = %v, want correlated user 9", created.Assignees)
	}
	if created.State != gitlab.StateOpened {
		t.Errorf("forge state = %q, want opened", created.State)
	}

	// The tracker side is untouched on a clean first pass.
	if got := f.rm.Issue(issue.ID); got.Description != "Crash on empty password" {
		t.Errorf("tracker description changed: %q", got.Description)
	}
}

func TestForgeIssueFlowsToTracker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t)
	f.gl.AddIssue(forgeProjectID, "Add dark mode", "Requested by support", []string{"feature", "ux"}, 9)

	pr := f.runPass(t)

	if pr.CreatedTracker != 1 {
		t.Errorf("CreatedTracker = %d, want 1", pr.CreatedTracker)
	}
	if n := f.rm.IssueCount(); n != 1 {
		t.Fatalf("tracker issue count = %d, want 1", n)
	}

	created := f.rm.Issue(1)
	if created == nil {
		t.Fatal("tracker issue 1 not found")
	}
	if created.Subject != "Add dark mode" {
		t.Errorf("tracker subject = %q", created.Subject)
	}
	if created.Tracker.Name != "Feature" {
		t.Errorf("tracker category = %q, want Feature", created.Tracker.Name)
	}
	if created.Status.Name != "New" {
		t.Errorf("tracker status = %q, want New", created.Status.Name)
	}
	if created.AssignedTo == nil || created.AssignedTo.ID != 3 {
		t.Errorf("tracker assignee = %v, want correlated user 3", created.AssignedTo)
	}
	wantDesc := "Source: " + f.gl.URL() + "/" + repoPath + "/-/issues/1\n\nRequested by support"
	if created.Description != wantDesc {
		t.Errorf("tracker description = %q, want %q", created.Description, wantDesc)
	}
}

func TestTitleSeedingAdoptsExistingPairs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t)
	a := f.rm.AddIssue(trackerProjectID, "  Fix Login Crash ", "tracker wording", "Bug", "New", 0)
	f.gl.AddIssue(forgeProjectID, "fix login crash", "forge wording", []string{"bug"}, 0)

	pr := f.runPass(t)

	if pr.MappingsSeeded != 1 {
		t.Errorf("MappingsSeeded = %d, want 1", pr.MappingsSeeded)
	}
	if pr.CreatedForge != 0 || pr.CreatedTracker != 0 {
		t.Errorf("created forge=%d tracker=%d, want no creations", pr.CreatedForge, pr.CreatedTracker)
	}

	// A seeded pair has no canonical yet; the first reconciliation pushes
	// the tracker toward the forge view.
	if pr.PatchesApplied == 0 {
		t.Error("expected the seeded pair to be converged in the same pass")
	}
	got := f.rm.Issue(a.ID)
	if got.Subject != "fix login crash" {
		t.Errorf("tracker subject = %q, want the forge title", got.Subject)
	}
	if !strings.Contains(got.Description, "forge wording") {
		t.Errorf("tracker description = %q, want the forge payload", got.Description)
	}
	if !strings.HasPrefix(got.Description, "Source: ") {
		t.Errorf("tracker description lacks backlink: %q", got.Description)
	}
}

func TestStatusPropagatesBothWays(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t)
	a := f.rm.AddIssue(trackerProjectID, "Fix login crash", "Crash on empty password", "Bug", "New", 0)
	f.runPass(t)

	// Close on the forge.
	f.gl.MutateIssue(forgeProjectID, 1, func(i *gitlab.Issue) { i.State = gitlab.StateClosed })
	pr := f.runPass(t)

	if pr.PatchesApplied != 1 {
		t.Errorf("PatchesApplied = %d, want 1", pr.PatchesApplied)
	}
	got := f.rm.Issue(a.ID)
	if got.Status.Name != "Closed" || !got.Status.IsClosed {
		t.Errorf("tracker status = %+v, want Closed", got.Status)
	}

	// Reopen on the forge, converge again.
	f.gl.MutateIssue(forgeProjectID, 1, func(i *gitlab.Issue) { i.State = gitlab.StateOpened })
	f.runPass(t)

	if got := f.rm.Issue(a.ID); got.Status.Name != "New" {
		t.Errorf("tracker status after reopen = %q, want New", got.Status.Name)
	}

	// Close on the tracker, the forge follows.
	f.rm.MutateIssue(a.ID, func(i *redmine.Issue) {
		i.Status = redmine.IssueStatus{ID: 5, Name: "Closed", IsClosed: true}
	})
	f.runPass(t)

	if got := f.gl.Issue(forgeProjectID, 1); got.State != gitlab.StateClosed {
		t.Errorf("forge state = %q, want closed", got.State)
	}
}

func TestConflictingEditsMergePerField(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t)
	a := f.rm.AddIssue(trackerProjectID, "Fix login crash", "Crash on empty password", "Bug", "New", 0)
	f.runPass(t)

	// Different fields edited on each side between passes.
	f.rm.MutateIssue(a.ID, func(i *redmine.Issue) { i.Subject = "Fix login crash properly" })
	f.gl.MutateIssue(forgeProjectID, 1, func(i *gitlab.Issue) { i.DueDate = "2026-09-30" })

	pr := f.runPass(t)

	if pr.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", pr.Conflicts)
	}
	if got := f.gl.Issue(forgeProjectID, 1); got.Title != "Fix login crash properly" {
		t.Errorf("forge title = %q, want the tracker edit", got.Title)
	}
	if got := f.rm.Issue(a.ID); got.DueDate != "2026-09-30" {
		t.Errorf("tracker due date = %q, want the forge edit", got.DueDate)
	}
}

func TestVanishedIssueSweepsMappingOnly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t)
	a := f.rm.AddIssue(trackerProjectID, "Fix login crash", "Crash on empty password", "Bug", "New", 0)
	f.runPass(t)

	f.gl.DeleteIssue(forgeProjectID, 1)
	pr := f.runPass(t)

	if pr.MappingsDeleted != 1 {
		t.Errorf("MappingsDeleted = %d, want 1", pr.MappingsDeleted)
	}
	// The surviving tracker issue is not re-created in the same pass the
	// sweep ran in.
	if pr.CreatedForge != 0 {
		t.Errorf("CreatedForge = %d, want 0 in the sweep pass", pr.CreatedForge)
	}
	if f.rm.Issue(a.ID) == nil {
		t.Fatal("tracker issue deleted, deletions must never propagate")
	}

	// The next pass sees an unmapped tracker issue and recreates the pair.
	pr = f.runPass(t)
	if pr.CreatedForge != 1 {
		t.Errorf("CreatedForge = %d, want 1 on the following pass", pr.CreatedForge)
	}
	if n := f.gl.IssueCount(forgeProjectID); n != 1 {
		t.Errorf("forge issue count = %d, want 1", n)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	f := newFixture(t, tether.WithDryRun(true))
	f.rm.AddIssue(trackerProjectID, "Fix login crash", "Crash on empty password", "Bug", "New", 0)

	pr := f.runPass(t)
	if pr.CreatedForge != 1 {
		t.Errorf("CreatedForge = %d, want 1 planned creation", pr.CreatedForge)
	}
	if n := f.gl.IssueCount(forgeProjectID); n != 0 {
		t.Fatalf("forge issue count = %d, dry run must not create", n)
	}

	// Nothing was persisted either: the next dry pass plans the same work.
	pr = f.runPass(t)
	if pr.CreatedForge != 1 {
		t.Errorf("CreatedForge on second dry pass = %d, want 1", pr.CreatedForge)
	}
}
