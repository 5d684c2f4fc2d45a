package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "tether.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "tether.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = s.Close() }()
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}

func TestDsnPath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"/data/tether.db", "/data/tether.db"},
		{"file:/data/tether.db", "/data/tether.db"},
		{"/data/tether.db?_busy_timeout=5000", "/data/tether.db"},
		{"tether.db", "tether.db"},
	}
	for _, tt := range tests {
		if got := dsnPath(tt.dsn); got != tt.want {
			t.Errorf("dsnPath(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestUpsertProjectAndRepo(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, err := s.UpsertProject(ctx, 7, "billing", "Billing")
	if err != nil {
		t.Fatalf("UpsertProject() error = %v", err)
	}
	if p.ID == 0 || p.RedmineProjectID != 7 || p.RedmineKey != "billing" {
		t.Errorf("project = %+v", p)
	}
	if p.Linked() {
		t.Error("project should not be linked before repo resolution")
	}

	if err := s.UpsertRepo(ctx, p.ID, "https://gitlab.example.com/acme/billing", "acme/billing"); err != nil {
		t.Fatalf("UpsertRepo() error = %v", err)
	}
	if err := s.SetRepoGitLabID(ctx, p.ID, 311); err != nil {
		t.Fatalf("SetRepoGitLabID() error = %v", err)
	}

	linked, err := s.LinkedProjects(ctx)
	if err != nil {
		t.Fatalf("LinkedProjects() error = %v", err)
	}
	if len(linked) != 1 {
		t.Fatalf("LinkedProjects() returned %d, want 1", len(linked))
	}
	if !linked[0].Linked() || *linked[0].Repo.GitLabProjectID != 311 {
		t.Errorf("linked project = %+v", linked[0].Repo)
	}

	// Re-upsert with a new name updates in place.
	p2, err := s.UpsertProject(ctx, 7, "billing", "Billing v2")
	if err != nil {
		t.Fatalf("UpsertProject() error = %v", err)
	}
	if p2.ID != p.ID || p2.Name != "Billing v2" {
		t.Errorf("upsert changed identity: %+v vs %+v", p, p2)
	}
}

func TestUpsertRepoPathChangeClearsResolvedID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, _ := s.UpsertProject(ctx, 7, "billing", "Billing")
	_ = s.UpsertRepo(ctx, p.ID, "https://gitlab.example.com/acme/billing", "acme/billing")
	_ = s.SetRepoGitLabID(ctx, p.ID, 311)

	// Same path keeps the id.
	_ = s.UpsertRepo(ctx, p.ID, "https://gitlab.example.com/acme/billing.git", "acme/billing")
	linked, _ := s.LinkedProjects(ctx)
	if len(linked) != 1 {
		t.Fatalf("project should stay linked after URL-only change, got %d linked", len(linked))
	}

	// Path change forces re-resolution.
	_ = s.UpsertRepo(ctx, p.ID, "https://gitlab.example.com/acme/invoicing", "acme/invoicing")
	linked, _ = s.LinkedProjects(ctx)
	if len(linked) != 0 {
		t.Fatalf("project should be unlinked after path change, got %d linked", len(linked))
	}
}

func TestAllProjectsIncludesUnlinked(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p1, _ := s.UpsertProject(ctx, 1, "one", "One")
	_ = s.UpsertRepo(ctx, p1.ID, "https://gitlab.example.com/acme/one", "acme/one")
	_, _ = s.UpsertProject(ctx, 2, "two", "Two")

	all, err := s.AllProjects(ctx)
	if err != nil {
		t.Fatalf("AllProjects() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("AllProjects() returned %d, want 2", len(all))
	}
	if all[0].Repo == nil {
		t.Error("first project should carry its repo")
	}
	if all[1].Repo != nil {
		t.Error("second project has no repo row")
	}
}

func TestMappingLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, _ := s.UpsertProject(ctx, 7, "billing", "Billing")

	m := &Mapping{ProjectID: p.ID, RedmineIssueID: 11, GitLabIssueID: 9005, GitLabIssueIID: 5}
	if err := s.CreateMapping(ctx, m); err != nil {
		t.Fatalf("CreateMapping() error = %v", err)
	}
	if m.ID == 0 {
		t.Fatal("CreateMapping() did not set ID")
	}

	got, err := s.MappingByRedmineIssue(ctx, 11)
	if err != nil {
		t.Fatalf("MappingByRedmineIssue() error = %v", err)
	}
	if got == nil || got.GitLabIssueIID != 5 {
		t.Errorf("mapping = %+v", got)
	}
	if got.Canonical != nil {
		t.Errorf("fresh mapping canonical = %v, want nil", got.Canonical)
	}

	if err := s.AdvanceCanonical(ctx, m.ID, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("AdvanceCanonical() error = %v", err)
	}
	got, _ = s.MappingByGitLabIssue(ctx, 9005)
	if string(got.Canonical) != `{"v":1}` {
		t.Errorf("canonical = %s, want {\"v\":1}", got.Canonical)
	}

	list, err := s.MappingsForProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("MappingsForProject() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("MappingsForProject() returned %d, want 1", len(list))
	}

	if err := s.DeleteMapping(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMapping() error = %v", err)
	}
	got, err = s.MappingByRedmineIssue(ctx, 11)
	if err != nil {
		t.Fatalf("MappingByRedmineIssue() after delete error = %v", err)
	}
	if got != nil {
		t.Errorf("mapping still present after delete: %+v", got)
	}
}

func TestMappingUniqueness(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, _ := s.UpsertProject(ctx, 7, "billing", "Billing")
	other, _ := s.UpsertProject(ctx, 8, "ops", "Ops")

	if err := s.CreateMapping(ctx, &Mapping{ProjectID: p.ID, RedmineIssueID: 11, GitLabIssueID: 9005, GitLabIssueIID: 5}); err != nil {
		t.Fatalf("CreateMapping() error = %v", err)
	}

	// Same Redmine issue, even in another project, is rejected.
	err := s.CreateMapping(ctx, &Mapping{ProjectID: other.ID, RedmineIssueID: 11, GitLabIssueID: 9006, GitLabIssueIID: 6})
	if !IsUniqueViolation(err) {
		t.Errorf("duplicate redmine id error = %v, want uniqueness violation", err)
	}

	// Same GitLab issue is rejected too.
	err = s.CreateMapping(ctx, &Mapping{ProjectID: p.ID, RedmineIssueID: 12, GitLabIssueID: 9005, GitLabIssueIID: 5})
	if !IsUniqueViolation(err) {
		t.Errorf("duplicate gitlab id error = %v, want uniqueness violation", err)
	}

	count, _ := s.CountMappings(ctx, 0)
	if count != 1 {
		t.Errorf("CountMappings() = %d, want 1", count)
	}
}

func TestPairUserFirstWriteWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inserted, err := s.PairUser(ctx, 5, 42, "jane.smith")
	if err != nil {
		t.Fatalf("PairUser() error = %v", err)
	}
	if !inserted {
		t.Fatal("first PairUser() should insert")
	}

	// Re-pairing the same Redmine id with a different GitLab id is ignored.
	inserted, err = s.PairUser(ctx, 5, 43, "jane")
	if err != nil {
		t.Fatalf("PairUser() error = %v", err)
	}
	if inserted {
		t.Error("second PairUser() with same redmine id should be ignored")
	}

	u, err := s.UserByRedmineID(ctx, 5)
	if err != nil {
		t.Fatalf("UserByRedmineID() error = %v", err)
	}
	if u == nil || u.GitLabUserID == nil || *u.GitLabUserID != 42 {
		t.Errorf("user = %+v, want original pairing kept", u)
	}
	if u.DisplayKey != "jane.smith" {
		t.Errorf("DisplayKey = %q, want jane.smith", u.DisplayKey)
	}

	// The GitLab id is claimed too.
	inserted, _ = s.PairUser(ctx, 6, 42, "other")
	if inserted {
		t.Error("PairUser() with taken gitlab id should be ignored")
	}

	missing, err := s.UserByGitLabID(ctx, 999)
	if err != nil {
		t.Fatalf("UserByGitLabID() error = %v", err)
	}
	if missing != nil {
		t.Errorf("UserByGitLabID(999) = %+v, want nil", missing)
	}

	count, _ := s.CountUsers(ctx)
	if count != 1 {
		t.Errorf("CountUsers() = %d, want 1", count)
	}
}

func TestRefCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.RefreshTrackers(ctx, []RefRow{{ExternalID: 1, Name: "Bug"}, {ExternalID: 2, Name: "Feature"}}); err != nil {
		t.Fatalf("RefreshTrackers() error = %v", err)
	}
	if err := s.RefreshStatuses(ctx, []RefRow{{ExternalID: 1, Name: "New"}, {ExternalID: 5, Name: "Closed"}}); err != nil {
		t.Fatalf("RefreshStatuses() error = %v", err)
	}

	id, ok, err := s.TrackerIDByName(ctx, "feature")
	if err != nil || !ok || id != 2 {
		t.Errorf("TrackerIDByName(feature) = %d/%v/%v, want 2/true/nil", id, ok, err)
	}
	id, ok, _ = s.StatusIDByName(ctx, "CLOSED")
	if !ok || id != 5 {
		t.Errorf("StatusIDByName(CLOSED) = %d/%v, want 5/true", id, ok)
	}
	_, ok, _ = s.StatusIDByName(ctx, "In Progress")
	if ok {
		t.Error("StatusIDByName(In Progress) should miss")
	}

	// A rename plus id swap survives a refresh.
	if err := s.RefreshTrackers(ctx, []RefRow{{ExternalID: 1, Name: "Feature"}, {ExternalID: 2, Name: "Bug"}}); err != nil {
		t.Fatalf("RefreshTrackers() swap error = %v", err)
	}
	id, ok, _ = s.TrackerIDByName(ctx, "Bug")
	if !ok || id != 2 {
		t.Errorf("TrackerIDByName(Bug) after swap = %d/%v, want 2/true", id, ok)
	}

	trackers, err := s.Trackers(ctx)
	if err != nil {
		t.Fatalf("Trackers() error = %v", err)
	}
	if len(trackers) != 2 {
		t.Errorf("Trackers() returned %d rows, want 2", len(trackers))
	}
}

func TestTouchProjectSync(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p, _ := s.UpsertProject(ctx, 7, "billing", "Billing")
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := s.TouchProjectSync(ctx, p.ID, at); err != nil {
		t.Fatalf("TouchProjectSync() error = %v", err)
	}

	all, _ := s.AllProjects(ctx)
	if len(all) != 1 || all[0].LastSyncAt == nil {
		t.Fatal("LastSyncAt not recorded")
	}
	if !all[0].LastSyncAt.Equal(at) {
		t.Errorf("LastSyncAt = %v, want %v", all[0].LastSyncAt, at)
	}
}
