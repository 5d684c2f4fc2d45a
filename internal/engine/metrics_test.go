package engine

import (
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	snap := m.Snapshot()
	if snap.TotalPasses() != 0 {
		t.Errorf("expected 0 passes, got %d", snap.TotalPasses())
	}
	if snap.ProjectsSynced != 0 || snap.PatchFailures != 0 {
		t.Error("expected zero counters")
	}
	if snap.PassSuccessRate != 0 {
		t.Errorf("expected 0 success rate, got %v", snap.PassSuccessRate)
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordPass("success")
	m.RecordPass("success")
	m.RecordPass("failed")

	m.RecordProjectSynced()
	m.RecordProjectSynced()
	m.RecordProjectFailure()

	m.RecordMappingSeeded()
	m.RecordIssueCreated("forge")
	m.RecordIssueCreated("forge")
	m.RecordIssueCreated("tracker")
	m.RecordMappingDeleted()

	m.RecordPatchApplied("tracker")
	m.RecordPatchApplied("forge")
	m.RecordPatchApplied("forge")
	m.RecordPatchFailure()
	m.RecordConflictMerged()
	m.RecordUserPaired()
	m.RecordUserPaired()

	snap := m.Snapshot()

	if snap.Passes["success"] != 2 {
		t.Errorf("expected 2 successful passes, got %d", snap.Passes["success"])
	}
	if snap.Passes["failed"] != 1 {
		t.Errorf("expected 1 failed pass, got %d", snap.Passes["failed"])
	}
	if snap.TotalPasses() != 3 {
		t.Errorf("expected 3 total passes, got %d", snap.TotalPasses())
	}
	if got := snap.PassSuccessRate; got < 0.66 || got > 0.67 {
		t.Errorf("expected success rate ~0.667, got %v", got)
	}
	if snap.ProjectsSynced != 2 {
		t.Errorf("expected 2 projects synced, got %d", snap.ProjectsSynced)
	}
	if snap.ProjectFailures != 1 {
		t.Errorf("expected 1 project failure, got %d", snap.ProjectFailures)
	}
	if snap.MappingsSeeded != 1 {
		t.Errorf("expected 1 seeded mapping, got %d", snap.MappingsSeeded)
	}
	if snap.IssuesCreated["forge"] != 2 {
		t.Errorf("expected 2 forge creates, got %d", snap.IssuesCreated["forge"])
	}
	if snap.IssuesCreated["tracker"] != 1 {
		t.Errorf("expected 1 tracker create, got %d", snap.IssuesCreated["tracker"])
	}
	if snap.MappingsDeleted != 1 {
		t.Errorf("expected 1 deleted mapping, got %d", snap.MappingsDeleted)
	}
	if snap.PatchesApplied["forge"] != 2 || snap.PatchesApplied["tracker"] != 1 {
		t.Errorf("unexpected patch counts: %v", snap.PatchesApplied)
	}
	if snap.PatchFailures != 1 {
		t.Errorf("expected 1 patch failure, got %d", snap.PatchFailures)
	}
	if snap.ConflictsMerged != 1 {
		t.Errorf("expected 1 merged conflict, got %d", snap.ConflictsMerged)
	}
	if snap.UsersPaired != 2 {
		t.Errorf("expected 2 paired users, got %d", snap.UsersPaired)
	}
}

func TestMetricsGauges(t *testing.T) {
	m := NewMetrics()

	m.SetLinkedProjects(3)
	m.SetTrackedMappings(42)

	snap := m.Snapshot()
	if snap.LinkedProjects != 3 {
		t.Errorf("expected 3 linked projects, got %d", snap.LinkedProjects)
	}
	if snap.TrackedMappings != 42 {
		t.Errorf("expected 42 tracked mappings, got %d", snap.TrackedMappings)
	}

	m.SetLinkedProjects(1)
	if got := m.Snapshot().LinkedProjects; got != 1 {
		t.Errorf("gauge should overwrite, got %d", got)
	}
}

func TestMetricsPassDurations(t *testing.T) {
	m := NewMetrics()

	m.RecordPassDuration(2 * time.Second)
	m.RecordPassDuration(4 * time.Second)

	samples := m.PassDurationSamples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if got := m.Snapshot().AvgPassDuration; got != 3*time.Second {
		t.Errorf("expected 3s average, got %v", got)
	}

	// Returned slice is a copy.
	samples[0] = time.Hour
	if got := m.PassDurationSamples()[0]; got != 2*time.Second {
		t.Errorf("sample mutated through copy: %v", got)
	}
}

func TestMetricsSampleCap(t *testing.T) {
	m := NewMetrics()
	m.maxSamples = 5

	for i := 0; i < 8; i++ {
		m.RecordPassDuration(time.Duration(i) * time.Second)
	}

	samples := m.PassDurationSamples()
	if len(samples) != 5 {
		t.Fatalf("expected cap at 5 samples, got %d", len(samples))
	}
	if samples[0] != 3*time.Second {
		t.Errorf("expected oldest retained sample 3s, got %v", samples[0])
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	m.RecordPass("success")
	m.RecordProjectSynced()
	m.RecordIssueCreated("forge")
	m.RecordPatchApplied("tracker")
	m.SetLinkedProjects(2)
	m.RecordPassDuration(time.Second)

	if got := m.PassDurationSamples(); got != nil {
		t.Errorf("nil metrics returned samples: %v", got)
	}
	snap := m.Snapshot()
	if snap.TotalPasses() != 0 {
		t.Errorf("nil metrics counted passes: %d", snap.TotalPasses())
	}
}

func TestMetricsSnapshotIsolation(t *testing.T) {
	m := NewMetrics()
	m.RecordPass("success")

	snap := m.Snapshot()
	snap.Passes["success"] = 99

	if got := m.Snapshot().Passes["success"]; got != 1 {
		t.Errorf("snapshot mutation leaked into metrics: %d", got)
	}
}
