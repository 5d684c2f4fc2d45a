package digest

import (
	"strings"
	"testing"
	"time"
)

func TestPlainTextFormatter(t *testing.T) {
	d := &Digest{
		GeneratedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Period: Period{
			Start: time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		},
		Stats: Stats{
			Passes:          24,
			FailedPasses:    2,
			SuccessRate:     22.0 / 24.0,
			AvgPassMs:       3200,
			MappingsSeeded:  5,
			CreatedForge:    3,
			CreatedTracker:  1,
			MappingsDeleted: 2,
			PatchesApplied:  17,
			Conflicts:       2,
			Failures:        1,
		},
		Projects: []ProjectActivity{
			{Project: "gitlab-repo", MappingsSeeded: 5, PatchesApplied: 12, Conflicts: 2},
			{Project: "infra-tools", CreatedForge: 3, CreatedTracker: 1, MappingsDeleted: 2, PatchesApplied: 5, Failures: 1},
		},
	}

	out, err := NewPlainTextFormatter().Format(d)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	for _, want := range []string{
		"TETHER SYNC DIGEST — Jun 1, 2025",
		"PASSES",
		"Runs: 24 (22 ok, 2 failed, 92% success)",
		"Avg duration: 3s",
		"CHANGES",
		"Mappings seeded: 5",
		"Issues created on forge: 3",
		"Issues created on tracker: 1",
		"Patches applied: 17",
		"Mappings swept: 2",
		"CONFLICTS",
		"Field-merged both-side edits: 2",
		"NOT CONVERGED",
		"Pairs left for the next pass: 1",
		"PROJECTS (2)",
		"• gitlab-repo — 12 patched",
		"• infra-tools — 5 patched",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\nGot:\n%s", want, out)
		}
	}
}

func TestPlainTextFormatterQuietPeriod(t *testing.T) {
	d := &Digest{
		GeneratedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Period: Period{
			Start: time.Date(2025, 5, 31, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		},
	}

	out, err := NewPlainTextFormatter().Format(d)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	for _, want := range []string{
		"No passes recorded",
		"Both platforms already converged",
		"No project activity",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\nGot:\n%s", want, out)
		}
	}

	// A quiet period has no conflict or failure sections
	for _, absent := range []string{"CONFLICTS", "NOT CONVERGED"} {
		if strings.Contains(out, absent) {
			t.Errorf("output should not contain %q for a quiet period", absent)
		}
	}
}

func TestPlainTextFormatterSectionsConditional(t *testing.T) {
	d := &Digest{
		GeneratedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		Stats: Stats{
			Passes:         10,
			PatchesApplied: 3,
			// No conflicts, no failures
		},
	}

	out, err := NewPlainTextFormatter().Format(d)
	if err != nil {
		t.Fatalf("Format failed: %v", err)
	}

	if strings.Contains(out, "CONFLICTS") {
		t.Error("CONFLICTS section should be omitted when there were none")
	}
	if strings.Contains(out, "NOT CONVERGED") {
		t.Error("NOT CONVERGED section should be omitted when everything converged")
	}
	if !strings.Contains(out, "Patches applied: 3") {
		t.Error("CHANGES section should list applied patches")
	}
}

func TestStatsTotalChanges(t *testing.T) {
	s := Stats{
		MappingsSeeded:  1,
		CreatedForge:    2,
		CreatedTracker:  3,
		MappingsDeleted: 4,
		PatchesApplied:  5,
		Conflicts:       99, // merges are counted inside patches
		Failures:        99, // nothing changed for pending pairs
	}
	if got := s.TotalChanges(); got != 15 {
		t.Errorf("TotalChanges() = %d, want 15", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "N/A"},
		{450, "450ms"},
		{3200, "3s"},
		{65000, "1m 5s"},
		{3900000, "1h 5m"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.ms); got != tt.want {
				t.Errorf("formatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}
