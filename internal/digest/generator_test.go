package digest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alekspetrov/tether/internal/engine"
)

func TestGeneratorGenerate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	report := passReport("pass-1", base,
		&engine.ProjectReport{Project: "gitlab-repo", MappingsSeeded: 2, PatchesApplied: 4},
	)
	if err := store.RecordPass(ctx, report); err != nil {
		t.Fatalf("RecordPass failed: %v", err)
	}

	gen := NewGenerator(store, &Config{Timezone: "UTC"})
	period := Period{Start: base.Add(-time.Hour), End: base.Add(time.Hour)}

	d, err := gen.Generate(ctx, period)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if d.GeneratedAt.IsZero() {
		t.Error("GeneratedAt should be set")
	}
	if !d.Period.Start.Equal(period.Start) || !d.Period.End.Equal(period.End) {
		t.Errorf("Period = %+v, want %+v", d.Period, period)
	}
	if d.Stats.Passes != 1 {
		t.Errorf("Stats.Passes = %d, want 1", d.Stats.Passes)
	}
	if d.Stats.PatchesApplied != 4 {
		t.Errorf("Stats.PatchesApplied = %d, want 4", d.Stats.PatchesApplied)
	}
	if len(d.Projects) != 1 || d.Projects[0].Project != "gitlab-repo" {
		t.Errorf("unexpected projects: %+v", d.Projects)
	}
	if !strings.Contains(d.Body, "TETHER SYNC DIGEST") {
		t.Error("Body missing digest header")
	}
	if !strings.Contains(d.Body, "gitlab-repo") {
		t.Error("Body missing project name")
	}
}

func TestGeneratorGenerateEmptyPeriod(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, nil)

	now := time.Now().UTC()
	d, err := gen.Generate(context.Background(), Period{Start: now.Add(-time.Hour), End: now})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if d.Stats.Passes != 0 {
		t.Errorf("Stats.Passes = %d, want 0", d.Stats.Passes)
	}
	if !strings.Contains(d.Body, "No passes recorded") {
		t.Error("Body should note the idle period")
	}
}

func TestGeneratorGenerateDaily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// One pass two hours ago lands inside the rolling 24h window,
	// one three days ago does not.
	recent := passReport("recent", time.Now().UTC().Add(-2*time.Hour),
		&engine.ProjectReport{Project: "gitlab-repo", PatchesApplied: 1})
	old := passReport("old", time.Now().UTC().Add(-72*time.Hour),
		&engine.ProjectReport{Project: "gitlab-repo", PatchesApplied: 9})
	for _, r := range []*engine.PassReport{recent, old} {
		if err := store.RecordPass(ctx, r); err != nil {
			t.Fatalf("RecordPass failed: %v", err)
		}
	}

	gen := NewGenerator(store, &Config{Timezone: "UTC"})
	d, err := gen.GenerateDaily(ctx)
	if err != nil {
		t.Fatalf("GenerateDaily failed: %v", err)
	}

	if d.Stats.Passes != 1 {
		t.Errorf("Stats.Passes = %d, want 1", d.Stats.Passes)
	}
	if d.Stats.PatchesApplied != 1 {
		t.Errorf("Stats.PatchesApplied = %d, want 1", d.Stats.PatchesApplied)
	}
	if window := d.Period.End.Sub(d.Period.Start); window != 24*time.Hour {
		t.Errorf("window = %v, want 24h", window)
	}
}

func TestGeneratorInvalidTimezoneFallsBack(t *testing.T) {
	store := newTestStore(t)
	gen := NewGenerator(store, &Config{Timezone: "Invalid/Timezone"})

	d, err := gen.GenerateDaily(context.Background())
	if err != nil {
		t.Fatalf("GenerateDaily failed: %v", err)
	}
	if d == nil || d.Body == "" {
		t.Error("expected a rendered digest despite the bad timezone")
	}
}
