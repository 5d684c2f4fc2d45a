package digest

import (
	"fmt"
	"strings"
	"time"
)

// Formatter renders digests for display.
type Formatter interface {
	Format(d *Digest) (string, error)
}

// PlainTextFormatter renders digests as plain text.
type PlainTextFormatter struct{}

// NewPlainTextFormatter creates a new plain text formatter.
func NewPlainTextFormatter() *PlainTextFormatter {
	return &PlainTextFormatter{}
}

// Format renders a digest as plain text.
func (f *PlainTextFormatter) Format(d *Digest) (string, error) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("TETHER SYNC DIGEST — %s\n", d.GeneratedAt.Format("Jan 2, 2006")))
	sb.WriteString(fmt.Sprintf("Period: %s to %s\n",
		d.Period.Start.Format("Jan 2 15:04"),
		d.Period.End.Format("Jan 2 15:04")))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	// Passes
	sb.WriteString("PASSES\n")
	sb.WriteString(strings.Repeat("-", 30) + "\n")
	if d.Stats.Passes == 0 {
		sb.WriteString("  No passes recorded\n")
	} else {
		ok := d.Stats.Passes - d.Stats.FailedPasses
		sb.WriteString(fmt.Sprintf("  Runs: %d (%d ok, %d failed, %.0f%% success)\n",
			d.Stats.Passes, ok, d.Stats.FailedPasses, d.Stats.SuccessRate*100))
		sb.WriteString(fmt.Sprintf("  Avg duration: %s\n", formatDuration(d.Stats.AvgPassMs)))
	}
	sb.WriteString("\n")

	// Changes
	sb.WriteString("CHANGES\n")
	sb.WriteString(strings.Repeat("-", 30) + "\n")
	if d.Stats.TotalChanges() == 0 {
		sb.WriteString("  Both platforms already converged\n")
	} else {
		sb.WriteString(fmt.Sprintf("  Mappings seeded: %d\n", d.Stats.MappingsSeeded))
		sb.WriteString(fmt.Sprintf("  Issues created on forge: %d\n", d.Stats.CreatedForge))
		sb.WriteString(fmt.Sprintf("  Issues created on tracker: %d\n", d.Stats.CreatedTracker))
		sb.WriteString(fmt.Sprintf("  Patches applied: %d\n", d.Stats.PatchesApplied))
		sb.WriteString(fmt.Sprintf("  Mappings swept: %d\n", d.Stats.MappingsDeleted))
	}
	sb.WriteString("\n")

	// Conflicts and failures only when present
	if d.Stats.Conflicts > 0 {
		sb.WriteString("CONFLICTS\n")
		sb.WriteString(strings.Repeat("-", 30) + "\n")
		sb.WriteString(fmt.Sprintf("  Field-merged both-side edits: %d\n", d.Stats.Conflicts))
		sb.WriteString("\n")
	}
	if d.Stats.Failures > 0 {
		sb.WriteString("NOT CONVERGED\n")
		sb.WriteString(strings.Repeat("-", 30) + "\n")
		sb.WriteString(fmt.Sprintf("  Pairs left for the next pass: %d\n", d.Stats.Failures))
		sb.WriteString("\n")
	}

	// Projects
	sb.WriteString(fmt.Sprintf("PROJECTS (%d)\n", len(d.Projects)))
	sb.WriteString(strings.Repeat("-", 30) + "\n")
	if len(d.Projects) == 0 {
		sb.WriteString("  No project activity\n")
	}
	for _, p := range d.Projects {
		line := fmt.Sprintf("  • %s — %d patched", p.Project, p.PatchesApplied)
		if created := p.CreatedForge + p.CreatedTracker; created > 0 {
			line += fmt.Sprintf(", %d created", created)
		}
		if p.MappingsDeleted > 0 {
			line += fmt.Sprintf(", %d swept", p.MappingsDeleted)
		}
		if p.Conflicts > 0 {
			line += fmt.Sprintf(", %d merged", p.Conflicts)
		}
		if p.Failures > 0 {
			line += fmt.Sprintf(", %d pending", p.Failures)
		}
		sb.WriteString(line + "\n")
	}

	return sb.String(), nil
}

// TotalChanges returns the sum of all mutation counters.
func (s Stats) TotalChanges() int {
	return s.MappingsSeeded + s.CreatedForge + s.CreatedTracker +
		s.MappingsDeleted + s.PatchesApplied
}

// formatDuration formats milliseconds as human readable duration
func formatDuration(ms int64) string {
	if ms == 0 {
		return "N/A"
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return fmt.Sprintf("%dms", ms)
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
