package digest

import (
	"os"
	"path/filepath"
	"time"

	"github.com/alekspetrov/tether/internal/logging"
)

// Digest is a rendered summary of sync activity over one period.
type Digest struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Period      Period            `json:"period"`
	Stats       Stats             `json:"stats"`
	Projects    []ProjectActivity `json:"projects,omitempty"`
	Body        string            `json:"body"`
}

// Period is the time range a digest covers.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Stats aggregates pass reports for the period. Dry runs are excluded.
type Stats struct {
	Passes          int     `json:"passes"`
	FailedPasses    int     `json:"failed_passes"`
	SuccessRate     float64 `json:"success_rate"` // 0.0-1.0
	AvgPassMs       int64   `json:"avg_pass_ms"`
	MappingsSeeded  int     `json:"mappings_seeded"`
	CreatedForge    int     `json:"created_forge"`
	CreatedTracker  int     `json:"created_tracker"`
	MappingsDeleted int     `json:"mappings_deleted"`
	PatchesApplied  int     `json:"patches_applied"`
	Conflicts       int     `json:"conflicts"`
	Failures        int     `json:"failures"`
}

// ProjectActivity is the per-project slice of the period's activity,
// ordered by how much changed.
type ProjectActivity struct {
	Project         string `json:"project"`
	MappingsSeeded  int    `json:"mappings_seeded"`
	CreatedForge    int    `json:"created_forge"`
	CreatedTracker  int    `json:"created_tracker"`
	MappingsDeleted int    `json:"mappings_deleted"`
	PatchesApplied  int    `json:"patches_applied"`
	Conflicts       int    `json:"conflicts"`
	Failures        int    `json:"failures"`
}

// Changes returns the total mutation count for ordering.
func (p ProjectActivity) Changes() int {
	return p.MappingsSeeded + p.CreatedForge + p.CreatedTracker +
		p.MappingsDeleted + p.PatchesApplied
}

// Config holds digest job configuration
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // Cron syntax: "0 9 * * *"
	Timezone string `yaml:"timezone"`
	Path     string `yaml:"path"`
}

// Location resolves the configured timezone, falling back to UTC when
// the name does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		logging.WithComponent("digest").Warn("invalid timezone, using UTC",
			"timezone", c.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

// DefaultConfig returns default digest configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Enabled:  false,
		Schedule: "0 9 * * *",
		Timezone: "Local",
		Path:     filepath.Join(homeDir, ".tether", "digest.db"),
	}
}
