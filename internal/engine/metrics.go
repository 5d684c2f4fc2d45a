package engine

import (
	"sync"
	"time"
)

// Metrics collects sync engine operational metrics. All methods are
// goroutine-safe and tolerate a nil receiver, so tests and one-shot
// runs need no wiring.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	Passes          map[string]int64 // result → count (success, failed)
	ProjectsSynced  int64
	ProjectFailures int64
	MappingsSeeded  int64
	IssuesCreated   map[string]int64 // side → count (tracker, forge)
	MappingsDeleted int64
	PatchesApplied  map[string]int64 // side → count (tracker, forge)
	PatchFailures   int64
	ConflictsMerged int64
	UsersPaired     int64

	// Gauges (point-in-time values)
	LinkedProjects  int // projects with a resolved forge repo
	TrackedMappings int // rows in the mapping table after the last pass

	// Histogram (stored as recent samples)
	PassDurations []time.Duration

	maxSamples int
}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		Passes:         make(map[string]int64),
		IssuesCreated:  make(map[string]int64),
		PatchesApplied: make(map[string]int64),
		PassDurations:  make([]time.Duration, 0, 100),
		maxSamples:     1000,
	}
}

// --- Counter increments ---

// RecordPass increments the pass counter by result ("success", "failed").
func (m *Metrics) RecordPass(result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Passes[result]++
}

// RecordProjectSynced increments the synced project counter.
func (m *Metrics) RecordProjectSynced() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProjectsSynced++
}

// RecordProjectFailure increments the failed project counter.
func (m *Metrics) RecordProjectFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProjectFailures++
}

// RecordMappingSeeded increments the title-seeded mapping counter.
func (m *Metrics) RecordMappingSeeded() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MappingsSeeded++
}

// RecordIssueCreated increments the created issue counter for a side.
func (m *Metrics) RecordIssueCreated(side string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IssuesCreated[side]++
}

// RecordMappingDeleted increments the swept mapping counter.
func (m *Metrics) RecordMappingDeleted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MappingsDeleted++
}

// RecordPatchApplied increments the applied patch counter for a side.
func (m *Metrics) RecordPatchApplied(side string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PatchesApplied[side]++
}

// RecordPatchFailure increments the failed patch counter.
func (m *Metrics) RecordPatchFailure() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PatchFailures++
}

// RecordConflictMerged increments the field-merged conflict counter.
func (m *Metrics) RecordConflictMerged() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConflictsMerged++
}

// RecordUserPaired increments the correlated user counter.
func (m *Metrics) RecordUserPaired() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UsersPaired++
}

// --- Gauge updates ---

// SetLinkedProjects updates the linked project gauge.
func (m *Metrics) SetLinkedProjects(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinkedProjects = n
}

// SetTrackedMappings updates the mapping count gauge.
func (m *Metrics) SetTrackedMappings(n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrackedMappings = n
}

// --- Histogram recording ---

// RecordPassDuration records how long a pass took end to end.
func (m *Metrics) RecordPassDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PassDurations = append(m.PassDurations, d)
	if len(m.PassDurations) > m.maxSamples {
		m.PassDurations = m.PassDurations[len(m.PassDurations)-m.maxSamples:]
	}
}

// --- Read accessors ---

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{SnapshotAt: time.Now()}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Passes:          copyStringIntMap(m.Passes),
		ProjectsSynced:  m.ProjectsSynced,
		ProjectFailures: m.ProjectFailures,
		MappingsSeeded:  m.MappingsSeeded,
		IssuesCreated:   copyStringIntMap(m.IssuesCreated),
		MappingsDeleted: m.MappingsDeleted,
		PatchesApplied:  copyStringIntMap(m.PatchesApplied),
		PatchFailures:   m.PatchFailures,
		ConflictsMerged: m.ConflictsMerged,
		UsersPaired:     m.UsersPaired,
		LinkedProjects:  m.LinkedProjects,
		TrackedMappings: m.TrackedMappings,
		AvgPassDuration: avgDuration(m.PassDurations),
		SnapshotAt:      time.Now(),
	}

	total := int64(0)
	for _, v := range m.Passes {
		total += v
	}
	if total > 0 {
		snap.PassSuccessRate = float64(m.Passes["success"]) / float64(total)
	}

	return snap
}

// PassDurationSamples returns a copy of the raw pass duration samples.
func (m *Metrics) PassDurationSamples() []time.Duration {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.PassDurations == nil {
		return nil
	}
	dst := make([]time.Duration, len(m.PassDurations))
	copy(dst, m.PassDurations)
	return dst
}

// MetricsSnapshot is a read-only copy of metrics at a point in time.
type MetricsSnapshot struct {
	// Counters
	Passes          map[string]int64
	ProjectsSynced  int64
	ProjectFailures int64
	MappingsSeeded  int64
	IssuesCreated   map[string]int64
	MappingsDeleted int64
	PatchesApplied  map[string]int64
	PatchFailures   int64
	ConflictsMerged int64
	UsersPaired     int64

	// Gauges
	LinkedProjects  int
	TrackedMappings int

	// Computed summaries
	PassSuccessRate float64 // 0.0-1.0
	AvgPassDuration time.Duration

	SnapshotAt time.Time
}

// TotalPasses returns the sum across all pass results.
func (s MetricsSnapshot) TotalPasses() int64 {
	var total int64
	for _, v := range s.Passes {
		total += v
	}
	return total
}

// --- helpers ---

func copyStringIntMap(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func avgDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples))
}
