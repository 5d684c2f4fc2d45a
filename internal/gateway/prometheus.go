package gateway

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alekspetrov/tether/internal/engine"
)

// PrometheusExporter formats sync metrics for Prometheus scraping.
type PrometheusExporter struct {
	metricsSource MetricsSource
	statusSource  StatusSource
}

// MetricsSource provides metrics data for the exporter.
type MetricsSource interface {
	Snapshot() engine.MetricsSnapshot
	PassDurationSamples() []time.Duration
}

// NewPrometheusExporter creates a new Prometheus exporter. statusSource
// may be nil, in which case the driver gauges are omitted.
func NewPrometheusExporter(metrics MetricsSource, status StatusSource) *PrometheusExporter {
	return &PrometheusExporter{metricsSource: metrics, statusSource: status}
}

// passDurationBuckets covers a pass that syncs a handful of projects up
// to one crawling through large backlogs against slow remotes.
var passDurationBuckets = []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// WritePrometheus writes metrics in Prometheus text format to the writer.
func (e *PrometheusExporter) WritePrometheus(w io.Writer) error {
	snap := e.metricsSource.Snapshot()
	pw := &promWriter{w: w}

	pw.header("tether_passes_total", "Total sync passes by result", "counter")
	for result, count := range labeled(snap.Passes, "success", "failed") {
		pw.counter("tether_passes_total", count, "result", result)
	}

	pw.header("tether_projects_synced_total", "Total per-project sync rounds completed", "counter")
	pw.counter("tether_projects_synced_total", snap.ProjectsSynced)

	pw.header("tether_project_failures_total", "Total per-project sync rounds that failed", "counter")
	pw.counter("tether_project_failures_total", snap.ProjectFailures)

	pw.header("tether_mappings_seeded_total", "Total issue pairs matched by title during seeding", "counter")
	pw.counter("tether_mappings_seeded_total", snap.MappingsSeeded)

	pw.header("tether_issues_created_total", "Total issues created to pair an unmatched counterpart, by side", "counter")
	for side, count := range labeled(snap.IssuesCreated, "tracker", "forge") {
		pw.counter("tether_issues_created_total", count, "side", side)
	}

	pw.header("tether_mappings_deleted_total", "Total mappings swept after an issue disappeared", "counter")
	pw.counter("tether_mappings_deleted_total", snap.MappingsDeleted)

	pw.header("tether_patches_applied_total", "Total change patches applied, by side", "counter")
	for side, count := range labeled(snap.PatchesApplied, "tracker", "forge") {
		pw.counter("tether_patches_applied_total", count, "side", side)
	}

	pw.header("tether_patch_failures_total", "Total pairs left unconverged after a reconcile round", "counter")
	pw.counter("tether_patch_failures_total", snap.PatchFailures)

	pw.header("tether_conflicts_merged_total", "Total both-side edits resolved by field merge", "counter")
	pw.counter("tether_conflicts_merged_total", snap.ConflictsMerged)

	pw.header("tether_users_paired_total", "Total user accounts paired across platforms", "counter")
	pw.counter("tether_users_paired_total", snap.UsersPaired)

	pw.header("tether_linked_projects", "Projects linked to a repository in the last pass", "gauge")
	pw.gauge("tether_linked_projects", float64(snap.LinkedProjects))

	pw.header("tether_tracked_mappings", "Issue pair mappings currently tracked", "gauge")
	pw.gauge("tether_tracked_mappings", float64(snap.TrackedMappings))

	pw.header("tether_pass_success_rate", "Pass success rate (0-1)", "gauge")
	pw.gauge("tether_pass_success_rate", snap.PassSuccessRate)

	if e.statusSource != nil {
		st := e.statusSource.Status()

		pw.header("tether_consecutive_pass_failures", "Consecutive failed passes since the last success", "gauge")
		pw.gauge("tether_consecutive_pass_failures", float64(st.ConsecutiveFailures))

		pw.header("tether_pass_running", "Whether a sync pass is currently running (0 or 1)", "gauge")
		running := 0.0
		if st.Running {
			running = 1.0
		}
		pw.gauge("tether_pass_running", running)
	}

	pw.histogram("tether_pass_duration_seconds",
		"Wall-clock duration of a full sync pass",
		e.metricsSource.PassDurationSamples(),
		passDurationBuckets)

	return pw.err
}

// labeled copies the map with the given keys always present, missing
// ones as zero, so standard series appear even before the first event.
func labeled(m map[string]int64, keys ...string) map[string]int64 {
	out := make(map[string]int64, len(m)+len(keys))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			out[k] = 0
		}
	}
	return out
}

// promWriter emits Prometheus text format lines. The first write error
// sticks and suppresses all further output.
type promWriter struct {
	w   io.Writer
	err error
}

func (p *promWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *promWriter) header(name, help, metricType string) {
	p.printf("# HELP %s %s\n", name, help)
	p.printf("# TYPE %s %s\n", name, metricType)
}

func (p *promWriter) counter(name string, value int64, labelPairs ...string) {
	if len(labelPairs) == 0 {
		p.printf("%s %d\n", name, value)
		return
	}
	p.printf("%s{%s} %d\n", name, formatLabels(labelPairs), value)
}

func (p *promWriter) gauge(name string, value float64) {
	p.printf("%s %g\n", name, value)
}

// histogram writes cumulative buckets over the samples. Buckets must
// ascend.
func (p *promWriter) histogram(name, help string, samples []time.Duration, buckets []float64) {
	p.header(name, help, "histogram")

	seconds := make([]float64, len(samples))
	var sum float64
	for i, d := range samples {
		seconds[i] = d.Seconds()
		sum += seconds[i]
	}
	sort.Float64s(seconds)

	idx := 0
	for _, bucket := range buckets {
		for idx < len(seconds) && seconds[idx] <= bucket {
			idx++
		}
		p.printf("%s_bucket{le=\"%g\"} %d\n", name, bucket, idx)
	}
	p.printf("%s_bucket{le=\"+Inf\"} %d\n", name, len(seconds))
	p.printf("%s_sum %g\n", name, sum)
	p.printf("%s_count %d\n", name, len(seconds))
}

// formatLabels renders key-value pairs as a Prometheus label set.
func formatLabels(pairs []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=\"%s\"", pairs[i], escapeLabel(pairs[i+1]))
	}
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// escapeLabel escapes backslashes, quotes, and newlines in label values.
func escapeLabel(s string) string {
	return labelEscaper.Replace(s)
}
