package stress

import (
	"context"
	"testing"
	"time"

	"github.com/alekspetrov/tether/internal/engine"
)

// TestStress_ConcurrentProjectFanout verifies that a pass over 20 linked
// projects completes without deadlocks, with the concurrency limit
// enforced, and with stable resource usage.
func TestStress_ConcurrentProjectFanout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		numProjects      = 20
		issuesPerProject = 3
		maxConcurrent    = 5
		holdTime         = 25 * time.Millisecond
		testTimeout      = 2 * time.Minute
	)

	h := newHarness(t, numProjects, issuesPerProject, maxConcurrent, holdTime)

	metrics := NewMetrics()
	h.meter.metrics = metrics
	stop := sampleWhile(metrics)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	report := h.runPass(ctx, t)

	stop()
	metrics.Finalize()

	if len(report.Projects) != numProjects {
		t.Errorf("synced %d projects, want %d", len(report.Projects), numProjects)
	}
	created := 0
	for _, pr := range report.Projects {
		if pr.Error != "" {
			t.Errorf("project %s failed: %s", pr.Project, pr.Error)
		}
		created += pr.CreatedForge
	}
	if want := numProjects * issuesPerProject; created != want {
		t.Errorf("created %d forge issues, want %d", created, want)
	}
	if n := h.forge.issueCount(); n != numProjects*issuesPerProject {
		t.Errorf("forge holds %d issues, want %d", n, numProjects*issuesPerProject)
	}

	// Verify the limit bounded the fan-out
	peak := h.meter.peakConcurrent()
	if peak > maxConcurrent {
		t.Errorf("peak concurrent %d exceeded limit %d", peak, maxConcurrent)
	}
	if v := h.meter.violationCount(); v > 0 {
		t.Errorf("concurrency limit violated %d times", v)
	}
	// With 20 projects contending for 5 slots and every call held open,
	// at least two projects must have been in flight together.
	if peak < 2 {
		t.Errorf("peak concurrent %d, want overlap between projects", peak)
	}

	t.Logf("synced %d/%d projects, created %d forge issues", len(report.Projects), numProjects, created)
	t.Logf("peak concurrent %d (limit %d), %d remote calls in %v (%.1f/s)",
		peak, maxConcurrent, h.meter.callCount(), metrics.Duration(), metrics.CallsPerSecond())
	t.Logf("peak goroutines %d, heap growth %d bytes", metrics.GetPeakGoroutines(), metrics.MemoryGrowth())
}

// TestStress_ConcurrencyLimitEnforcement specifically verifies the
// errgroup limit bounds parallelism across projects.
func TestStress_ConcurrencyLimitEnforcement(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		numProjects   = 30
		maxConcurrent = 3
		holdTime      = 20 * time.Millisecond
	)

	h := newHarness(t, numProjects, 1, maxConcurrent, holdTime)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report := h.runPass(ctx, t)

	if len(report.Projects) != numProjects {
		t.Errorf("synced %d projects, want %d", len(report.Projects), numProjects)
	}
	if v := h.meter.violationCount(); v > 0 {
		t.Errorf("concurrency limit violated %d times", v)
	}
	if peak := h.meter.peakConcurrent(); peak > maxConcurrent {
		t.Errorf("peak concurrent %d exceeded limit %d", peak, maxConcurrent)
	}
}

// TestStress_SequentialWhenConcurrencyOne verifies that a limit of one
// serializes project syncs completely.
func TestStress_SequentialWhenConcurrencyOne(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	h := newHarness(t, 10, 2, 1, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report := h.runPass(ctx, t)

	if len(report.Projects) != 10 {
		t.Errorf("synced %d projects, want 10", len(report.Projects))
	}
	if peak := h.meter.peakConcurrent(); peak != 1 {
		t.Errorf("peak concurrent = %d, want 1", peak)
	}
}

// TestStress_NoDeadlock verifies a large pass makes progress and
// terminates under maximum throughput.
func TestStress_NoDeadlock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		numProjects      = 40
		issuesPerProject = 5
		maxConcurrent    = 10
		timeout          = 30 * time.Second
	)

	h := newHarness(t, numProjects, issuesPerProject, maxConcurrent, 0)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		report *engine.PassReport
		runErr error
	)
	finished := make(chan struct{})
	go func() {
		report, runErr = h.eng.RunPass(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(timeout):
		t.Fatalf("possible deadlock: pass still running after %v, %d/%d forge issues created",
			timeout, h.forge.issueCount(), numProjects*issuesPerProject)
	}

	if runErr != nil {
		t.Fatalf("RunPass() error = %v", runErr)
	}
	if report.Error != "" {
		t.Fatalf("pass failed: %s", report.Error)
	}
	if n := h.forge.issueCount(); n != numProjects*issuesPerProject {
		t.Errorf("forge holds %d issues, want %d", n, numProjects*issuesPerProject)
	}
}

// TestStress_GoroutineStability verifies goroutine count stabilizes after
// repeated passes.
func TestStress_GoroutineStability(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	baseline := settledGoroutines()

	h := newHarness(t, 15, 4, 5, 0)

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		h.runPass(ctx, t)
		cancel()
	}

	// Allow goroutines to clean up
	time.Sleep(500 * time.Millisecond)
	final := settledGoroutines()

	// Allow some tolerance (test runner goroutines, the store's idle
	// connection pool, etc.)
	tolerance := 5
	if final > baseline+tolerance {
		t.Errorf("goroutine leak: baseline=%d, final=%d, leaked=%d",
			baseline, final, final-baseline)
	}

	t.Logf("goroutines: baseline=%d, final=%d", baseline, final)
}

// TestStress_RapidCancellation tests graceful pass abort under
// cancellation while calls are held open.
func TestStress_RapidCancellation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	h := newHarness(t, 30, 2, 10, 2*time.Second)

	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan error, 1)
	go func() {
		_, err := h.eng.RunPass(ctx)
		finished <- err
	}()

	// Let some projects start syncing
	time.Sleep(100 * time.Millisecond)

	// Cancel abruptly
	cancel()

	select {
	case err := <-finished:
		if err == nil {
			t.Error("cancelled pass reported success")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("pass did not stop after cancellation")
	}
}
