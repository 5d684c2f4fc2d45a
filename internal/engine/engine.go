// Package engine implements the reconciliation pipeline: reference
// refresh, project discovery, member correlation, pair discovery, and
// three-way convergence of every mapped issue pair against its canonical
// snapshot.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alekspetrov/tether/internal/adapters"
	"github.com/alekspetrov/tether/internal/logging"
	"github.com/alekspetrov/tether/internal/store"
)

// Config carries the engine's own knobs. Adapter credentials live with
// the adapters; this is only what the pipeline itself needs.
type Config struct {
	// CategoryKeys is the ordered label/tracker vocabulary shared by both
	// platforms. Issues outside it are never seeded or created.
	CategoryKeys []string

	// CustomFieldName is the tracker-side project field holding the forge
	// repository URL.
	CustomFieldName string

	// TrackerLinkBase and ForgeLinkBase are the public URL prefixes used
	// when composing Source: backlinks.
	TrackerLinkBase string
	ForgeLinkBase   string

	// ProjectConcurrency bounds how many projects sync at once. Work
	// within one project is always sequential.
	ProjectConcurrency int

	// DryRun logs every intended mutation instead of performing it.
	// Canonical snapshots are not advanced.
	DryRun bool
}

// Engine runs the full synchronization pipeline over the two platforms
// and the mapping store.
type Engine struct {
	cfg     Config
	tracker adapters.Tracker
	forge   adapters.Forge
	store   *store.Store
	metrics *Metrics
}

func New(cfg Config, tracker adapters.Tracker, forge adapters.Forge, st *store.Store, metrics *Metrics) *Engine {
	if cfg.ProjectConcurrency < 1 {
		cfg.ProjectConcurrency = 1
	}
	if cfg.CustomFieldName == "" {
		cfg.CustomFieldName = "Gitlab Repo"
	}
	return &Engine{
		cfg:     cfg,
		tracker: tracker,
		forge:   forge,
		store:   st,
		metrics: metrics,
	}
}

// PassReport summarizes one pipeline execution. It feeds the status
// endpoint, the digest, and the dashboard.
type PassReport struct {
	PassID     string           `json:"pass_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	DryRun     bool             `json:"dry_run,omitempty"`
	Error      string           `json:"error,omitempty"`
	Projects   []*ProjectReport `json:"projects"`
}

// ProjectReport summarizes the work done for one linked project.
type ProjectReport struct {
	Project         string `json:"project"`
	UsersPaired     int    `json:"users_paired"`
	MappingsSeeded  int    `json:"mappings_seeded"`
	CreatedForge    int    `json:"created_forge"`
	CreatedTracker  int    `json:"created_tracker"`
	MappingsDeleted int    `json:"mappings_deleted"`
	PatchesApplied  int    `json:"patches_applied"`
	Conflicts       int    `json:"conflicts"`
	Reconciled      int    `json:"reconciled"`
	Failures        int    `json:"failures"`
	Error           string `json:"error,omitempty"`
}

// storageError marks a mapping-store failure. Unlike remote errors,
// which stay inside their project (or their single pair), a broken store
// fails the whole pass.
type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string { return fmt.Sprintf("storage %s: %v", e.op, e.err) }
func (e *storageError) Unwrap() error { return e.err }

func storeFail(op string, err error) error {
	if err == nil {
		return nil
	}
	return &storageError{op: op, err: err}
}

// RunPass executes one full pipeline pass. The returned error is non-nil
// only for global failures: reference refresh, discovery, storage, or
// cancellation. Per-project failures are recorded in the report and
// logged, and do not fail the pass.
func (e *Engine) RunPass(ctx context.Context) (*PassReport, error) {
	passID := uuid.NewString()[:8]
	ctx = logging.WithPassID(ctx, passID)
	log := logging.WithPass(passID)
	report := &PassReport{
		PassID:    passID,
		StartedAt: time.Now().UTC(),
		DryRun:    e.cfg.DryRun,
	}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		e.metrics.RecordPassDuration(report.FinishedAt.Sub(report.StartedAt))
	}()

	fail := func(err error) (*PassReport, error) {
		e.metrics.RecordPass("failed")
		report.Error = err.Error()
		log.Error("pass failed", "error", err)
		return report, err
	}

	log.Info("pass started", "dry_run", e.cfg.DryRun)

	if err := e.refreshReferences(ctx); err != nil {
		return fail(fmt.Errorf("refreshing reference cache: %w", err))
	}
	if err := e.discoverProjects(ctx, log); err != nil {
		return fail(fmt.Errorf("discovering projects: %w", err))
	}

	projects, err := e.store.LinkedProjects(ctx)
	if err != nil {
		return fail(storeFail("listing linked projects", err))
	}
	e.metrics.SetLinkedProjects(len(projects))

	var (
		mu    sync.Mutex
		fatal error
		g     errgroup.Group
	)
	g.SetLimit(e.cfg.ProjectConcurrency)
	for _, p := range projects {
		p := p
		g.Go(func() error {
			pr, err := e.syncProject(ctx, passID, p)
			mu.Lock()
			defer mu.Unlock()
			report.Projects = append(report.Projects, pr)
			if err != nil && fatal == nil {
				fatal = err
			}
			return nil
		})
	}
	g.Wait()

	if fatal != nil {
		return fail(fatal)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if n, err := e.store.CountMappings(ctx, 0); err == nil {
		e.metrics.SetTrackedMappings(n)
	}

	e.metrics.RecordPass("success")
	log.Info("pass finished",
		"projects", len(report.Projects),
		"duration", time.Since(report.StartedAt).Round(time.Millisecond))
	return report, nil
}

// syncProject runs member correlation, pair discovery, and reconciliation
// for one linked project. The returned error is non-nil only for storage
// failures or cancellation; remote failures end up in the report.
func (e *Engine) syncProject(ctx context.Context, passID string, p *store.Project) (*ProjectReport, error) {
	pr := &ProjectReport{Project: p.RedmineKey}
	log := logging.With("pass_id", passID, "project", p.RedmineKey)
	forgeProjectID := *p.Repo.GitLabProjectID

	caught := func(err error) (*ProjectReport, error) {
		pr.Error = err.Error()
		e.metrics.RecordProjectFailure()
		log.Error("project sync failed", "error", err)
		var se *storageError
		if errors.As(err, &se) || ctx.Err() != nil {
			return pr, err
		}
		return pr, nil
	}

	aMembers, err := e.tracker.ListMembers(ctx, p.RedmineProjectID)
	if err != nil {
		return caught(fmt.Errorf("listing tracker members: %w", err))
	}
	bMembers, err := e.forge.ListMembers(ctx, forgeProjectID)
	if err != nil {
		return caught(fmt.Errorf("listing forge members: %w", err))
	}
	paired, err := e.correlateMembers(ctx, aMembers, bMembers, log)
	if err != nil {
		return caught(err)
	}
	pr.UsersPaired = paired

	users, err := e.loadUserIndex(ctx)
	if err != nil {
		return caught(err)
	}

	aIssues, err := e.tracker.ListIssues(ctx, p.RedmineProjectID)
	if err != nil {
		return caught(fmt.Errorf("listing tracker issues: %w", err))
	}
	bIssues, err := e.forge.ListIssues(ctx, forgeProjectID)
	if err != nil {
		return caught(fmt.Errorf("listing forge issues: %w", err))
	}

	pc := newPairContext(p, users, aIssues, bIssues)

	if err := e.discoverPairs(ctx, pc, pr, log); err != nil {
		return caught(err)
	}
	if err := e.reconcileProject(ctx, pc, pr, log); err != nil {
		return caught(err)
	}

	if !e.cfg.DryRun {
		if err := e.store.TouchProjectSync(ctx, p.ID, time.Now().UTC()); err != nil {
			return caught(storeFail("touching project sync time", err))
		}
	}

	e.metrics.RecordProjectSynced()
	log.Info("project synced",
		"users_paired", pr.UsersPaired,
		"seeded", pr.MappingsSeeded,
		"created_forge", pr.CreatedForge,
		"created_tracker", pr.CreatedTracker,
		"deleted", pr.MappingsDeleted,
		"patched", pr.PatchesApplied,
		"conflicts", pr.Conflicts,
		"failures", pr.Failures)
	return pr, nil
}
